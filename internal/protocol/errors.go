/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package protocol

import "fmt"

// ErrorCode is the closed set of rejection reasons carried in acks.
type ErrorCode string

const (
	CodeInvalidPayload ErrorCode = "INVALID_PAYLOAD"

	CodeNotInRoom      ErrorCode = "NOT_IN_ROOM"
	CodeRoomMismatch   ErrorCode = "ROOM_MISMATCH"
	CodeClientMismatch ErrorCode = "CLIENT_MISMATCH"

	CodeRoomNotFound      ErrorCode = "ROOM_NOT_FOUND"
	CodeDeckNotFound      ErrorCode = "DECK_NOT_FOUND"
	CodeQueueItemNotFound ErrorCode = "QUEUE_ITEM_NOT_FOUND"

	CodeInvalidControlID ErrorCode = "INVALID_CONTROL_ID"
	CodeValueOutOfBounds ErrorCode = "VALUE_OUT_OF_BOUNDS"

	CodeInvalidSeekPosition   ErrorCode = "INVALID_SEEK_POSITION"
	CodeInvalidQueueIndex     ErrorCode = "INVALID_QUEUE_INDEX"
	CodeInvalidCursorPosition ErrorCode = "INVALID_CURSOR_POSITION"

	CodeNotHost          ErrorCode = "NOT_HOST"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	CodeRateLimited ErrorCode = "RATE_LIMITED"
	CodeDuplicate   ErrorCode = "DUPLICATE"

	CodeContestedControl ErrorCode = "CONTESTED_CONTROL"

	CodeCannotRemoveLoadedItem ErrorCode = "CANNOT_REMOVE_LOADED_ITEM"
)

// ValidationError is a rejection with a taxonomy code. It travels from the
// validators and apply function out to the ack writer.
type ValidationError struct {
	Code    ErrorCode
	Message string
}

func (e *ValidationError) Error() string {
	if e.Message == "" {
		return string(e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Reject builds a ValidationError.
func Reject(code ErrorCode, format string, args ...any) *ValidationError {
	return &ValidationError{Code: code, Message: fmt.Sprintf(format, args...)}
}
