/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package eventbus replicates room lifecycle events between instances.
// Each instance forwards its local bus traffic to a broker and republishes
// remote traffic locally, tagged with the originating node so it is never
// forwarded again.
package eventbus

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/friendsincode/mixroom/internal/events"
)

// originKey marks payloads that arrived from another instance. The forward
// loop skips them to avoid echo storms.
const originKey = "origin"

// Mirror is a cross-instance event replicator.
type Mirror interface {
	// Run forwards local events until the channel returned by the local
	// bus subscription is closed via Close.
	Run()
	Close() error
}

// wireMessage is the broker envelope shared by every mirror backend.
type wireMessage struct {
	EventType events.EventType `json:"event_type"`
	Payload   events.Payload   `json:"payload"`
	Timestamp time.Time        `json:"timestamp"`
	NodeID    string           `json:"node_id"`
}

func marshalWire(eventType events.EventType, payload events.Payload, nodeID string) ([]byte, error) {
	return json.Marshal(wireMessage{
		EventType: eventType,
		Payload:   payload,
		Timestamp: time.Now(),
		NodeID:    nodeID,
	})
}

func unmarshalWire(data []byte) (*wireMessage, error) {
	var msg wireMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("unmarshal mirror message: %w", err)
	}
	return &msg, nil
}

// nodeID returns the provided instance id or generates one.
func nodeID(instanceID string) string {
	if instanceID != "" {
		return instanceID
	}
	return "node-" + uuid.New().String()[:8]
}

// localEvent splits a SubscribeAll payload back into type and payload,
// dropping the tag keys.
func localEvent(tagged events.Payload) (events.EventType, events.Payload, bool) {
	typ, _ := tagged["event"].(string)
	if typ == "" {
		return "", nil, false
	}
	if _, remote := tagged[originKey]; remote {
		return "", nil, false
	}
	payload := make(events.Payload, len(tagged))
	for k, v := range tagged {
		if k == "event" {
			continue
		}
		payload[k] = v
	}
	return events.EventType(typ), payload, true
}
