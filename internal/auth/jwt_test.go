/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package auth

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestIssueAndParse(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{RoomCode: "ABCDEF", Name: "Alice"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := Parse(secret, token)
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if claims.RoomCode != "ABCDEF" {
		t.Fatalf("room code = %q, want ABCDEF", claims.RoomCode)
	}
	if claims.Name != "Alice" {
		t.Fatalf("name = %q, want Alice", claims.Name)
	}
}

func TestParseRejectsWrongSecret(t *testing.T) {
	token, err := Issue([]byte("secret-a"), Claims{RoomCode: "ABCDEF"}, time.Hour)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse([]byte("secret-b"), token); err == nil {
		t.Fatal("expected parse failure for wrong secret")
	}
}

func TestParseRejectsExpiredToken(t *testing.T) {
	secret := []byte("test-secret")
	token, err := Issue(secret, Claims{RoomCode: "ABCDEF"}, -time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := Parse(secret, token); err == nil {
		t.Fatal("expected parse failure for expired token")
	}
}

func TestParseRejectsUnexpectedAlgorithm(t *testing.T) {
	secret := []byte("test-secret")
	now := time.Now()
	claims := Claims{
		RoomCode: "ABCDEF",
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			IssuedAt:  jwt.NewNumericDate(now),
			Subject:   "ABCDEF",
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodNone, claims)
	signed, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := Parse(secret, signed); err == nil {
		t.Fatal("expected parse failure for none algorithm")
	}
}
