/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import "testing"

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 8080 {
		t.Fatalf("http port = %d, want 8080", cfg.HTTPPort)
	}
	if cfg.BeaconInterval.Milliseconds() != 250 {
		t.Fatalf("beacon interval = %v, want 250ms", cfg.BeaconInterval)
	}
	if cfg.OwnershipTTLMs != 2000 {
		t.Fatalf("ownership ttl = %d, want 2000", cfg.OwnershipTTLMs)
	}
	if cfg.Persistence != PersistenceNone {
		t.Fatalf("persistence = %s, want none", cfg.Persistence)
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("MIXROOM_HTTP_PORT", "9090")
	t.Setenv("MIXROOM_OWNERSHIP_MODE", "permissive")
	t.Setenv("MIXROOM_ALLOWED_ORIGINS", "https://a.example.com, https://b.example.com")
	t.Setenv("MIXROOM_PERSISTENCE", "redis")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.HTTPPort != 9090 {
		t.Fatalf("http port = %d, want 9090", cfg.HTTPPort)
	}
	if cfg.OwnershipMode != "permissive" {
		t.Fatalf("ownership mode = %s", cfg.OwnershipMode)
	}
	if len(cfg.AllowedOrigins) != 2 || cfg.AllowedOrigins[1] != "https://b.example.com" {
		t.Fatalf("allowed origins = %v", cfg.AllowedOrigins)
	}
}

func TestLoadRejectsBadValues(t *testing.T) {
	t.Setenv("MIXROOM_OWNERSHIP_MODE", "anarchic")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for bad ownership mode")
	}
}

func TestLoadRejectsBadEventBus(t *testing.T) {
	t.Setenv("MIXROOM_EVENT_BUS", "kafka")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for unsupported event bus")
	}

	t.Setenv("MIXROOM_EVENT_BUS", "nats")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.EventBus != "nats" {
		t.Fatalf("event bus = %s", cfg.EventBus)
	}
}

func TestLoadProductionRequirements(t *testing.T) {
	t.Setenv("MIXROOM_ENV", "production")
	if _, err := Load(); err == nil {
		t.Fatal("expected production load to fail without signing key and origins")
	}

	t.Setenv("MIXROOM_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("MIXROOM_ALLOWED_ORIGINS", "https://rooms.example.com")
	if _, err := Load(); err != nil {
		t.Fatalf("production load: %v", err)
	}
}

func TestLoadS3PersistenceRequiresBucket(t *testing.T) {
	t.Setenv("MIXROOM_PERSISTENCE", "s3")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for s3 persistence without bucket")
	}

	t.Setenv("MIXROOM_S3_BUCKET", "mixroom-snapshots")
	if _, err := Load(); err != nil {
		t.Fatalf("s3 load: %v", err)
	}
}
