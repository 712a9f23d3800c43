package config

import "testing"

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MACHINE_TOKEN", "")

	cfg := Load()
	if cfg.AuthSecret != "" {
		t.Fatalf("expected empty AUTH_SECRET when unset, got %q", cfg.AuthSecret)
	}
	if cfg.MachineToken != "" {
		t.Fatalf("expected empty MACHINE_TOKEN when unset, got %q", cfg.MachineToken)
	}
}

func TestLoadRejectsBadDurations(t *testing.T) {
	t.Setenv("STATS_TTL_SECONDS", "not-a-number")
	t.Setenv("OFFLINE_AFTER_SECONDS", "-5")

	cfg := Load()
	if cfg.StatsTTLSeconds != 10 {
		t.Fatalf("expected stats TTL fallback 10, got %d", cfg.StatsTTLSeconds)
	}
	if cfg.OfflineAfterSeconds != 120 {
		t.Fatalf("expected offline threshold fallback 120, got %d", cfg.OfflineAfterSeconds)
	}
}
