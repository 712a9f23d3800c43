package main

import (
	"testing"

	"mbraces/backend/internal/config"
)

func TestValidateSecurityConfigRejectsWeakValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{AuthSecret: "short"})
	if err == nil {
		t.Fatalf("expected weak security config to be rejected")
	}

	err = validateSecurityConfig(config.Config{
		AuthSecret:   "0123456789abcdef0123456789abcdef",
		DatabaseURL:  "postgres://localhost/mbraces",
		MachineToken: "tiny",
	})
	if err == nil {
		t.Fatalf("expected short machine token to be rejected with postgres configured")
	}
}

func TestValidateSecurityConfigAcceptsStrongValues(t *testing.T) {
	err := validateSecurityConfig(config.Config{
		AuthSecret:   "0123456789abcdef0123456789abcdef",
		DatabaseURL:  "postgres://localhost/mbraces",
		MachineToken: "0123456789abcdef",
	})
	if err != nil {
		t.Fatalf("expected strong config to pass, got %v", err)
	}
}
