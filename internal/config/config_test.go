package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerPort != 8080 {
		t.Errorf("ServerPort = %d, want 8080", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want production", cfg.ServerEnv)
	}
	if cfg.IsDevelopment() {
		t.Error("IsDevelopment() = true for the default production env")
	}
	if cfg.ContactRequestLimit != 100 {
		t.Errorf("ContactRequestLimit = %d, want 100", cfg.ContactRequestLimit)
	}
	if cfg.HeartbeatInterval != 10*time.Minute {
		t.Errorf("HeartbeatInterval = %v, want 10m", cfg.HeartbeatInterval)
	}
	if !cfg.DisposableEmailBlocklist {
		t.Error("DisposableEmailBlocklist = false, want true by default")
	}
}

func TestLoadReadsEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("CONTACT_REQUEST_LIMIT", "5")
	t.Setenv("HEARTBEAT_INTERVAL", "30s")
	t.Setenv("DISPOSABLE_EMAIL_BLOCKLIST_ENABLED", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true for SERVER_ENV=development")
	}
	if cfg.ContactRequestLimit != 5 {
		t.Errorf("ContactRequestLimit = %d, want 5", cfg.ContactRequestLimit)
	}
	if cfg.HeartbeatInterval != 30*time.Second {
		t.Errorf("HeartbeatInterval = %v, want 30s", cfg.HeartbeatInterval)
	}
	if cfg.DisposableEmailBlocklist {
		t.Error("DisposableEmailBlocklist = true, want false")
	}
}

func TestLoadRejectsMalformedValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"bad port", map[string]string{"PORT": "not-a-number"}},
		{"bad duration", map[string]string{"HEARTBEAT_INTERVAL": "soon"}},
		{"bad bool", map[string]string{"DISPOSABLE_EMAIL_BLOCKLIST_ENABLED": "maybe"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() returned nil error for a malformed value")
			}
		})
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{"port zero", map[string]string{"PORT": "0"}},
		{"port too large", map[string]string{"PORT": "70000"}},
		{"contact limit zero", map[string]string{"CONTACT_REQUEST_LIMIT": "0"}},
		{"heartbeat below a second", map[string]string{"HEARTBEAT_INTERVAL": "100ms"}},
		{"verification attempts zero", map[string]string{"VERIFICATION_MAX_ATTEMPTS": "0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("Load() returned nil error for an out-of-range value")
			}
		})
	}
}
