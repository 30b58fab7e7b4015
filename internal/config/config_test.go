package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_FILE_PATH", filepath.Join(t.TempDir(), "missing.env"))
	for _, key := range []string{"PROJECT_ID", "SESSION_SECRET", "WATCH_TOPIC", "WATCH_LABELS", "SESSION_BACKEND", "STORE_BACKEND", "SECRET_BACKEND", "REDIS_URL", "MONGO_URI", "CALL_TIMEOUT", "OAUTH_SECRET_NAME", "WATCH_ENABLED", "WATCH_RENEW_INTERVAL", "WATCH_RENEW_BEFORE"} {
		t.Setenv(key, "")
		os.Unsetenv(key)
	}
}

func TestLoadDefaults(t *testing.T) {
	isolate(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.ProjectID != DefaultProjectID {
		t.Errorf("ProjectID = %q", cfg.ProjectID)
	}
	if cfg.WatchTopic != "projects/gmail-labels-421404/topics/gmail-notifications" {
		t.Errorf("WatchTopic = %q", cfg.WatchTopic)
	}
	if len(cfg.WatchLabels) != 1 || cfg.WatchLabels[0] != "INBOX" {
		t.Errorf("WatchLabels = %v", cfg.WatchLabels)
	}
	if !cfg.SessionSecretGenerated || len(cfg.SessionSecret) != 64 {
		t.Errorf("expected generated 32-byte session secret, got generated=%v len=%d", cfg.SessionSecretGenerated, len(cfg.SessionSecret))
	}
	if cfg.CallTimeout != 15*time.Second {
		t.Errorf("CallTimeout = %v", cfg.CallTimeout)
	}
	if cfg.OAuthSecretName != DefaultSecretFile {
		t.Errorf("OAuthSecretName = %q", cfg.OAuthSecretName)
	}
	if cfg.Addr() != "0.0.0.0:8080" {
		t.Errorf("Addr() = %q", cfg.Addr())
	}
}

func TestLoadFromDotEnv(t *testing.T) {
	isolate(t)
	path := filepath.Join(t.TempDir(), "test.env")
	content := "PROJECT_ID=demo\nSESSION_SECRET=fixed\nWATCH_LABELS=INBOX, IMPORTANT ,\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Setenv("ENV_FILE_PATH", path)
	t.Cleanup(func() {
		os.Unsetenv("PROJECT_ID")
		os.Unsetenv("SESSION_SECRET")
		os.Unsetenv("WATCH_LABELS")
	})

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WatchTopic != "projects/demo/topics/gmail-notifications" {
		t.Errorf("WatchTopic = %q", cfg.WatchTopic)
	}
	if cfg.SessionSecret != "fixed" || cfg.SessionSecretGenerated {
		t.Errorf("expected supplied session secret, got %q generated=%v", cfg.SessionSecret, cfg.SessionSecretGenerated)
	}
	if len(cfg.WatchLabels) != 2 || cfg.WatchLabels[1] != "IMPORTANT" {
		t.Errorf("WatchLabels = %v", cfg.WatchLabels)
	}
}

func TestLoadRejectsIncompleteBackends(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
	}{
		{name: "redis without url", env: map[string]string{"SESSION_BACKEND": "redis"}},
		{name: "mongo without uri", env: map[string]string{"STORE_BACKEND": "mongo"}},
		{name: "unknown secret backend", env: map[string]string{"SECRET_BACKEND": "vault"}},
		{name: "zero timeout", env: map[string]string{"CALL_TIMEOUT": "0s"}},
		{name: "zero renew interval", env: map[string]string{"WATCH_RENEW_INTERVAL": "0s"}},
		{name: "negative renew interval", env: map[string]string{"WATCH_RENEW_INTERVAL": "-1h"}},
		{name: "zero renew window", env: map[string]string{"WATCH_RENEW_BEFORE": "0s"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolate(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestSecretNameDefaultsPerBackend(t *testing.T) {
	tests := []struct {
		backend string
		name    string
		want    string
	}{
		{backend: "file", want: DefaultSecretFile},
		{backend: "gcp", want: DefaultSecretID},
		{backend: "aws", want: DefaultSecretID},
		{backend: "gcp", name: "broker-client", want: "broker-client"},
	}
	for _, tt := range tests {
		t.Run(tt.backend+"/"+tt.want, func(t *testing.T) {
			isolate(t)
			t.Setenv("SECRET_BACKEND", tt.backend)
			if tt.name != "" {
				t.Setenv("OAUTH_SECRET_NAME", tt.name)
			}
			cfg, err := Load()
			if err != nil {
				t.Fatalf("Load() error = %v", err)
			}
			if cfg.OAuthSecretName != tt.want {
				t.Fatalf("OAuthSecretName = %q, want %q", cfg.OAuthSecretName, tt.want)
			}
		})
	}
}

func TestRenewSettingsIgnoredWhenWatchDisabled(t *testing.T) {
	isolate(t)
	t.Setenv("WATCH_ENABLED", "false")
	t.Setenv("WATCH_RENEW_INTERVAL", "0s")
	if _, err := Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}
}
