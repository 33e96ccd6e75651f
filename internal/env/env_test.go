package env

import (
	"testing"
	"time"
)

var allVars = []string{
	JobsVar, LockTimeoutVar, RetriesVar,
	S3EndpointVar, S3RegionVar, S3AccessKeyVar, S3SecretKeyVar,
}

// setEnv clears every variable Load reads, then applies vars.
func setEnv(t *testing.T, vars map[string]string) {
	t.Helper()
	for _, key := range allVars {
		t.Setenv(key, "")
	}
	for key, value := range vars {
		t.Setenv(key, value)
	}
}

func TestLoadDefaults(t *testing.T) {
	setEnv(t, nil)
	cfg := Load()
	if cfg != Default() {
		t.Errorf("Load() = %+v, want %+v", cfg, Default())
	}
	if cfg.LockTimeout != 20*time.Minute {
		t.Errorf("LockTimeout = %v, want 20m", cfg.LockTimeout)
	}
	if cfg.StaleThreshold != 15*time.Minute {
		t.Errorf("StaleThreshold = %v, want 15m", cfg.StaleThreshold)
	}
}

func TestLoadOverrides(t *testing.T) {
	tests := []struct {
		name string
		vars map[string]string
		want Config
	}{
		{
			name: "all set",
			vars: map[string]string{JobsVar: "6", LockTimeoutVar: "1500", RetriesVar: "5"},
			want: Config{Jobs: 6, LockTimeout: 1500 * time.Millisecond, StaleThreshold: DefaultStaleThreshold, MaxRetries: 5},
		},
		{
			name: "not positive falls back",
			vars: map[string]string{JobsVar: "0", LockTimeoutVar: "-1", RetriesVar: "0"},
			want: Default(),
		},
		{
			name: "single override",
			vars: map[string]string{RetriesVar: "1"},
			want: Config{LockTimeout: DefaultLockTimeout, StaleThreshold: DefaultStaleThreshold, MaxRetries: 1},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setEnv(t, tt.vars)
			if got := Load(); got != tt.want {
				t.Errorf("Load() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestConfigKeepsDefaultsForGarbage(t *testing.T) {
	// A value the binder cannot parse leaves the field zero.
	if got := (vars{}).config(); got != Default() {
		t.Errorf("config() = %+v, want defaults", got)
	}
}

func TestLoadS3(t *testing.T) {
	setEnv(t, map[string]string{
		S3EndpointVar:  "https://acct.r2.cloudflarestorage.com ",
		S3RegionVar:    "auto",
		S3AccessKeyVar: "key",
	})
	want := S3{Endpoint: "https://acct.r2.cloudflarestorage.com", Region: "auto", AccessKeyID: "key"}
	if got := Load().S3; got != want {
		t.Errorf("S3 = %+v, want %+v", got, want)
	}
}
