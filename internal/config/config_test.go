package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "server:\n  port: 9000\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Errorf("Server.Port = %d, want 9000", cfg.Server.Port)
	}
	if cfg.Matching.Threshold != 0.6 {
		t.Errorf("Matching.Threshold = %v, want 0.6", cfg.Matching.Threshold)
	}
	if cfg.Matching.Dimensionality != 128 {
		t.Errorf("Matching.Dimensionality = %d, want 128", cfg.Matching.Dimensionality)
	}
	if cfg.Matching.TieBreak != "ascending_id" {
		t.Errorf("Matching.TieBreak = %q, want ascending_id", cfg.Matching.TieBreak)
	}
	if cfg.Enrollment.Policy != "reject" {
		t.Errorf("Enrollment.Policy = %q, want reject", cfg.Enrollment.Policy)
	}
	if cfg.Session.TTL != 12*time.Hour {
		t.Errorf("Session.TTL = %v, want 12h", cfg.Session.TTL)
	}
	if cfg.Session.ResetTTL != time.Hour {
		t.Errorf("Session.ResetTTL = %v, want 1h", cfg.Session.ResetTTL)
	}
	if cfg.Vision.ExtractTimeout != 5*time.Second {
		t.Errorf("Vision.ExtractTimeout = %v, want 5s", cfg.Vision.ExtractTimeout)
	}
}

func TestLoadFromYAML(t *testing.T) {
	body := `
matching:
  threshold: 0.45
  dimensionality: 512
  index: hnsw
enrollment:
  policy: replace
session:
  ttl: 30m
vision:
  extract_timeout: 2s
`
	cfg, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matching.Threshold != 0.45 || cfg.Matching.Dimensionality != 512 || cfg.Matching.Index != IndexHNSW {
		t.Errorf("Matching = %+v", cfg.Matching)
	}
	if cfg.Enrollment.Policy != "replace" {
		t.Errorf("Enrollment.Policy = %q, want replace", cfg.Enrollment.Policy)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Errorf("Session.TTL = %v, want 30m", cfg.Session.TTL)
	}
	if cfg.Vision.ExtractTimeout != 2*time.Second {
		t.Errorf("Vision.ExtractTimeout = %v, want 2s", cfg.Vision.ExtractTimeout)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("FACEID_MATCH_THRESHOLD", "0.5")
	t.Setenv("FACEID_ENROLLMENT_POLICY", "replace")
	t.Setenv("FACEID_DB_PORT", "6543")
	t.Setenv("FACEID_SESSION_SECRET", "s3cret")

	cfg, err := Load(writeConfig(t, "matching:\n  threshold: 0.3\n"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Matching.Threshold != 0.5 {
		t.Errorf("Matching.Threshold = %v, want env override 0.5", cfg.Matching.Threshold)
	}
	if cfg.Enrollment.Policy != "replace" {
		t.Errorf("Enrollment.Policy = %q, want replace", cfg.Enrollment.Policy)
	}
	if cfg.Database.Port != 6543 {
		t.Errorf("Database.Port = %d, want 6543", cfg.Database.Port)
	}
	if cfg.Session.Secret != "s3cret" {
		t.Errorf("Session.Secret not applied")
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{"negative threshold", "matching:\n  threshold: -1\n", "threshold"},
		{"negative dimensionality", "matching:\n  dimensionality: -3\n", "dimensionality"},
		{"unknown tie break", "matching:\n  tie_break: random\n", "tie_break"},
		{"unknown index", "matching:\n  index: kdtree\n", "index"},
		{"unknown policy", "enrollment:\n  policy: append\n", "policy"},
		{"bad yaml", "matching: [", "parse config"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load error = %v, want mention of %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("Load of missing file: want error")
	}
}

func TestDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, Name: "faceid", User: "u", Password: "p"}
	want := "postgres://u:p@db:5432/faceid?sslmode=disable"
	if got := d.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}

func TestLoadIndexModes(t *testing.T) {
	for _, index := range []string{IndexLinear, IndexHNSW, IndexPGVector} {
		t.Run(index, func(t *testing.T) {
			cfg, err := Load(writeConfig(t, "matching:\n  index: "+index+"\n"))
			if err != nil {
				t.Fatalf("Load: %v", err)
			}
			if cfg.Matching.Index != index {
				t.Errorf("Index = %q, want %q", cfg.Matching.Index, index)
			}
		})
	}
}
