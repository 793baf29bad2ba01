package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Hakan2211/memdia-sub000/internal/config"
)

func TestLoad_FromFile(t *testing.T) {
	t.Parallel()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatalf("failed to write config file: %v", err)
	}

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Providers.STT.Name != "deepgram" {
		t.Errorf("providers.stt.name: got %q", cfg.Providers.STT.Name)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	t.Parallel()
	_, err := config.Load("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("expected error for missing file, got nil")
	}
}

func TestValidate_InvalidLogLevel(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid log level, got nil")
	}
	if !strings.Contains(err.Error(), "log_level") {
		t.Errorf("error should mention log_level, got: %v", err)
	}
}

func TestValidate_InvalidFusionStrategy(t *testing.T) {
	t.Parallel()
	yaml := `
fusion:
  strategy: telepathy
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for invalid fusion strategy, got nil")
	}
	if !strings.Contains(err.Error(), "fusion.strategy") {
		t.Errorf("error should mention fusion.strategy, got: %v", err)
	}
}

func TestValidate_VADThresholdsOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  normal:
    positive_threshold: 1.5
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range threshold, got nil")
	}
	if !strings.Contains(err.Error(), "positive_threshold") {
		t.Errorf("error should mention positive_threshold, got: %v", err)
	}
}

func TestValidate_VADNegativeExceedsPositive(t *testing.T) {
	t.Parallel()
	yaml := `
vad:
  barge_in:
    positive_threshold: 0.4
    negative_threshold: 0.6
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for negative > positive threshold, got nil")
	}
	if !strings.Contains(err.Error(), "barge_in") {
		t.Errorf("error should mention the barge_in profile, got: %v", err)
	}
}

func TestValidate_StartDelayExceedsEndDelay(t *testing.T) {
	t.Parallel()
	yaml := `
fusion:
  start_delay_ms: 500
  end_delay_ms: 100
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for start delay > end delay, got nil")
	}
}

func TestValidate_SpeedFactorOutOfRange(t *testing.T) {
	t.Parallel()
	yaml := `
generation:
  voice:
    speed_factor: 3.0
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for out-of-range speed factor, got nil")
	}
	if !strings.Contains(err.Error(), "speed_factor") {
		t.Errorf("error should mention speed_factor, got: %v", err)
	}
}

func TestValidate_TLSRequiresBothFiles(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  tls:
    cert_file: /etc/voiced/cert.pem
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected error for TLS with missing key_file, got nil")
	}
}

func TestValidate_MultipleErrors(t *testing.T) {
	t.Parallel()
	yaml := `
server:
  log_level: bananas
fusion:
  strategy: telepathy
`
	_, err := config.LoadFromReader(strings.NewReader(yaml))
	if err == nil {
		t.Fatal("expected errors, got nil")
	}
	errStr := err.Error()
	if !strings.Contains(errStr, "log_level") || !strings.Contains(errStr, "fusion.strategy") {
		t.Errorf("joined error should list both failures, got: %v", err)
	}
}

func TestValidProviderNames(t *testing.T) {
	t.Parallel()
	// Sanity-check that the map is populated.
	if len(config.ValidProviderNames) == 0 {
		t.Fatal("ValidProviderNames should not be empty")
	}
	sttNames := config.ValidProviderNames["stt"]
	found := false
	for _, n := range sttNames {
		if n == "deepgram" {
			found = true
			break
		}
	}
	if !found {
		t.Error("ValidProviderNames[\"stt\"] should contain \"deepgram\"")
	}
}
