package config

import (
	"os"
	"path/filepath"
	"testing"

	"polymarket-copytrade/internal/exchange"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
account:
  private_key: "0xdeadbeef"
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Account.SignatureType != exchange.SigGnosisSafe {
		t.Errorf("signature_type = %d, want gnosis safe default", cfg.Account.SignatureType)
	}
	if cfg.Settings.PollIntervalSecs != 10 {
		t.Errorf("poll_interval_secs = %d, want 10", cfg.Settings.PollIntervalSecs)
	}
	if cfg.API.ClobURL != exchange.DefaultCLOBAPIBase {
		t.Errorf("clob_url = %s", cfg.API.ClobURL)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	path := writeConfig(t, `
account:
  private_key: "0xdeadbeef"
  funder_address: "0x1111111111111111111111111111111111111111"
  signature_type: 0
api:
  clob_url: "http://localhost:8080"
settings:
  poll_interval_secs: 30
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}

	if cfg.Account.FunderAddress != "0x1111111111111111111111111111111111111111" {
		t.Errorf("funder_address = %s", cfg.Account.FunderAddress)
	}
	if cfg.Account.SignatureType != 0 {
		t.Errorf("signature_type = %d, want 0", cfg.Account.SignatureType)
	}
	if cfg.API.ClobURL != "http://localhost:8080" {
		t.Errorf("clob_url = %s", cfg.API.ClobURL)
	}
	if cfg.Settings.PollIntervalSecs != 30 {
		t.Errorf("poll_interval_secs = %d", cfg.Settings.PollIntervalSecs)
	}
}

func TestLoadEnvOverride(t *testing.T) {
	path := writeConfig(t, `
account:
  private_key: "from-file"
`)
	t.Setenv("POLY_ACCOUNT_PRIVATE_KEY", "from-env")

	cfg, err := Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Account.PrivateKey != "from-env" {
		t.Errorf("private_key = %s, want env override", cfg.Account.PrivateKey)
	}
}

func TestLoadValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "missing private key",
			content: "settings:\n  poll_interval_secs: 10\n",
		},
		{
			name: "bad signature type",
			content: `
account:
  private_key: "0xdeadbeef"
  signature_type: 7
`,
		},
		{
			name: "non-positive poll interval",
			content: `
account:
  private_key: "0xdeadbeef"
settings:
  poll_interval_secs: 0
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeConfig(t, tt.content)
			if _, err := Load(path); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
