package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setAccounts(t *testing.T) {
	t.Helper()
	t.Setenv("ACCOUNTS_FILE", "")
	t.Setenv("ACCOUNTS", `[{"index":1,"api_index":2,"private_key":"pk"}]`)
}

func TestLoadDefaults(t *testing.T) {
	setAccounts(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Port != "8080" {
		t.Errorf("Port=%q, expected 8080", cfg.Port)
	}
	if cfg.MaxSlippage != 0.01 {
		t.Errorf("MaxSlippage=%v, expected 0.01", cfg.MaxSlippage)
	}
	if cfg.StopLossRatio != 0.05 {
		t.Errorf("StopLossRatio=%v, expected 0.05", cfg.StopLossRatio)
	}
	if cfg.MaxRetries != 3 {
		t.Errorf("MaxRetries=%d, expected 3", cfg.MaxRetries)
	}
	if cfg.RetryInterval != 5*time.Second {
		t.Errorf("RetryInterval=%v, expected 5s", cfg.RetryInterval)
	}
	if cfg.MarketCacheTTL != 5*time.Minute {
		t.Errorf("MarketCacheTTL=%v, expected 5m", cfg.MarketCacheTTL)
	}
	if len(cfg.Accounts) != 1 || cfg.Accounts[0].APIKeyIndex != 2 {
		t.Errorf("Accounts=%+v, expected the configured account", cfg.Accounts)
	}
}

func TestLoadRequiresAccounts(t *testing.T) {
	t.Setenv("ACCOUNTS_FILE", "")
	t.Setenv("ACCOUNTS", "[]")

	if _, err := Load(); err == nil {
		t.Fatal("expected error with no accounts configured")
	}
}

func TestLoadRejectsOutOfRangeValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"slippage above 1", "MAX_SLIPPAGE", "1.5"},
		{"negative stop ratio", "STOP_LOSS_RATIO", "-0.1"},
		{"zero scaling factor", "SCALING_FACTOR", "0.001"},
		{"negative retries", "MAX_RETRIES", "-1"},
		{"sub-second retry interval", "RETRY_INTERVAL", "0"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setAccounts(t)
			t.Setenv(tt.key, tt.value)
			if _, err := Load(); err == nil {
				t.Fatalf("expected error for %s=%s", tt.key, tt.value)
			}
		})
	}
}

func TestLoadAccountsFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "accounts.yaml")
	data := "accounts:\n  - index: 4\n    api_index: 1\n    private_key: secret\n  - index: 9\n    api_index: 2\n    private_key: other\n"
	if err := os.WriteFile(path, []byte(data), 0o600); err != nil {
		t.Fatalf("write accounts file: %v", err)
	}
	t.Setenv("ACCOUNTS_FILE", path)
	t.Setenv("ACCOUNTS", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if len(cfg.Accounts) != 2 {
		t.Fatalf("accounts=%d, expected 2", len(cfg.Accounts))
	}
	if cfg.Accounts[1].Index != 9 || cfg.Accounts[1].PrivateKey != "other" {
		t.Fatalf("second account=%+v", cfg.Accounts[1])
	}
}

func TestAccountLookup(t *testing.T) {
	cfg := &Config{Accounts: []AccountConfig{{Index: 3}, {Index: 7}}}

	if acct := cfg.Account(7); acct == nil || acct.Index != 7 {
		t.Fatalf("Account(7)=%+v", acct)
	}
	if acct := cfg.Account(5); acct != nil {
		t.Fatalf("Account(5)=%+v, expected nil", acct)
	}
}

func TestInvalidAccountsJSON(t *testing.T) {
	t.Setenv("ACCOUNTS_FILE", "")
	t.Setenv("ACCOUNTS", "{not json")

	if _, err := Load(); err == nil {
		t.Fatal("expected error for malformed ACCOUNTS")
	}
}
