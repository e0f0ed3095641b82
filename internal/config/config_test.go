package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setBaseEnv(t *testing.T) {
	t.Helper()
	t.Setenv("DB_SOURCE", "postgres://localhost/paybridge")
	t.Setenv("PAYPAL_SHARED_SECRET", "s3cret")
	t.Setenv("PAYBRIDGE_PAYPAL_RECEIVER_EMAILS", "shop@example.com, backup@example.com")
}

func TestLoadDefaults(t *testing.T) {
	setBaseEnv(t)

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("Port = %q, want 8080", cfg.Port)
	}
	if !cfg.PayPal.Sandbox || cfg.PayPal.APIURL != sandboxAPIURL || cfg.PayPal.IPNURL != sandboxIPNURL {
		t.Errorf("sandbox endpoints = %q %q", cfg.PayPal.APIURL, cfg.PayPal.IPNURL)
	}
	if cfg.PayPal.Currency != "EUR" {
		t.Errorf("Currency = %q, want EUR", cfg.PayPal.Currency)
	}
	if got := cfg.PayPal.ReceiverEmails; len(got) != 2 || got[1] != "backup@example.com" {
		t.Errorf("ReceiverEmails = %v", got)
	}
	if cfg.LedgerTimeout != 10*time.Second {
		t.Errorf("LedgerTimeout = %v", cfg.LedgerTimeout)
	}
	if !cfg.EnforceAgreement {
		t.Error("EnforceAgreement should default to true")
	}
	if _, ok := cfg.Catalog.Prices()["10.00"]; !ok {
		t.Error("default catalog missing 10.00")
	}
}

func TestAuthToken(t *testing.T) {
	cfg := &Config{SharedSecret: "s3cret"}
	// sha256("s3cret")
	want := "1ec1c26b50d5d3c58d9583181af8076655fe00756bf7285940ba3670f99fcba0"
	if got := cfg.AuthToken(); got != want {
		t.Errorf("AuthToken() = %s, want %s", got, want)
	}
}

func TestLoadLiveModeRequiresCredentials(t *testing.T) {
	setBaseEnv(t)
	t.Setenv("PAYBRIDGE_PAYPAL_SANDBOX", "false")

	_, err := Load("")
	if err == nil || !strings.Contains(err.Error(), "live mode") {
		t.Fatalf("Load() error = %v, want live mode credentials error", err)
	}

	t.Setenv("PAYBRIDGE_PAYPAL_CLIENT_ID", "id")
	t.Setenv("PAYBRIDGE_PAYPAL_CLIENT_SECRET", "secret")
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PayPal.APIURL != liveAPIURL || cfg.PayPal.IPNURL != liveIPNURL {
		t.Errorf("live endpoints = %q %q", cfg.PayPal.APIURL, cfg.PayPal.IPNURL)
	}
}

func TestLoadMissingRequired(t *testing.T) {
	t.Setenv("DB_SOURCE", "")
	t.Setenv("PAYPAL_SHARED_SECRET", "")
	_, err := Load("")
	if err == nil {
		t.Fatal("Load() succeeded without required settings")
	}
	for _, want := range []string{"database.url", "auth.shared_secret", "receiver_emails"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestLoadFileAndCatalog(t *testing.T) {
	setBaseEnv(t)
	dir := t.TempDir()

	catalogPath := filepath.Join(dir, "catalog.yaml")
	if err := os.WriteFile(catalogPath, []byte("packages:\n  - amount: \"3.00\"\n    points: 300\n    image: /img/3.png\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfgPath := filepath.Join(dir, "paybridge.yaml")
	content := "server:\n  port: \"9090\"\npaypal:\n  currency: usd\ncatalog:\n  path: " + catalogPath + "\n"
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("Port = %q, want 9090", cfg.Port)
	}
	if cfg.PayPal.Currency != "USD" {
		t.Errorf("Currency = %q, want USD", cfg.PayPal.Currency)
	}
	if cfg.Images["3.00"] != "/img/3.png" {
		t.Errorf("Images = %v", cfg.Images)
	}
	if len(cfg.Catalog.Entries()) != 1 {
		t.Errorf("catalog entries = %d, want 1", len(cfg.Catalog.Entries()))
	}
}
