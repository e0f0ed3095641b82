package config

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/punchamoorthee/paybridge/internal/catalog"
)

const (
	sandboxAPIURL = "https://api-m.sandbox.paypal.com"
	liveAPIURL    = "https://api-m.paypal.com"
	sandboxIPNURL = "https://ipnpb.sandbox.paypal.com/cgi-bin/webscr"
	liveIPNURL    = "https://ipnpb.paypal.com/cgi-bin/webscr"
)

type Config struct {
	DBSource      string
	LedgerTimeout time.Duration
	Port          string
	Env           string
	TrustProxy    bool

	PayPal    PayPal
	Redis     Redis
	AuditDir  string
	LogLevel  string
	LogFormat string

	SharedSecret     string
	EnforceAgreement bool
	Catalog          *catalog.Catalog
	Images           map[string]string
}

type PayPal struct {
	Sandbox        bool
	ClientID       string
	ClientSecret   string
	APIURL         string
	IPNURL         string
	Currency       string
	ReceiverEmails []string
	HTTPTimeout    time.Duration
}

type Redis struct {
	Addr     string
	Password string
	DB       int
}

// AuthToken is the value clients must present in X-Auth-Token: the hex
// SHA-256 digest of the shared secret.
func (c *Config) AuthToken() string {
	sum := sha256.Sum256([]byte(c.SharedSecret))
	return hex.EncodeToString(sum[:])
}

// Load reads configuration from PAYBRIDGE_* environment variables and, when
// path is not empty, a YAML file. Environment wins over the file.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("paybridge")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// Names used by the existing deployment scripts.
	_ = v.BindEnv("database.url", "PAYBRIDGE_DATABASE_URL", "DB_SOURCE")
	_ = v.BindEnv("server.port", "PAYBRIDGE_SERVER_PORT", "SERVER_PORT")
	_ = v.BindEnv("server.env", "PAYBRIDGE_SERVER_ENV", "ENVIRONMENT")
	_ = v.BindEnv("auth.shared_secret", "PAYBRIDGE_AUTH_SHARED_SECRET", "PAYPAL_SHARED_SECRET")

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := &Config{
		DBSource:      v.GetString("database.url"),
		LedgerTimeout: v.GetDuration("database.ledger_timeout"),
		Port:          v.GetString("server.port"),
		Env:           v.GetString("server.env"),
		TrustProxy:    v.GetBool("server.trust_proxy"),
		PayPal: PayPal{
			Sandbox:        v.GetBool("paypal.sandbox"),
			ClientID:       v.GetString("paypal.client_id"),
			ClientSecret:   v.GetString("paypal.client_secret"),
			APIURL:         v.GetString("paypal.api_url"),
			IPNURL:         v.GetString("paypal.ipn_url"),
			Currency:       strings.ToUpper(v.GetString("paypal.currency")),
			ReceiverEmails: splitList(v.GetStringSlice("paypal.receiver_emails")),
			HTTPTimeout:    v.GetDuration("paypal.http_timeout"),
		},
		Redis: Redis{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		AuditDir:         v.GetString("audit.dir"),
		LogLevel:         v.GetString("log.level"),
		LogFormat:        v.GetString("log.format"),
		SharedSecret:     v.GetString("auth.shared_secret"),
		EnforceAgreement: v.GetBool("agreement.enforce"),
	}

	if cfg.PayPal.APIURL == "" {
		cfg.PayPal.APIURL = liveAPIURL
		if cfg.PayPal.Sandbox {
			cfg.PayPal.APIURL = sandboxAPIURL
		}
	}
	if cfg.PayPal.IPNURL == "" {
		cfg.PayPal.IPNURL = liveIPNURL
		if cfg.PayPal.Sandbox {
			cfg.PayPal.IPNURL = sandboxIPNURL
		}
	}

	cfg.Catalog = catalog.Default()
	if p := v.GetString("catalog.path"); p != "" {
		c, err := catalog.Load(p)
		if err != nil {
			return nil, err
		}
		cfg.Catalog = c
	}
	cfg.Images = cfg.Catalog.Images()

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("database.ledger_timeout", 10*time.Second)
	v.SetDefault("server.port", "8080")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.trust_proxy", true)
	v.SetDefault("paypal.sandbox", true)
	v.SetDefault("paypal.currency", "EUR")
	v.SetDefault("paypal.http_timeout", 15*time.Second)
	v.SetDefault("audit.dir", "order_logs")
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("agreement.enforce", true)
}

func (c *Config) validate() error {
	var errs []error
	if c.DBSource == "" {
		errs = append(errs, errors.New("database.url (DB_SOURCE) is required"))
	}
	if c.SharedSecret == "" {
		errs = append(errs, errors.New("auth.shared_secret (PAYPAL_SHARED_SECRET) is required"))
	}
	if !c.PayPal.Sandbox && (c.PayPal.ClientID == "" || c.PayPal.ClientSecret == "") {
		errs = append(errs, errors.New("paypal.client_id and paypal.client_secret are required in live mode"))
	}
	if len(c.PayPal.ReceiverEmails) == 0 {
		errs = append(errs, errors.New("paypal.receiver_emails must name at least one address"))
	}
	if len(c.PayPal.Currency) != 3 {
		errs = append(errs, fmt.Errorf("paypal.currency %q is not an ISO 4217 code", c.PayPal.Currency))
	}
	if c.LedgerTimeout <= 0 {
		errs = append(errs, errors.New("database.ledger_timeout must be positive"))
	}
	return errors.Join(errs...)
}

// splitList accepts both YAML lists and comma separated env values.
func splitList(in []string) []string {
	var out []string
	for _, item := range in {
		for _, part := range strings.Split(item, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}
