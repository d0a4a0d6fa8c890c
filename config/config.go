// Package config builds the immutable run configuration from the process
// environment, an optional .env file and, optionally, HashiCorp Vault.
package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

var ErrInvalid = errors.New("invalid configuration")

type Registry struct {
	URL      string `env:"API_URL,required"`
	Identity string `env:"API_IDENTITY,required"`
	// Secret may come from Vault, so it is checked in Validate instead.
	Secret   string `env:"API_SECRET"`
}

type Router struct {
	Host      string        `env:"MIKROTIK_HOST,required"`
	Port      int           `env:"MIKROTIK_PORT" envDefault:"22"`
	User      string        `env:"MIKROTIK_USER,required"`
	Password  string        `env:"MIKROTIK_PASSWORD"`
	// HostKey pins the router's SSH key, authorized_keys format.
	HostKey   string        `env:"MIKROTIK_HOST_KEY"`
	Interface string        `env:"MIKROTIK_INTERFACE,required"`
	RuleIDs   RuleIndices   `env:"MIKROTIK_RULE_ID,required"`
	Timeout   time.Duration `env:"SSH_TIMEOUT" envDefault:"15s"`
}

// RuleIndices is a comma-separated list of NAT rule positions, e.g. "4, 5".
type RuleIndices []int

func (r *RuleIndices) UnmarshalText(text []byte) error {
	var indices RuleIndices
	for _, part := range strings.Split(string(text), ",") {
		part = strings.TrimSpace(part)
		idx, err := strconv.Atoi(part)
		if err != nil {
			return errors.Wrapf(err, "invalid rule index %q", part)
		}
		indices = append(indices, idx)
	}
	*r = indices
	return nil
}

type Telegram struct {
	APIURL   string `env:"TELEGRAM_API_URL" envDefault:"https://api.telegram.org"`
	BotToken string `env:"BOT_TOKEN"`
	ChatID   string `env:"CHAT_ID,required"`
}

type Vault struct {
	Addr     string `env:"VAULT_ADDR"`
	Username string `env:"VAULT_USERNAME"`
	Password string `env:"VAULT_PASSWORD"`
	Path     string `env:"VAULT_PATH"`
}

type Renewal struct {
	// WindowDays is required; there is no sensible default lead time.
	WindowDays     int           `env:"RENEWAL_WINDOW_DAYS,required"`
	PreRenewDelay  time.Duration `env:"PRE_RENEW_DELAY" envDefault:"10s"`
	PostRenewDelay time.Duration `env:"POST_RENEW_DELAY" envDefault:"30s"`
}

func (r Renewal) Window() time.Duration {
	return time.Duration(r.WindowDays) * 24 * time.Hour
}

type Config struct {
	// HTTPTimeout applies to the certificate manager and Telegram clients.
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"30s"`

	Registry Registry
	Router   Router
	Telegram Telegram
	Vault    Vault
	Renewal  Renewal
}

// Load reads envFile into the process environment (a missing file is not an
// error) and parses the configuration from it. The result is not validated yet
// because secrets may still be filled in from Vault.
func Load(envFile string) (Config, error) {
	if envFile != "" {
		err := godotenv.Load(envFile)
		if err != nil && !os.IsNotExist(err) {
			return Config{}, errors.Wrapf(err, "while loading %s", envFile)
		}
	}
	return Parse(env.ToMap(os.Environ()))
}

// Parse builds a Config from the given key/value pairs only.
func Parse(environ map[string]string) (Config, error) {
	var cfg Config
	err := env.ParseWithOptions(&cfg, env.Options{Environment: environ})
	if err != nil {
		return Config{}, errors.Wrap(err, "while parsing environment")
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var problems []string

	if c.Registry.Secret == "" {
		problems = append(problems, "API_SECRET is empty")
	}
	if c.Router.Password == "" {
		problems = append(problems, "MIKROTIK_PASSWORD is empty")
	}
	if c.Telegram.BotToken == "" {
		problems = append(problems, "BOT_TOKEN is empty")
	}
	if c.Router.Port <= 0 || c.Router.Port > 65535 {
		problems = append(problems, "MIKROTIK_PORT out of range")
	}
	if len(c.Router.RuleIDs) == 0 {
		problems = append(problems, "MIKROTIK_RULE_ID has no rule index")
	}
	for _, id := range c.Router.RuleIDs {
		if id < 0 {
			problems = append(problems, "MIKROTIK_RULE_ID contains a negative index")
			break
		}
	}
	if c.Renewal.WindowDays <= 0 {
		problems = append(problems, "RENEWAL_WINDOW_DAYS must be positive")
	}
	if c.Renewal.PreRenewDelay < 0 || c.Renewal.PostRenewDelay < 0 {
		problems = append(problems, "renewal delays must not be negative")
	}
	if c.Vault.Addr != "" && (c.Vault.Username == "" || c.Vault.Path == "") {
		problems = append(problems, "VAULT_USERNAME and VAULT_PATH are required with VAULT_ADDR")
	}

	if len(problems) > 0 {
		return errors.Wrap(ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}
