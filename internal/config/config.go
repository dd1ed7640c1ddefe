package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ilyakaznacheev/cleanenv"

	"github.com/mind-engage/groundschool/internal/backend"
	"github.com/mind-engage/groundschool/internal/journal"
)

type Config struct {
	Env      string `yaml:"env" env:"APP_ENV" env-default:"local"`
	HTTPAddr string `yaml:"http_addr" env:"HTTP_ADDR" env-default:":8080"`

	ScriptEndpoint string        `yaml:"script_endpoint" env:"SCRIPT_ENDPOINT"`
	SharedSecret   string        `yaml:"shared_secret" env:"SHARED_SECRET"`
	BackendMode    string        `yaml:"backend_mode" env:"BACKEND_MODE" env-default:"buckets"`
	RequestTimeout time.Duration `yaml:"request_timeout" env:"REQUEST_TIMEOUT" env-default:"20s"`

	PassPercent        float64 `yaml:"pass_percent" env:"PASS_PERCENT" env-default:"80"`
	DefaultTopicCount  int     `yaml:"default_topic_count" env:"DEFAULT_TOPIC_COUNT" env-default:"3"`
	QuestionCap        int     `yaml:"question_cap" env:"QUESTION_CAP" env-default:"0"`
	AccessCodeRequired bool    `yaml:"access_code_required" env:"ACCESS_CODE_REQUIRED" env-default:"false"`
	FinalLessonCode    string  `yaml:"final_lesson_code" env:"FINAL_LESSON_CODE" env-default:"FINAL"`
	MaxCarryForward    int     `yaml:"max_carry_forward" env:"MAX_CARRY_FORWARD" env-default:"2"`

	DBDriver string `yaml:"db_driver" env:"DB_DRIVER"` // empty disables the journal
	DBDSN    string `yaml:"db_dsn" env:"DB_DSN"`
	SiteID   string `yaml:"site_id" env:"SITE_ID" env-default:"local"`

	AuthHMACSecret string        `yaml:"auth_hmac_secret" env:"AUTH_HMAC_SECRET" env-default:"dev-only-change-me"`
	TokenTTL       time.Duration `yaml:"token_ttl" env:"TOKEN_TTL" env-default:"8h"`
	CORSOrigins    []string      `yaml:"cors_origins" env:"CORS_ORIGINS" env-separator:"," env-default:"http://localhost:3000"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT" env-default:"10s"`
}

// Load reads CONFIG_PATH (YAML) when set, with the environment taking
// precedence, otherwise the environment alone.
func Load() (*Config, error) {
	var cfg Config
	var err error
	if path := os.Getenv("CONFIG_PATH"); path != "" {
		err = cleanenv.ReadConfig(path, &cfg)
	} else {
		err = cleanenv.ReadEnv(&cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	cfg.CORSOrigins = trimAll(cfg.CORSOrigins)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// MustLoad is Load for main; it exits on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	return cfg
}

func (c *Config) Validate() error {
	var errs []error
	if c.ScriptEndpoint == "" {
		errs = append(errs, errors.New("SCRIPT_ENDPOINT is required"))
	} else if u, err := url.Parse(c.ScriptEndpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("SCRIPT_ENDPOINT %q is not an absolute URL", c.ScriptEndpoint))
	}
	if _, err := backend.ParseMode(c.BackendMode); err != nil {
		errs = append(errs, err)
	}
	if c.PassPercent < 0 || c.PassPercent > 100 {
		errs = append(errs, fmt.Errorf("PASS_PERCENT %v must be within [0,100]", c.PassPercent))
	}
	if c.DefaultTopicCount < 0 {
		errs = append(errs, fmt.Errorf("DEFAULT_TOPIC_COUNT %d must not be negative", c.DefaultTopicCount))
	}
	if c.QuestionCap < 0 {
		errs = append(errs, fmt.Errorf("QUESTION_CAP %d must not be negative", c.QuestionCap))
	}
	if c.MaxCarryForward < 0 {
		errs = append(errs, fmt.Errorf("MAX_CARRY_FORWARD %d must not be negative", c.MaxCarryForward))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, fmt.Errorf("REQUEST_TIMEOUT %s must be positive", c.RequestTimeout))
	}
	switch journal.Driver(c.DBDriver) {
	case "", journal.DriverSQLite, journal.DriverPostgres:
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER %q must be sqlite or postgres", c.DBDriver))
	}
	return errors.Join(errs...)
}

// Mode is the parsed BackendMode; call after Validate.
func (c *Config) Mode() backend.Mode {
	m, _ := backend.ParseMode(c.BackendMode)
	return m
}

func trimAll(in []string) []string {
	out := make([]string, 0, len(in))
	for _, p := range in {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
