package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"SeriesHarvester/internal/model"
)

// DateLayout is the layout of run dates in the config file and environment.
const DateLayout = time.DateOnly

// Config holds all application configuration.
type Config struct {
	Provider Provider `yaml:"provider"`
	HTTP     HTTP     `yaml:"http"`
	Retry    Retry    `yaml:"retry"`
	Run      Run      `yaml:"run"`
	Series   []Series `yaml:"series"`
	Output   Output   `yaml:"output"`
	Database Database `yaml:"database"`
	Schedule struct {
		Cron       string `yaml:"cron"`
		RunOnStart bool   `yaml:"run_on_start"`
	} `yaml:"schedule"`
	Telegram struct {
		BotToken string `yaml:"bot_token"`
		ChatID   string `yaml:"chat_id"`
	} `yaml:"telegram"`
	Logging Logging `yaml:"logging"`
}

type Provider struct {
	BaseURL      string `yaml:"base_url"`
	MaxSpanYears int    `yaml:"max_span_years"`
}

type HTTP struct {
	Timeout           time.Duration `yaml:"timeout"`
	UserAgent         string        `yaml:"user_agent"`
	Proxy             string        `yaml:"proxy"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
}

// Retry is the transport retry policy: the wait before attempt n+1 is
// base + n*factor + rand[0,1)*jitter.
type Retry struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Base        time.Duration `yaml:"base"`
	Factor      time.Duration `yaml:"factor"`
	Jitter      time.Duration `yaml:"jitter"`
}

type Run struct {
	StartDate string `yaml:"start_date"`
	EndDate   string `yaml:"end_date"` // empty means the day of the run
}

// Series maps a logical name to the provider's series code.
type Series struct {
	Name string `yaml:"name"`
	Code Code   `yaml:"code"`
}

// Code is an opaque provider series identifier. YAML integers and strings are
// both accepted.
type Code string

func (c *Code) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("line %d: series code must be a scalar", n.Line)
	}
	*c = Code(strings.TrimSpace(n.Value))
	return nil
}

func (c Code) String() string { return string(c) }

type Output struct {
	Dir       string   `yaml:"dir"`
	BucketURL string   `yaml:"bucket_url"`
	Formats   []string `yaml:"formats"`
}

type Database struct {
	Driver     string `yaml:"driver"` // sqlite, mysql or none
	SQLitePath string `yaml:"sqlite_path"`
	Host       string `yaml:"host"`
	User       string `yaml:"user"`
	Password   string `yaml:"password"`
	Name       string `yaml:"name"`
}

type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
	MaxAge int    `yaml:"max_age"`
}

// DefaultSeries is the catalog used when the config file names none.
func DefaultSeries() []Series {
	return []Series{
		{Name: "IPCA", Code: "433"},
		{Name: "SELIC", Code: "432"},
		{Name: "USD_BRL", Code: "10813"},
	}
}

// Load reads config from a YAML file over the defaults, then applies
// environment variable overrides. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	overrides := map[string]*string{
		"DB_DRIVER":          &c.Database.Driver,
		"DB_USER":            &c.Database.User,
		"DB_PASS":            &c.Database.Password,
		"DB_HOST":            &c.Database.Host,
		"DB_NAME":            &c.Database.Name,
		"SQLITE_PATH":        &c.Database.SQLitePath,
		"OUTPUT_DIR":         &c.Output.Dir,
		"OUTPUT_BUCKET_URL":  &c.Output.BucketURL,
		"START_DATE":         &c.Run.StartDate,
		"END_DATE":           &c.Run.EndDate,
		"HTTPS_PROXY":        &c.HTTP.Proxy,
		"CRON_SCHEDULE":      &c.Schedule.Cron,
		"TELEGRAM_BOT_TOKEN": &c.Telegram.BotToken,
		"TELEGRAM_CHAT_ID":   &c.Telegram.ChatID,
		"LOG_LEVEL":          &c.Logging.Level,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
	if v := os.Getenv("RUN_ON_START"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Schedule.RunOnStart = b
		}
	}
}

// Default returns the configuration used for every key the file and the
// environment leave unset. An explicit zero in the file is kept.
func Default() *Config {
	return &Config{
		Provider: Provider{
			BaseURL:      "https://api.bcb.gov.br/dados/serie",
			MaxSpanYears: 9,
		},
		HTTP: HTTP{
			Timeout:           20 * time.Second,
			UserAgent:         "Mozilla/5.0",
			RequestsPerSecond: 2,
		},
		Retry: Retry{
			MaxAttempts: 5,
			Base:        time.Second,
			Factor:      2 * time.Second,
			Jitter:      time.Second,
		},
		Run:    Run{StartDate: "2000-01-01"},
		Series: DefaultSeries(),
		Output: Output{
			Dir:     "dados",
			Formats: []string{"csv"},
		},
		Database: Database{
			Driver:     "sqlite",
			SQLitePath: "data/series.db",
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
	}
}

var namePattern = regexp.MustCompile(`^[A-Za-z][A-Za-z0-9_]*$`)

// reservedName reports names the SQL sink keeps for its own tables.
func reservedName(lower string) bool {
	return lower == "etl_runs" || strings.HasSuffix(lower, "__staging")
}

// Validate checks that the configuration describes a runnable harvest.
func (c *Config) Validate() error {
	if len(c.Series) == 0 {
		return fmt.Errorf("series catalog is empty")
	}
	seen := make(map[string]bool, len(c.Series))
	for i, s := range c.Series {
		if !namePattern.MatchString(s.Name) {
			return fmt.Errorf("series[%d]: invalid name %q", i, s.Name)
		}
		key := strings.ToLower(s.Name)
		if reservedName(key) {
			return fmt.Errorf("series[%d]: name %q is reserved", i, s.Name)
		}
		if seen[key] {
			return fmt.Errorf("series[%d]: duplicate name %q", i, s.Name)
		}
		seen[key] = true
		if s.Code == "" {
			return fmt.Errorf("series[%d] %s: code is required", i, s.Name)
		}
	}
	if _, err := url.ParseRequestURI(c.Provider.BaseURL); err != nil {
		return fmt.Errorf("provider.base_url: %w", err)
	}
	if c.Provider.MaxSpanYears <= 0 {
		return fmt.Errorf("provider.max_span_years must be positive")
	}
	if c.Retry.MaxAttempts <= 0 {
		return fmt.Errorf("retry.max_attempts must be positive")
	}
	if c.HTTP.Timeout <= 0 {
		return fmt.Errorf("http.timeout must be positive")
	}
	if c.Retry.Base < 0 || c.Retry.Factor < 0 || c.Retry.Jitter < 0 {
		return fmt.Errorf("retry: base, factor and jitter must not be negative")
	}
	if c.HTTP.RequestsPerSecond < 0 {
		return fmt.Errorf("http.requests_per_second must not be negative")
	}
	if _, err := c.Span(time.Now()); err != nil {
		return err
	}
	for _, f := range c.Output.Formats {
		if f != "csv" && f != "parquet" {
			return fmt.Errorf("output.formats: unknown format %q", f)
		}
	}
	switch c.Database.Driver {
	case "sqlite", "none":
	case "mysql":
		if c.Database.Host == "" || c.Database.User == "" || c.Database.Name == "" {
			return fmt.Errorf("database: mysql requires host, user and name")
		}
	default:
		return fmt.Errorf("database.driver: unknown driver %q", c.Database.Driver)
	}
	return nil
}

// Span resolves the run's date span; an empty end date means now.
func (c *Config) Span(now time.Time) (model.Span, error) {
	start, err := time.Parse(DateLayout, c.Run.StartDate)
	if err != nil {
		return model.Span{}, fmt.Errorf("run.start_date: %w", err)
	}
	end := model.Truncate(now)
	if c.Run.EndDate != "" {
		if end, err = time.Parse(DateLayout, c.Run.EndDate); err != nil {
			return model.Span{}, fmt.Errorf("run.end_date: %w", err)
		}
	}
	span, err := model.NewSpan(start, end)
	if err != nil {
		return model.Span{}, fmt.Errorf("run: %w", err)
	}
	return span, nil
}

// ResolveBucketURL returns the artifact bucket URL, defaulting to a file bucket
// rooted at the output directory that stores no attribute sidecars.
func (o Output) ResolveBucketURL() (string, error) {
	if o.BucketURL != "" {
		return o.BucketURL, nil
	}
	abs, err := filepath.Abs(o.Dir)
	if err != nil {
		return "", fmt.Errorf("resolve output dir: %w", err)
	}
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(abs), RawQuery: "metadata=skip"}
	return u.String(), nil
}
