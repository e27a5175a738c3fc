package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Env       string `yaml:"env" envconfig:"APP_ENV"`
	DebugMode bool   `yaml:"debug_mode" envconfig:"DEBUG"`
	DryRun    bool   `yaml:"dry_run" envconfig:"DRY_RUN"`

	Browser  BrowserConfig  `yaml:"browser" envconfig:"BROWSER"`
	Humanize HumanizeConfig `yaml:"humanize" ignored:"true"`
	Worker   WorkerConfig   `yaml:"worker" envconfig:"WORKER"`
	Booking  BookingConfig  `yaml:"booking" envconfig:"BOOKING"`

	Card    CardConfig    `yaml:"card" envconfig:"CARD"`
	Billing BillingConfig `yaml:"billing" envconfig:"BILLING"`

	Hotel  ProviderConfig `yaml:"hotel" ignored:"true"`
	Flight ProviderConfig `yaml:"flight" ignored:"true"`

	Paths   PathsConfig   `yaml:"paths" ignored:"true"`
	Storage StorageConfig `yaml:"storage"`
	Captcha CaptchaConfig `yaml:"captcha" envconfig:"CAPTCHA"`
	SMTP    SMTPConfig    `yaml:"smtp" envconfig:"SMTP"`
	Agency  AgencyConfig  `yaml:"agency" envconfig:"AGENCY"`

	MetricsAddr string `yaml:"metrics_addr" envconfig:"METRICS_ADDR"`
}

type BrowserConfig struct {
	Headless        bool   `yaml:"headless" envconfig:"HEADLESS"`
	Bin             string `yaml:"bin" envconfig:"CHROME_BIN"`
	ProfilePath     string `yaml:"profile_path" split_words:"true"`
	UserAgent       string `yaml:"user_agent" split_words:"true"`
	ViewportWidth   int    `yaml:"viewport_width" ignored:"true"`
	ViewportHeight  int    `yaml:"viewport_height" ignored:"true"`
	PageLoadTimeout int    `yaml:"page_load_timeout" split_words:"true"`
	NoSandbox       bool   `yaml:"no_sandbox" split_words:"true"`
}

// HumanizeConfig ranges are in milliseconds.
type HumanizeConfig struct {
	ShortMinMs    int     `yaml:"short_min_ms"`
	ShortMaxMs    int     `yaml:"short_max_ms"`
	StepMinMs     int     `yaml:"step_min_ms"`
	StepMaxMs     int     `yaml:"step_max_ms"`
	SettleMinMs   int     `yaml:"settle_min_ms"`
	SettleMaxMs   int     `yaml:"settle_max_ms"`
	ThinkMinMs    int     `yaml:"think_min_ms"`
	ThinkMaxMs    int     `yaml:"think_max_ms"`
	KeyMinMs      int     `yaml:"key_min_ms"`
	KeyMaxMs      int     `yaml:"key_max_ms"`
	HesitateEvery int     `yaml:"hesitate_every"`
	ActionsPerSec float64 `yaml:"actions_per_sec"`
}

type WorkerConfig struct {
	PollInterval time.Duration `yaml:"poll_interval" split_words:"true"`
	RunOnce      bool          `yaml:"run_once" split_words:"true"`
	BookingID    string        `yaml:"booking_id" split_words:"true"`
	LeaseTTL     time.Duration `yaml:"lease_ttl" split_words:"true"`
	StaleSweep   time.Duration `yaml:"stale_sweep" split_words:"true"`
}

type BookingConfig struct {
	MaxAttempts int  `yaml:"max_attempts" split_words:"true"`
	ClickFinal  bool `yaml:"click_final" split_words:"true"`
}

type CardConfig struct {
	Number   string `yaml:"number"`
	Holder   string `yaml:"holder"`
	ExpMonth string `yaml:"exp_month" split_words:"true"`
	ExpYear  string `yaml:"exp_year" split_words:"true"`
	CVC      string `yaml:"cvc"`
}

// Complete reports whether every value needed by a payment form is present.
func (c CardConfig) Complete() bool {
	return c.Number != "" && c.Holder != "" && c.ExpMonth != "" && c.ExpYear != "" && c.CVC != ""
}

// Expiry renders the card expiry as MM/YY.
func (c CardConfig) Expiry() string {
	month := c.ExpMonth
	if len(month) == 1 {
		month = "0" + month
	}
	year := c.ExpYear
	if len(year) == 4 {
		year = year[2:]
	}
	return month + "/" + year
}

type BillingConfig struct {
	Postal  string `yaml:"postal"`
	Address string `yaml:"address"`
	City    string `yaml:"city"`
	State   string `yaml:"state"`
	Country string `yaml:"country"`
}

type PriceFormat struct {
	Decimal   string `yaml:"decimal"`
	Thousands string `yaml:"thousands"`
	Currency  string `yaml:"currency"`
}

type ProviderConfig struct {
	Name        string      `yaml:"name"`
	BaseURL     string      `yaml:"base_url"`
	TripsURL    string      `yaml:"trips_url"`
	PriceFormat PriceFormat `yaml:"price_format"`
	// Filters are merged into the results URL query after the search is verified.
	Filters           map[string]string `yaml:"filters"`
	MaxCalendarPages  int               `yaml:"max_calendar_pages"`
	StrategyTimeoutMs int               `yaml:"strategy_timeout_ms"`
	PaymentWaitSec    int               `yaml:"payment_wait_sec"`
	ConfirmWaitSec    int               `yaml:"confirm_wait_sec"`
}

type PathsConfig struct {
	Screenshots string `yaml:"screenshots"`
	Documents   string `yaml:"documents"`
	Sessions    string `yaml:"sessions"`
	Lexicon     string `yaml:"lexicon"`
}

type StorageConfig struct {
	DatabaseURL string `yaml:"database_url" envconfig:"DATABASE_URL"`
	RedisAddr   string `yaml:"redis_addr" envconfig:"REDIS_ADDR"`
	RedisPass   string `yaml:"redis_password" envconfig:"REDIS_PASSWORD"`
}

type CaptchaConfig struct {
	APIKey  string `yaml:"api_key" split_words:"true"`
	SiteKey string `yaml:"site_key" split_words:"true"`
	PageURL string `yaml:"page_url" split_words:"true"`
	Action  string `yaml:"action"`
}

type SMTPConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	From     string `yaml:"from"`
}

// AgencyConfig is printed in the header of generated tickets.
type AgencyConfig struct {
	Name    string `yaml:"name"`
	Address string `yaml:"address"`
	Phone   string `yaml:"phone"`
}

func DefaultConfig() *Config {
	dataDir := DataDir()

	return &Config{
		Env: "dev",
		Browser: BrowserConfig{
			Headless:        true,
			ProfilePath:     filepath.Join(dataDir, "browser-profile"),
			UserAgent:       "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/131.0.0.0 Safari/537.36",
			ViewportWidth:   1920,
			ViewportHeight:  1080,
			PageLoadTimeout: 60,
		},
		Humanize: HumanizeConfig{
			ShortMinMs:    150,
			ShortMaxMs:    400,
			StepMinMs:     800,
			StepMaxMs:     1500,
			SettleMinMs:   2000,
			SettleMaxMs:   4000,
			ThinkMinMs:    4000,
			ThinkMaxMs:    8000,
			KeyMinMs:      60,
			KeyMaxMs:      180,
			HesitateEvery: 7,
			ActionsPerSec: 4,
		},
		Worker: WorkerConfig{
			PollInterval: 10 * time.Second,
			LeaseTTL:     30 * time.Minute,
			StaleSweep:   5 * time.Minute,
		},
		Booking: BookingConfig{
			MaxAttempts: 1,
			ClickFinal:  true,
		},
		Hotel: ProviderConfig{
			Name:     "Booking.com",
			BaseURL:  "https://www.booking.com",
			TripsURL: "https://www.booking.com/index.html",
			PriceFormat: PriceFormat{
				Decimal:   ".",
				Thousands: ",",
				Currency:  "USD",
			},
			Filters: map[string]string{
				"sort_by":           "price_starting_from_lowest",
				"nflt":              "fc=1;cancellation_type=no_prepayment;",
				"selected_currency": "USD",
			},
			MaxCalendarPages:  24,
			StrategyTimeoutMs: 3000,
			PaymentWaitSec:    45,
			ConfirmWaitSec:    120,
		},
		Flight: ProviderConfig{
			Name:    "Nouvelair",
			BaseURL: "https://www.nouvelair.com/en",
			PriceFormat: PriceFormat{
				Decimal:   ".",
				Thousands: " ",
				Currency:  "TND",
			},
			MaxCalendarPages:  24,
			StrategyTimeoutMs: 4000,
			PaymentWaitSec:    45,
			ConfirmWaitSec:    60,
		},
		Paths: PathsConfig{
			Screenshots: filepath.Join(dataDir, "screenshots"),
			Documents:   filepath.Join(dataDir, "downloads"),
			Sessions:    filepath.Join(dataDir, "sessions"),
		},
		Captcha: CaptchaConfig{
			Action: "submit",
		},
		SMTP: SMTPConfig{
			Port: 587,
		},
		Agency: AgencyConfig{
			Name: "Travel Agency",
		},
	}
}

// LoadConfig reads the YAML file at path, creating it with defaults when it
// does not exist, then applies .env and process environment overrides.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := config.Save(path); err != nil {
			return nil, err
		}
	} else {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}

	if err := config.ApplyEnv(); err != nil {
		return nil, err
	}

	for _, dir := range []string{config.Browser.ProfilePath, config.Paths.Screenshots, config.Paths.Documents} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
	}

	return config, config.Validate()
}

// ApplyEnv loads a .env file from the working directory when present and
// overlays recognized environment variables onto c.
func (c *Config) ApplyEnv() error {
	_ = godotenv.Load()

	if err := envconfig.Process("", c); err != nil {
		return fmt.Errorf("environment: %w", err)
	}
	// CARD_HOLDER_NAME and CARD_CVV are accepted as aliases.
	if c.Card.Holder == "" {
		c.Card.Holder = os.Getenv("CARD_HOLDER_NAME")
	}
	if c.Card.CVC == "" {
		c.Card.CVC = os.Getenv("CARD_CVV")
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	if c.Worker.PollInterval <= 0 {
		errs = append(errs, errors.New("worker.poll_interval must be positive"))
	}
	if c.Booking.MaxAttempts < 1 {
		errs = append(errs, errors.New("booking.max_attempts must be at least 1"))
	}
	for _, p := range []ProviderConfig{c.Hotel, c.Flight} {
		if p.PriceFormat.Decimal == p.PriceFormat.Thousands {
			errs = append(errs, fmt.Errorf("%s: price decimal and thousands separators must differ", p.Name))
		}
		if p.MaxCalendarPages < 1 {
			errs = append(errs, fmt.Errorf("%s: max_calendar_pages must be at least 1", p.Name))
		}
	}
	if c.Booking.ClickFinal && !c.DryRun && !c.Card.Complete() {
		errs = append(errs, errors.New("card details are incomplete: set CARD_NUMBER, CARD_HOLDER, CARD_EXP_MONTH, CARD_EXP_YEAR, CARD_CVC"))
	}
	return errors.Join(errs...)
}

func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func DataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "./travelbot-data"
	}
	return filepath.Join(home, ".travelbot")
}
