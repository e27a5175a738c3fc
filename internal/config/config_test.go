package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func setCard(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv("CARD_NUMBER", "4111111111111111")
	t.Setenv("CARD_HOLDER", "Jane Doe")
	t.Setenv("CARD_EXP_MONTH", "7")
	t.Setenv("CARD_EXP_YEAR", "2029")
	t.Setenv("CARD_CVC", "123")
}

func TestDefaultConfig(t *testing.T) {
	config := DefaultConfig()

	if config == nil {
		t.Fatal("DefaultConfig returned nil")
	}

	if config.Worker.PollInterval != 10*time.Second {
		t.Errorf("Expected PollInterval to be 10s, got %v", config.Worker.PollInterval)
	}

	if config.Booking.MaxAttempts != 1 {
		t.Errorf("Expected MaxAttempts to be 1, got %d", config.Booking.MaxAttempts)
	}

	if !config.Booking.ClickFinal {
		t.Error("Expected ClickFinal to be true")
	}

	if config.Hotel.MaxCalendarPages != 24 {
		t.Errorf("Expected MaxCalendarPages to be 24, got %d", config.Hotel.MaxCalendarPages)
	}

	if config.Hotel.Filters["sort_by"] != "price_starting_from_lowest" {
		t.Errorf("Expected lowest-price sort filter, got %q", config.Hotel.Filters["sort_by"])
	}

	if config.Hotel.PriceFormat.Decimal == config.Hotel.PriceFormat.Thousands {
		t.Error("Expected distinct decimal and thousands separators")
	}
}

func TestConfigSaveAndLoad(t *testing.T) {
	setCard(t)
	configPath := filepath.Join(t.TempDir(), "test-config.yaml")

	config := DefaultConfig()
	config.Browser.PageLoadTimeout = 90
	config.Booking.MaxAttempts = 3
	config.Hotel.PriceFormat = PriceFormat{Decimal: ",", Thousands: ".", Currency: "EUR"}

	if err := config.Save(configPath); err != nil {
		t.Fatalf("Failed to save config: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created")
	}

	loaded, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if loaded.Browser.PageLoadTimeout != 90 {
		t.Errorf("Expected PageLoadTimeout to be 90, got %d", loaded.Browser.PageLoadTimeout)
	}

	if loaded.Booking.MaxAttempts != 3 {
		t.Errorf("Expected MaxAttempts to be 3, got %d", loaded.Booking.MaxAttempts)
	}

	if loaded.Hotel.PriceFormat.Decimal != "," {
		t.Errorf("Expected decimal comma, got %q", loaded.Hotel.PriceFormat.Decimal)
	}
}

func TestLoadConfigCreatesDefaultIfMissing(t *testing.T) {
	setCard(t)
	configPath := filepath.Join(t.TempDir(), "new-config.yaml")

	config, err := LoadConfig(configPath)
	if err != nil {
		t.Fatalf("LoadConfig failed: %v", err)
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Fatal("Config file was not created automatically")
	}

	if config.Hotel.Name != "Booking.com" {
		t.Errorf("Expected default hotel provider, got %q", config.Hotel.Name)
	}
}

func TestLoadConfigInvalidYAML(t *testing.T) {
	setCard(t)
	configPath := filepath.Join(t.TempDir(), "invalid-config.yaml")

	if err := os.WriteFile(configPath, []byte("invalid: yaml: content: [unclosed"), 0644); err != nil {
		t.Fatalf("Failed to write invalid YAML: %v", err)
	}

	if _, err := LoadConfig(configPath); err == nil {
		t.Error("Expected error when loading invalid YAML, got nil")
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	setCard(t)
	t.Setenv("BOOKING_MAX_ATTEMPTS", "4")
	t.Setenv("BOOKING_CLICK_FINAL", "false")
	t.Setenv("WORKER_BOOKING_ID", "abc-123")
	t.Setenv("WORKER_RUN_ONCE", "true")
	t.Setenv("HEADLESS", "false")
	t.Setenv("DATABASE_URL", "postgres://localhost/travel")
	t.Setenv("CARD_CVC", "")
	t.Setenv("CARD_CVV", "999")

	config := DefaultConfig()
	if err := config.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv failed: %v", err)
	}

	if config.Booking.MaxAttempts != 4 {
		t.Errorf("MaxAttempts = %d, want 4", config.Booking.MaxAttempts)
	}
	if config.Booking.ClickFinal {
		t.Error("ClickFinal should be disabled by BOOKING_CLICK_FINAL=false")
	}
	if config.Worker.BookingID != "abc-123" || !config.Worker.RunOnce {
		t.Errorf("worker overrides not applied: %+v", config.Worker)
	}
	if config.Browser.Headless {
		t.Error("Headless should be disabled by HEADLESS=false")
	}
	if config.Storage.DatabaseURL != "postgres://localhost/travel" {
		t.Errorf("DatabaseURL = %q", config.Storage.DatabaseURL)
	}
	if config.Card.Number != "4111111111111111" {
		t.Errorf("card number not applied: %q", config.Card.Number)
	}
	if config.Card.CVC != "999" {
		t.Errorf("CARD_CVV alias not applied: %q", config.Card.CVC)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{
			name:   "dry run without card",
			mutate: func(c *Config) { c.DryRun = true },
		},
		{
			name:    "final click without card",
			mutate:  func(c *Config) {},
			wantErr: "card details are incomplete",
		},
		{
			name: "same separators",
			mutate: func(c *Config) {
				c.DryRun = true
				c.Hotel.PriceFormat.Thousands = "."
			},
			wantErr: "must differ",
		},
		{
			name: "zero attempts",
			mutate: func(c *Config) {
				c.DryRun = true
				c.Booking.MaxAttempts = 0
			},
			wantErr: "max_attempts",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := DefaultConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestCardExpiry(t *testing.T) {
	tests := []struct {
		month, year, want string
	}{
		{"7", "2029", "07/29"},
		{"12", "31", "12/31"},
	}
	for _, tt := range tests {
		c := CardConfig{ExpMonth: tt.month, ExpYear: tt.year}
		if got := c.Expiry(); got != tt.want {
			t.Errorf("Expiry(%s, %s) = %q, want %q", tt.month, tt.year, got, tt.want)
		}
	}
}
