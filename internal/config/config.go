package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

const (
	DefaultTraderID = "coopTrader"
	Roubles         = "5449016a4bdc2d6f028b456f"
)

type Config struct {
	CacheDir  string       `yaml:"cache_dir"`
	Catalog   string       `yaml:"catalog"`
	Traders   []TraderSpec `yaml:"traders"`
	Journal   JournalSpec  `yaml:"journal"`
	Index     IndexSpec    `yaml:"index"`
	Snapshots SnapshotSpec `yaml:"snapshots"`
}

type TraderSpec struct {
	ID              string `yaml:"id"`
	Currency        string `yaml:"currency"`
	LoyaltyLevel    int    `yaml:"loyalty_level"`
	PriceMultiplier string `yaml:"price_multiplier"`
	GroupStackCount int    `yaml:"group_stack_count"`
}

type JournalSpec struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir,omitempty"`
}

type IndexSpec struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path,omitempty"`
}

type SnapshotSpec struct {
	Keep int    `yaml:"keep"`
	Dir  string `yaml:"dir,omitempty"`
}

func Load(path string) (Config, error) {
	cfg := Defaults()
	if strings.TrimSpace(path) == "" {
		cfg.Normalize()
		return cfg, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func Defaults() Config {
	return Config{
		CacheDir: "./user/cache/PaulovsSITCoop",
		Catalog:  "./configs/items.json",
		Traders: []TraderSpec{
			{
				ID:              DefaultTraderID,
				Currency:        Roubles,
				LoyaltyLevel:    1,
				PriceMultiplier: "1",
				GroupStackCount: 1,
			},
		},
		Journal:   JournalSpec{Enabled: true},
		Index:     IndexSpec{Enabled: true},
		Snapshots: SnapshotSpec{Keep: 20},
	}
}

func (c *Config) Normalize() {
	if c == nil {
		return
	}
	c.CacheDir = strings.TrimSpace(c.CacheDir)
	c.Catalog = strings.TrimSpace(c.Catalog)
	for i := range c.Traders {
		t := &c.Traders[i]
		t.ID = strings.TrimSpace(t.ID)
		t.Currency = strings.TrimSpace(t.Currency)
		if t.Currency == "" {
			t.Currency = Roubles
		}
		if t.LoyaltyLevel == 0 {
			t.LoyaltyLevel = 1
		}
		t.PriceMultiplier = strings.TrimSpace(t.PriceMultiplier)
		if t.PriceMultiplier == "" {
			t.PriceMultiplier = "1"
		}
		if t.GroupStackCount <= 0 {
			t.GroupStackCount = 1
		}
	}
	if c.Journal.Dir == "" {
		c.Journal.Dir = "journal"
	}
	if c.Index.Path == "" {
		c.Index.Path = "index/trades.sqlite"
	}
	if c.Snapshots.Dir == "" {
		c.Snapshots.Dir = "snapshots"
	}
	if c.Snapshots.Keep < 0 {
		c.Snapshots.Keep = 0
	}
}

func (c Config) Validate() error {
	c.Normalize()
	if c.CacheDir == "" {
		return fmt.Errorf("cache_dir must not be empty")
	}
	if len(c.Traders) == 0 {
		return fmt.Errorf("traders must not be empty")
	}
	seen := map[string]bool{}
	for i, t := range c.Traders {
		if t.ID == "" {
			return fmt.Errorf("traders[%d] id must not be empty", i)
		}
		if seen[t.ID] {
			return fmt.Errorf("duplicate trader id: %s", t.ID)
		}
		seen[t.ID] = true
		if t.LoyaltyLevel <= 0 {
			return fmt.Errorf("trader %s loyalty_level must be > 0", t.ID)
		}
		m, err := decimal.NewFromString(t.PriceMultiplier)
		if err != nil {
			return fmt.Errorf("trader %s price_multiplier %q: %w", t.ID, t.PriceMultiplier, err)
		}
		if m.IsNegative() {
			return fmt.Errorf("trader %s price_multiplier must be >= 0", t.ID)
		}
	}
	return nil
}

// Multiplier parses the trader's price multiplier; an invalid value yields 1.
func (t TraderSpec) Multiplier() decimal.Decimal {
	m, err := decimal.NewFromString(strings.TrimSpace(t.PriceMultiplier))
	if err != nil || m.IsNegative() {
		return decimal.NewFromInt(1)
	}
	return m
}

func (c Config) Trader(id string) (TraderSpec, bool) {
	for _, t := range c.Traders {
		if t.ID == id {
			return t, true
		}
	}
	return TraderSpec{}, false
}

// Resolve joins a relative path onto the cache directory.
func (c Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.CacheDir, p)
}
