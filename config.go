package rolepolicy

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config is the complete rolepolicy configuration.
type Config struct {
	Version    uint16            `json:"version" yaml:"version"`
	Engine     EngineConfig      `json:"engine" yaml:"engine"`
	Commission CommissionConfig  `json:"commission" yaml:"commission"`
	Storage    StorageConfig     `json:"storage" yaml:"storage"`
	Offices    []*Office         `json:"offices" yaml:"offices"`
	Principals []PrincipalRecord `json:"principals" yaml:"principals"`
	Bookings   []BookingSeed     `json:"bookings,omitempty" yaml:"bookings,omitempty"`
}

type EngineConfig struct {
	PermissionCacheTTL  int64 `json:"permission_cache_ttl_ms" yaml:"permission_cache_ttl_ms" env:"ROLEPOLICY_PERMISSION_CACHE_TTL_MS"`
	OperationKeyTTL     int64 `json:"operation_key_ttl_ms" yaml:"operation_key_ttl_ms" env:"ROLEPOLICY_OPERATION_KEY_TTL_MS"`
	RosterRetryAttempts int   `json:"roster_retry_attempts" yaml:"roster_retry_attempts" env:"ROLEPOLICY_ROSTER_RETRY_ATTEMPTS"`
	NotifyWorkers       int   `json:"notify_workers" yaml:"notify_workers" env:"ROLEPOLICY_NOTIFY_WORKERS"`
	RistrettoNumCounter int64 `json:"ristretto_num_counter" yaml:"ristretto_num_counter"`
	RistrettoMaxCost    int64 `json:"ristretto_max_cost" yaml:"ristretto_max_cost"`
	RistrettoBuffer     int64 `json:"ristretto_buffer" yaml:"ristretto_buffer"`
}

// DefaultEngineConfig is used for any zero field.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		PermissionCacheTTL:  2000,
		OperationKeyTTL:     int64((10 * time.Minute) / time.Millisecond),
		RosterRetryAttempts: 5,
		NotifyWorkers:       4,
		RistrettoNumCounter: 1 << 14,
		RistrettoMaxCost:    1 << 12,
		RistrettoBuffer:     64,
	}
}

func (c EngineConfig) withDefaults() EngineConfig {
	d := DefaultEngineConfig()
	if c.PermissionCacheTTL < 0 {
		// negative disables caching
		d.PermissionCacheTTL = 0
	} else if c.PermissionCacheTTL > 0 {
		d.PermissionCacheTTL = c.PermissionCacheTTL
	}
	if c.OperationKeyTTL > 0 {
		d.OperationKeyTTL = c.OperationKeyTTL
	}
	if c.RosterRetryAttempts > 0 {
		d.RosterRetryAttempts = c.RosterRetryAttempts
	}
	if c.NotifyWorkers > 0 {
		d.NotifyWorkers = c.NotifyWorkers
	}
	if c.RistrettoNumCounter > 0 {
		d.RistrettoNumCounter = c.RistrettoNumCounter
	}
	if c.RistrettoMaxCost > 0 {
		d.RistrettoMaxCost = c.RistrettoMaxCost
	}
	if c.RistrettoBuffer > 0 {
		d.RistrettoBuffer = c.RistrettoBuffer
	}
	return d
}

// CommissionConfig overrides the commission table. Rates are decimal strings
// such as "0.35"; empty keeps the default.
type CommissionConfig struct {
	StandardRate       string `json:"standard_rate,omitempty" yaml:"standard_rate,omitempty"`
	LinkedPlatformRate string `json:"linked_platform_rate,omitempty" yaml:"linked_platform_rate,omitempty"`
	LinkedOfficeRate   string `json:"linked_office_rate,omitempty" yaml:"linked_office_rate,omitempty"`
}

// Policy builds the commission policy described by c.
func (c CommissionConfig) Policy() (*CommissionPolicy, error) {
	standard, err := rateOrDefault("standard_rate", c.StandardRate, standardRate)
	if err != nil {
		return nil, err
	}
	linkedP, err := rateOrDefault("linked_platform_rate", c.LinkedPlatformRate, linkedPlatform)
	if err != nil {
		return nil, err
	}
	linkedO, err := rateOrDefault("linked_office_rate", c.LinkedOfficeRate, linkedOfficeRate)
	if err != nil {
		return nil, err
	}
	return NewCommissionPolicy(map[ActorClass]Rates{
		ActorAdminListing:        {Platform: decimal.Zero, Office: decimal.Zero},
		ActorFreelanceHost:       {Platform: standard, Office: decimal.Zero},
		ActorOfficeLinkedHost:    {Platform: linkedP, Office: linkedO},
		ActorOfficeEntityListing: {Platform: standard, Office: decimal.Zero},
	}, Rates{Platform: standard, Office: decimal.Zero}), nil
}

func rateOrDefault(name, raw string, def decimal.Decimal) (decimal.Decimal, error) {
	if raw == "" {
		return def, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("commission %s: %w", name, err)
	}
	if d.IsNegative() || d.GreaterThan(decimal.NewFromInt(1)) {
		return decimal.Zero, fmt.Errorf("commission %s: %s outside [0,1]", name, raw)
	}
	return d, nil
}

// StorageConfig selects backends. Driver is "memory" or "sqlite".
type StorageConfig struct {
	Driver    string `json:"driver" yaml:"driver" env:"ROLEPOLICY_STORAGE_DRIVER"`
	DSN       string `json:"dsn" yaml:"dsn" env:"ROLEPOLICY_DB_DSN"`
	RedisAddr string `json:"redis_addr,omitempty" yaml:"redis_addr,omitempty" env:"ROLEPOLICY_REDIS_ADDR"`
	RedisDB   int    `json:"redis_db,omitempty" yaml:"redis_db,omitempty" env:"ROLEPOLICY_REDIS_DB"`
}

// BookingSeed registers an open booking for the booking directory.
type BookingSeed struct {
	ID     string `json:"id" yaml:"id"`
	City   string `json:"city" yaml:"city"`
	Status string `json:"status" yaml:"status"`
}

// ConfigLoader loads configuration from YAML or JSON.
type ConfigLoader struct{}

func NewConfigLoader() *ConfigLoader {
	return &ConfigLoader{}
}

func (l *ConfigLoader) LoadYAML(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (l *ConfigLoader) LoadJSON(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays ROLEPOLICY_* environment variables onto cfg. Variables
// that are not set leave the loaded values alone.
func ApplyEnv(cfg *Config) error {
	if err := env.Parse(&cfg.Engine); err != nil {
		return fmt.Errorf("engine env: %w", err)
	}
	if err := env.Parse(&cfg.Storage); err != nil {
		return fmt.Errorf("storage env: %w", err)
	}
	return nil
}

// ToYAML exports config to YAML.
func (c *Config) ToYAML() ([]byte, error) {
	return yaml.Marshal(c)
}

// ToJSON exports config to JSON.
func (c *Config) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// Validate checks everything that can be checked without a store: principal
// records against the role invariants and registry, office ids, and that every
// referenced office is declared.
func (c *Config) Validate(registry *Registry) error {
	if registry == nil {
		registry = DefaultRegistry()
	}
	offices := make(map[string]bool, len(c.Offices))
	for _, o := range c.Offices {
		if o == nil || o.ID == "" {
			return fmt.Errorf("office missing id")
		}
		if offices[o.ID] {
			return fmt.Errorf("office %s declared twice", o.ID)
		}
		offices[o.ID] = true
	}
	seen := make(map[string]bool, len(c.Principals))
	for _, rec := range c.Principals {
		if rec.ID == "" {
			return fmt.Errorf("principal missing id")
		}
		if seen[rec.ID] {
			return fmt.Errorf("principal %s declared twice", rec.ID)
		}
		seen[rec.ID] = true
		p, err := PrincipalFromRecord(rec)
		if err != nil {
			return err
		}
		if err := registry.CheckPrincipal(p); err != nil {
			return err
		}
		if id := p.OfficeAssociationID(); id != "" {
			if !offices[id] {
				return fmt.Errorf("principal %s references undeclared office %s", rec.ID, id)
			}
			if strings.TrimSpace(p.Email) == "" {
				return fmt.Errorf("principal %s is associated with office %s but has no email for the roster", rec.ID, id)
			}
		}
	}
	if _, err := c.Commission.Policy(); err != nil {
		return err
	}
	return nil
}

// ApplyConfig seeds offices and principals that do not exist yet and puts
// seeded associations on the office rosters. Existing records are left alone.
func (s *Service) ApplyConfig(ctx context.Context, cfg *Config) error {
	if err := cfg.Validate(s.engine.Registry()); err != nil {
		return fmt.Errorf("validate config: %w", err)
	}
	for _, o := range cfg.Offices {
		if _, err := s.offices.GetOffice(ctx, o.ID); err == nil {
			continue
		} else if !IsNotFound(err) {
			return fmt.Errorf("lookup office %s: %w", o.ID, err)
		}
		seed := o.Clone()
		seed.HostRosterEmails = nil
		seed.HostCount = 0
		if err := s.offices.CreateOffice(ctx, seed); err != nil {
			return fmt.Errorf("create office %s: %w", o.ID, err)
		}
	}
	for _, rec := range cfg.Principals {
		if _, err := s.principals.GetPrincipal(ctx, rec.ID); err == nil {
			continue
		} else if !IsNotFound(err) {
			return fmt.Errorf("lookup principal %s: %w", rec.ID, err)
		}
		p, err := PrincipalFromRecord(rec)
		if err != nil {
			return err
		}
		p.Version = 0
		if err := s.principals.CreatePrincipal(ctx, p); err != nil {
			return fmt.Errorf("create principal %s: %w", rec.ID, err)
		}
		if office := p.OfficeAssociationID(); office != "" {
			if err := s.applyRoster(ctx, RosterChange{OfficeID: office, Email: p.Email, Op: RosterAdd}); err != nil {
				return fmt.Errorf("roster for principal %s: %w", rec.ID, err)
			}
		}
	}
	if len(cfg.Bookings) > 0 {
		reg, ok := s.bookings.(BookingRegistrar)
		if !ok {
			return fmt.Errorf("config declares bookings but the booking directory cannot store them")
		}
		for _, b := range cfg.Bookings {
			if err := reg.PutBooking(ctx, b); err != nil {
				return fmt.Errorf("seed booking %s: %w", b.ID, err)
			}
		}
	}
	return nil
}

// BookingRegistrar is implemented by booking directories that accept seeds.
type BookingRegistrar interface {
	PutBooking(ctx context.Context, b BookingSeed) error
}
