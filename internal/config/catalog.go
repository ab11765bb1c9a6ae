package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Tunables are the catalog settings that may change without a restart.
type Tunables struct {
	CacheTTLSeconds int           `mapstructure:"cacheTTLSeconds"`
	MaxRetries      int           `mapstructure:"maxRetries"`
	RetryDelay      time.Duration `mapstructure:"retryDelay"`
	RefreshInterval time.Duration `mapstructure:"refreshInterval"`
}

func (t Tunables) CacheTTL() time.Duration {
	return time.Duration(t.CacheTTLSeconds) * time.Second
}

// DefaultTunables seeds the tunables from the environment configuration.
func DefaultTunables(cfg Config) Tunables {
	return Tunables{
		CacheTTLSeconds: cfg.Cache.TTLSeconds,
		MaxRetries:      cfg.Reconcile.MaxRetries,
		RetryDelay:      cfg.Reconcile.RetryDelay,
		RefreshInterval: cfg.Reconcile.RefreshInterval,
	}
}

type TunablesHolder struct {
	current atomic.Value // holds Tunables
}

// NewStaticTunables returns a holder that never reloads.
func NewStaticTunables(t Tunables) *TunablesHolder {
	holder := &TunablesHolder{}
	holder.current.Store(t)
	return holder
}

func NewTunablesHolder(cfg Config) (*TunablesHolder, error) {
	v := viper.New()

	v.SetConfigName("catalog")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/catalog")
	v.AddConfigPath(".")

	v.SetEnvPrefix("CATALOG")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := DefaultTunables(cfg)
	v.SetDefault("catalog.cacheTTLSeconds", defaults.CacheTTLSeconds)
	v.SetDefault("catalog.maxRetries", defaults.MaxRetries)
	v.SetDefault("catalog.retryDelay", defaults.RetryDelay)
	v.SetDefault("catalog.refreshInterval", defaults.RefreshInterval)

	fileLoaded := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		fileLoaded = false
	}

	var tunables Tunables
	if err := v.UnmarshalKey("catalog", &tunables); err != nil {
		return nil, err
	}
	if err := validateTunables(tunables); err != nil {
		return nil, err
	}

	holder := NewStaticTunables(tunables)
	if !fileLoaded {
		return holder, nil
	}

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated Tunables
		if err := v.UnmarshalKey("catalog", &updated); err != nil {
			log.Printf("[catalog-config] reload failed: %v", err)
			return
		}
		if err := validateTunables(updated); err != nil {
			log.Printf("[catalog-config] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[catalog-config] reloaded from %s", e.Name)
	})

	return holder, nil
}

func (h *TunablesHolder) Get() Tunables {
	return h.current.Load().(Tunables)
}

func validateTunables(t Tunables) error {
	if t.CacheTTLSeconds <= 0 {
		return errors.New("catalog.cacheTTLSeconds must be positive")
	}
	if t.MaxRetries < 0 {
		return errors.New("catalog.maxRetries cannot be negative")
	}
	if t.RetryDelay < 0 {
		return errors.New("catalog.retryDelay cannot be negative")
	}
	if t.RefreshInterval < 0 {
		return errors.New("catalog.refreshInterval cannot be negative")
	}
	return nil
}
