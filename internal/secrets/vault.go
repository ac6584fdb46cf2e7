// Package secrets holds the inbound callback secrets and supports
// replacing them at runtime without a restart.
package secrets

import (
	"fmt"
	"sync"

	"github.com/Strob0t/scmrelay/internal/config"
)

// Keys of the values held in a Vault.
const (
	KeyEventSecret = "event_secret" // x-unizo-signature
	KeyHubSecret   = "hub_secret"   // x-hub-signature-256
)

// Loader retrieves secret values from a source.
type Loader func() (map[string]string, error)

// ConfigLoader reads the webhook secrets through load, typically config.Load,
// so a reload honours the same YAML and environment precedence as startup.
func ConfigLoader(load func() (*config.Config, error)) Loader {
	return func() (map[string]string, error) {
		cfg, err := load()
		if err != nil {
			return nil, err
		}
		return map[string]string{
			KeyEventSecret: cfg.Webhook.EventSecret,
			KeyHubSecret:   cfg.Webhook.SCMSecret(),
		}, nil
	}
}

// Static returns a Loader for fixed values.
func Static(values map[string]string) Loader {
	return func() (map[string]string, error) { return values, nil }
}

// Vault holds secret values in memory and supports atomic reloading.
type Vault struct {
	mu     sync.RWMutex
	values map[string]string
	loader Loader
}

// NewVault creates a Vault, calling the loader once to populate initial values.
func NewVault(loader Loader) (*Vault, error) {
	vals, err := loader()
	if err != nil {
		return nil, fmt.Errorf("initial secret load: %w", err)
	}
	return &Vault{values: vals, loader: loader}, nil
}

// Get returns the secret for key, or an empty string if not found.
func (v *Vault) Get(key string) string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.values[key]
}

// Lookup returns a function that reads key on every call, so holders
// observe reloads.
func (v *Vault) Lookup(key string) func() string {
	return func() string { return v.Get(key) }
}

// Reload calls the loader and swaps in the new values atomically.
// If the loader fails or drops a key that is currently set, the existing
// values are kept.
func (v *Vault) Reload() error {
	newVals, err := v.loader()
	if err != nil {
		return fmt.Errorf("reload secrets: %w", err)
	}

	v.mu.Lock()
	defer v.mu.Unlock()
	for k, old := range v.values {
		if old != "" && newVals[k] == "" {
			return fmt.Errorf("reload secrets: %s would become empty", k)
		}
	}
	v.values = newVals
	return nil
}
