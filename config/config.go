package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"nftmarket/core/types"
)

// Config carries the daemon configuration: network endpoints, storage
// location, marketplace roles and the initial fee policy.
type Config struct {
	RPCAddress         string   `toml:"RPCAddress"`
	DataDir            string   `toml:"DataDir"`
	LogDir             string   `toml:"LogDir"`
	Owner              string   `toml:"Owner"`
	Vault              string   `toml:"Vault"`
	FeeDestination     string   `toml:"FeeDestination"`
	NativeFeeBps       uint32   `toml:"NativeFeeBps"`
	TokenFeeBps        uint32   `toml:"TokenFeeBps"`
	AcceptedCurrencies []string `toml:"AcceptedCurrencies"`
}

// Load loads the configuration from the given path, falling back to defaults
// for omitted fields.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, fmt.Errorf("config file %s does not exist", path)
	}
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.RPCAddress) == "" {
		c.RPCAddress = "127.0.0.1:8645"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./marketdata"
	}
	if c.AcceptedCurrencies == nil {
		c.AcceptedCurrencies = []string{"native"}
	}
}

// Validate checks role addresses and fee rates.
func (c *Config) Validate() error {
	if _, err := c.OwnerAddress(); err != nil {
		return err
	}
	if _, err := c.VaultAddress(); err != nil {
		return err
	}
	if strings.TrimSpace(c.FeeDestination) != "" {
		if _, err := types.ParseAddress(c.FeeDestination); err != nil {
			return err
		}
	}
	if c.NativeFeeBps > 10_000 || c.TokenFeeBps > 10_000 {
		return fmt.Errorf("fee bps out of range")
	}
	if _, err := c.Currencies(); err != nil {
		return err
	}
	return nil
}

// OwnerAddress returns the configured administrator address.
func (c *Config) OwnerAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Owner) == "" {
		return [20]byte{}, fmt.Errorf("config: Owner is required")
	}
	return types.ParseAddress(c.Owner)
}

// VaultAddress returns the address the marketplace holds custody and funds
// under.
func (c *Config) VaultAddress() ([20]byte, error) {
	if strings.TrimSpace(c.Vault) == "" {
		return [20]byte{}, fmt.Errorf("config: Vault is required")
	}
	return types.ParseAddress(c.Vault)
}

// FeeDestinationAddress returns the platform fee recipient, or the zero
// address when unset.
func (c *Config) FeeDestinationAddress() ([20]byte, error) {
	if strings.TrimSpace(c.FeeDestination) == "" {
		return [20]byte{}, nil
	}
	return types.ParseAddress(c.FeeDestination)
}

// Currencies resolves the accepted settlement currencies. The literal
// "native" selects the native-currency sentinel.
func (c *Config) Currencies() ([][20]byte, error) {
	out := make([][20]byte, 0, len(c.AcceptedCurrencies))
	for _, entry := range c.AcceptedCurrencies {
		if strings.EqualFold(strings.TrimSpace(entry), "native") {
			out = append(out, [20]byte{})
			continue
		}
		addr, err := types.ParseAddress(entry)
		if err != nil {
			return nil, err
		}
		out = append(out, addr)
	}
	return out, nil
}
