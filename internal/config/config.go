package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"

	"flightsurety/internal/domain"
)

const (
	QuorumBasisFunded     = "funded"
	QuorumBasisRegistered = "registered"
)

// Config models flightsurety.yml.
type Config struct {
	Platform struct {
		Owner          string `yaml:"owner" toml:"owner" json:"owner"`
		GenesisAirline struct {
			Address string `yaml:"address" toml:"address" json:"address"`
			Name    string `yaml:"name" toml:"name" json:"name"`
		} `yaml:"genesis_airline" toml:"genesis_airline" json:"genesis_airline"`
	} `yaml:"platform" toml:"platform" json:"platform"`
	Governance Governance `yaml:"governance" toml:"governance" json:"governance"`
	Insurance  Insurance  `yaml:"insurance" toml:"insurance" json:"insurance"`
	Oracles    Oracles    `yaml:"oracles" toml:"oracles" json:"oracles"`
	Log        Log        `yaml:"log" toml:"log" json:"log"`
}

type Governance struct {
	BootstrapThreshold int           `yaml:"bootstrap_threshold" toml:"bootstrap_threshold" json:"bootstrap_threshold"`
	MinFunding         domain.Amount `yaml:"min_funding" toml:"min_funding" json:"min_funding"`
	QuorumBasis        string        `yaml:"quorum_basis" toml:"quorum_basis" json:"quorum_basis"`
}

type Insurance struct {
	MaxPremium        domain.Amount `yaml:"max_premium" toml:"max_premium" json:"max_premium"`
	PayoutNumerator   int64         `yaml:"payout_numerator" toml:"payout_numerator" json:"payout_numerator"`
	PayoutDenominator int64         `yaml:"payout_denominator" toml:"payout_denominator" json:"payout_denominator"`
}

type Oracles struct {
	RegistrationFee    domain.Amount `yaml:"registration_fee" toml:"registration_fee" json:"registration_fee"`
	IndexSpace         int           `yaml:"index_space" toml:"index_space" json:"index_space"`
	IndexesPerOracle   int           `yaml:"indexes_per_oracle" toml:"indexes_per_oracle" json:"indexes_per_oracle"`
	ConsensusThreshold int           `yaml:"consensus_threshold" toml:"consensus_threshold" json:"consensus_threshold"`
	RequestTTL         time.Duration `yaml:"request_ttl" toml:"request_ttl" json:"request_ttl"`
	Seed               string        `yaml:"seed" toml:"seed" json:"seed"`
}

type Log struct {
	Level  string `yaml:"level" toml:"level" json:"level"`
	Format string `yaml:"format" toml:"format" json:"format"`
}

// Load reads config from the workspace, preferring flightsurety.yml over flightsurety.toml.
func Load(workspace string) (*Config, error) {
	cfg, err := LoadOptional(workspace)
	if err != nil {
		return nil, err
	}
	if cfg == nil {
		return nil, fmt.Errorf("config %s not found; create one with flightsurety config init", Path(workspace))
	}
	return cfg, nil
}

// LoadOptional returns nil,nil if no config file exists in the workspace.
func LoadOptional(workspace string) (*Config, error) {
	for _, path := range []string{Path(workspace), TOMLPath(workspace)} {
		if _, err := os.Stat(path); err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, err
		}
		return FromFile(path)
	}
	return nil, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Platform.Owner) == "" {
		return fmt.Errorf("config.platform.owner is required")
	}
	if strings.TrimSpace(c.Platform.GenesisAirline.Address) == "" {
		return fmt.Errorf("config.platform.genesis_airline.address is required")
	}
	if c.Governance.BootstrapThreshold < 1 {
		return fmt.Errorf("config.governance.bootstrap_threshold must be at least 1")
	}
	if c.Governance.MinFunding <= 0 {
		return fmt.Errorf("config.governance.min_funding must be positive")
	}
	switch c.Governance.QuorumBasis {
	case QuorumBasisFunded, QuorumBasisRegistered:
	default:
		return fmt.Errorf("config.governance.quorum_basis must be %q or %q", QuorumBasisFunded, QuorumBasisRegistered)
	}
	if c.Insurance.MaxPremium <= 0 {
		return fmt.Errorf("config.insurance.max_premium must be positive")
	}
	if c.Insurance.PayoutNumerator <= 0 || c.Insurance.PayoutDenominator <= 0 {
		return fmt.Errorf("config.insurance payout ratio must be positive")
	}
	if c.Oracles.RegistrationFee < 0 {
		return fmt.Errorf("config.oracles.registration_fee must not be negative")
	}
	if c.Oracles.IndexesPerOracle != 3 {
		return fmt.Errorf("config.oracles.indexes_per_oracle must be 3")
	}
	if c.Oracles.IndexSpace < c.Oracles.IndexesPerOracle {
		return fmt.Errorf("config.oracles.index_space must be at least %d", c.Oracles.IndexesPerOracle)
	}
	if c.Oracles.ConsensusThreshold < 1 {
		return fmt.Errorf("config.oracles.consensus_threshold must be at least 1")
	}
	if c.Oracles.RequestTTL < 0 {
		return fmt.Errorf("config.oracles.request_ttl must not be negative")
	}
	switch strings.ToLower(c.Log.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Log.Level)
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		return fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format)
	}
	return nil
}

// Path returns the YAML config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flightsurety.yml")
}

func TOMLPath(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "flightsurety.toml")
}

// GenerateDefault returns default config YAML with owner as a quoted scalar.
func GenerateDefault(owner string) string {
	quoted, err := yaml.Marshal(&yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Style: yaml.DoubleQuotedStyle, Value: owner})
	if err != nil {
		panic(fmt.Sprintf("quote owner: %v", err))
	}
	return fmt.Sprintf(defaultTemplate, strings.TrimSpace(string(quoted)))
}

// Default returns the default Config struct.
func Default(owner string) *Config {
	var cfg Config
	if err := yaml.NewDecoder(bytes.NewBufferString(fmt.Sprintf(defaultTemplate, `""`))).Decode(&cfg); err != nil {
		panic(fmt.Sprintf("decode default config: %v", err))
	}
	cfg.Platform.Owner = owner
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromTOML parses and validates config from raw TOML bytes.
func FromTOML(data []byte) (*Config, error) {
	cfg := Default("")
	if _, err := toml.Decode(string(data), cfg); err != nil {
		return nil, fmt.Errorf("invalid config toml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// FromFile reads config from the given path, choosing the parser by extension.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return FromTOML(data)
	}
	return FromYAML(data)
}

const defaultTemplate = `platform:
  owner: %s
  genesis_airline:
    address: airline-genesis
    name: Genesis Air

governance:
  # admissions below this registered count skip voting
  bootstrap_threshold: 4
  min_funding: "10"
  quorum_basis: funded

insurance:
  max_premium: "1"
  payout_numerator: 3
  payout_denominator: 2

oracles:
  registration_fee: "1"
  index_space: 10
  indexes_per_oracle: 3
  consensus_threshold: 3
  request_ttl: 0s
  seed: ""

log:
  level: info
  format: text
`
