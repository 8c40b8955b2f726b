package config

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"

	"github.com/voltbay/powerbank/core/metrics"
	"github.com/voltbay/powerbank/core/relay"
	"github.com/voltbay/powerbank/infra/gpio"
	"github.com/voltbay/powerbank/infra/mqtt"
)

type Config struct {
	MQTT       mqtt.Config     `json:"mqtt"`
	Pricing    PricingConfig   `json:"pricing"`
	Authority  AuthorityConfig `json:"authority"`
	Controller relay.Config    `json:"controller"`
	Hardware   gpio.Config     `json:"hardware"`
	Metrics    metrics.Config  `json:"metrics"`
	Audit      AuditConfig     `json:"audit"`
}

func Load(path string) (*Config, error) {
	k := koanf.New(".")
	ext := strings.ToLower(filepath.Ext(path))
	var parser koanf.Parser
	switch ext {
	case ".yaml", ".yml":
		parser = yaml.Parser()
	case ".json":
		parser = json.Parser()
	default:
		return nil, fmt.Errorf("unsupported config format: %s", ext)
	}
	if err := k.Load(file.Provider(path), parser); err != nil {
		return nil, err
	}
	// Optional environment overrides
	if err := k.Load(env.Provider("PB_", "__", func(s string) string {
		s = strings.TrimPrefix(strings.ToLower(s), "pb_")
		return strings.ReplaceAll(s, "__", ".")
	}), nil); err != nil {
		return nil, err
	}
	var cfg Config
	if err := k.UnmarshalWithConf("", &cfg, koanf.UnmarshalConf{Tag: "json"}); err != nil {
		return nil, err
	}
	cfg.MQTT.SetDefaults()
	cfg.Pricing.SetDefaults()
	cfg.Authority.SetDefaults()
	cfg.Controller.SetDefaults()
	cfg.Hardware.SetDefaults()
	cfg.Metrics.SetDefaults()
	cfg.Audit.SetDefaults()
	if err := cfg.Pricing.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Authority.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Hardware.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Audit.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}
