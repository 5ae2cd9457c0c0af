package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/awmpietro/golang-hierarchical-execution-engine/internal/rules"
)

type Runtime struct {
	HTTPAddr          string
	GlobalThreshold   float64
	CumulativeCap     float64
	MaxDepth          int
	TreeCacheMaxItems int
	EventBuffer       int
	EventLog          string
	EventDB           string
	Profile           string
	Adaptive          bool
	RuleTimeout       time.Duration
	RulesFile         string
	LogLevel          string
	// Rules are declared in RulesFile, on top of the default catalog.
	Rules []rules.Spec
}

// File is the YAML document named by HGP_RULES_FILE.
type File struct {
	Engine struct {
		GlobalThreshold float64       `yaml:"global_threshold"`
		CumulativeCap   float64       `yaml:"cumulative_cap"`
		MaxDepth        int           `yaml:"max_depth"`
		RuleTimeout     time.Duration `yaml:"rule_timeout"`
	} `yaml:"engine"`
	Profile  string       `yaml:"profile"`
	Adaptive bool         `yaml:"adaptive"`
	Rules    []rules.Spec `yaml:"rules"`
}

func defaults() Runtime {
	return Runtime{
		HTTPAddr:          ":8080",
		GlobalThreshold:   0.30,
		CumulativeCap:     0.50,
		MaxDepth:          64,
		TreeCacheMaxItems: 1024,
		EventBuffer:       4096,
		LogLevel:          "info",
	}
}

// Load builds the runtime config: defaults, then the rules file, then env.
func Load() (Runtime, error) {
	cfg := defaults()

	cfg.RulesFile = getenv("HGP_RULES_FILE", "")
	if cfg.RulesFile != "" {
		f, err := LoadFile(cfg.RulesFile)
		if err != nil {
			return Runtime{}, err
		}
		cfg.apply(f)
	}

	cfg.HTTPAddr = getenv("HTTP_ADDR", cfg.HTTPAddr)
	cfg.GlobalThreshold = getenvFloat("HGP_GLOBAL_THRESHOLD", cfg.GlobalThreshold, 0, 1)
	cfg.CumulativeCap = getenvFloat("HGP_CUMULATIVE_CAP", cfg.CumulativeCap, 0.01, 1)
	cfg.MaxDepth = getenvInt("HGP_MAX_DEPTH", cfg.MaxDepth, 1)
	cfg.TreeCacheMaxItems = getenvInt("HGP_TREE_CACHE_MAX_ITEMS", cfg.TreeCacheMaxItems, 1)
	cfg.EventBuffer = getenvInt("HGP_EVENT_BUFFER", cfg.EventBuffer, 1)
	cfg.EventLog = getenv("HGP_EVENT_LOG", cfg.EventLog)
	cfg.EventDB = getenv("HGP_EVENT_DB", cfg.EventDB)
	cfg.Profile = getenv("HGP_PROFILE", cfg.Profile)
	cfg.Adaptive = getenvBool("HGP_ADAPTIVE", cfg.Adaptive)
	cfg.RuleTimeout = getenvDuration("HGP_RULE_TIMEOUT", cfg.RuleTimeout)
	cfg.LogLevel = getenv("HGP_LOG_LEVEL", cfg.LogLevel)

	return cfg, nil
}

func LoadFile(path string) (File, error) {
	var f File
	data, err := os.ReadFile(path)
	if err != nil {
		return f, fmt.Errorf("failed to read rules file: %w", err)
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return f, fmt.Errorf("failed to parse rules file: %w", err)
	}
	return f, nil
}

func (c *Runtime) apply(f File) {
	if f.Engine.GlobalThreshold > 0 {
		c.GlobalThreshold = f.Engine.GlobalThreshold
	}
	if f.Engine.CumulativeCap > 0 {
		c.CumulativeCap = f.Engine.CumulativeCap
	}
	if f.Engine.MaxDepth > 0 {
		c.MaxDepth = f.Engine.MaxDepth
	}
	if f.Engine.RuleTimeout > 0 {
		c.RuleTimeout = f.Engine.RuleTimeout
	}
	if f.Profile != "" {
		c.Profile = f.Profile
	}
	c.Adaptive = c.Adaptive || f.Adaptive
	c.Rules = append(c.Rules, f.Rules...)
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getenvInt(key string, fallback, min int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min {
		return fallback
	}
	return v
}

func getenvFloat(key string, fallback, min, max float64) float64 {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil || v < min || v > max {
		return fallback
	}
	return v
}

func getenvBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}

func getenvDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	v, err := time.ParseDuration(raw)
	if err != nil || v < 0 {
		return fallback
	}
	return v
}
