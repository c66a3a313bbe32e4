// Package config holds the RLM runtime configuration: the master switch,
// externalization thresholds, child-call budgets, and ingest caps. Values
// change at runtime through /rlm config and persist through the host's
// session manager; a config file supplies per-project defaults.
package config

import (
	"fmt"
	"strconv"
)

// Defaults for every recognized key.
const (
	DefaultMaxDepth            = 2
	DefaultMaxConcurrency      = 4
	DefaultTokenBudgetPercent  = 60
	DefaultSafetyValvePercent  = 90
	DefaultManifestBudget      = 2000
	DefaultWarmTurns           = 3
	DefaultChildTimeoutSec     = 120
	DefaultOperationTimeoutSec = 600
	DefaultMaxChildCalls       = 50
	DefaultChildMaxTokens      = 4096
	DefaultRetentionDays       = 30
	DefaultMaxIngestFiles      = 1000
	DefaultMaxIngestBytes      = 100 << 20
)

// Config is the full recognized key set.
type Config struct {
	Enabled             bool   `json:"enabled" yaml:"enabled"`
	MaxDepth            int    `json:"maxDepth" yaml:"maxDepth"`
	MaxConcurrency      int    `json:"maxConcurrency" yaml:"maxConcurrency"`
	TokenBudgetPercent  int    `json:"tokenBudgetPercent" yaml:"tokenBudgetPercent"`
	SafetyValvePercent  int    `json:"safetyValvePercent" yaml:"safetyValvePercent"`
	ManifestBudget      int    `json:"manifestBudget" yaml:"manifestBudget"`
	WarmTurns           int    `json:"warmTurns" yaml:"warmTurns"`
	ChildTimeoutSec     int    `json:"childTimeoutSec" yaml:"childTimeoutSec"`
	OperationTimeoutSec int    `json:"operationTimeoutSec" yaml:"operationTimeoutSec"`
	MaxChildCalls       int    `json:"maxChildCalls" yaml:"maxChildCalls"`
	ChildMaxTokens      int    `json:"childMaxTokens" yaml:"childMaxTokens"`
	RetentionDays       int    `json:"retentionDays" yaml:"retentionDays"`
	MaxIngestFiles      int    `json:"maxIngestFiles" yaml:"maxIngestFiles"`
	MaxIngestBytes      int64  `json:"maxIngestBytes" yaml:"maxIngestBytes"`
	ChildModel          string `json:"childModel,omitempty" yaml:"childModel,omitempty"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Enabled:             true,
		MaxDepth:            DefaultMaxDepth,
		MaxConcurrency:      DefaultMaxConcurrency,
		TokenBudgetPercent:  DefaultTokenBudgetPercent,
		SafetyValvePercent:  DefaultSafetyValvePercent,
		ManifestBudget:      DefaultManifestBudget,
		WarmTurns:           DefaultWarmTurns,
		ChildTimeoutSec:     DefaultChildTimeoutSec,
		OperationTimeoutSec: DefaultOperationTimeoutSec,
		MaxChildCalls:       DefaultMaxChildCalls,
		ChildMaxTokens:      DefaultChildMaxTokens,
		RetentionDays:       DefaultRetentionDays,
		MaxIngestFiles:      DefaultMaxIngestFiles,
		MaxIngestBytes:      DefaultMaxIngestBytes,
	}
}

// fieldKind tags how a key parses and validates.
type fieldKind int

const (
	kindBool fieldKind = iota
	kindInt
	kindInt64
	kindString
)

// field describes one settable key.
type field struct {
	kind fieldKind
	min  int64 // inclusive lower bound for numeric kinds
	max  int64 // inclusive upper bound; 0 means unbounded
	set  func(c *Config, b bool, n int64, s string)
}

// schema is the declared key set for /rlm config.
var schema = map[string]field{
	"enabled":             {kind: kindBool, set: func(c *Config, b bool, _ int64, _ string) { c.Enabled = b }},
	"maxDepth":            {kind: kindInt, min: 1, max: 10, set: func(c *Config, _ bool, n int64, _ string) { c.MaxDepth = int(n) }},
	"maxConcurrency":      {kind: kindInt, min: 1, max: 64, set: func(c *Config, _ bool, n int64, _ string) { c.MaxConcurrency = int(n) }},
	"tokenBudgetPercent":  {kind: kindInt, min: 1, max: 100, set: func(c *Config, _ bool, n int64, _ string) { c.TokenBudgetPercent = int(n) }},
	"safetyValvePercent":  {kind: kindInt, min: 1, max: 100, set: func(c *Config, _ bool, n int64, _ string) { c.SafetyValvePercent = int(n) }},
	"manifestBudget":      {kind: kindInt, min: 100, max: 100000, set: func(c *Config, _ bool, n int64, _ string) { c.ManifestBudget = int(n) }},
	"warmTurns":           {kind: kindInt, min: 1, max: 100, set: func(c *Config, _ bool, n int64, _ string) { c.WarmTurns = int(n) }},
	"childTimeoutSec":     {kind: kindInt, min: 1, max: 3600, set: func(c *Config, _ bool, n int64, _ string) { c.ChildTimeoutSec = int(n) }},
	"operationTimeoutSec": {kind: kindInt, min: 1, max: 7200, set: func(c *Config, _ bool, n int64, _ string) { c.OperationTimeoutSec = int(n) }},
	"maxChildCalls":       {kind: kindInt, min: 1, max: 10000, set: func(c *Config, _ bool, n int64, _ string) { c.MaxChildCalls = int(n) }},
	"childMaxTokens":      {kind: kindInt, min: 1, max: 128000, set: func(c *Config, _ bool, n int64, _ string) { c.ChildMaxTokens = int(n) }},
	"retentionDays":       {kind: kindInt, min: 0, max: 3650, set: func(c *Config, _ bool, n int64, _ string) { c.RetentionDays = int(n) }},
	"maxIngestFiles":      {kind: kindInt, min: 1, max: 1000000, set: func(c *Config, _ bool, n int64, _ string) { c.MaxIngestFiles = int(n) }},
	"maxIngestBytes":      {kind: kindInt64, min: 1, set: func(c *Config, _ bool, n int64, _ string) { c.MaxIngestBytes = n }},
	"childModel":          {kind: kindString, set: func(c *Config, _ bool, _ int64, s string) { c.ChildModel = s }},
}

// Keys returns the settable key names.
func Keys() []string {
	keys := make([]string, 0, len(schema))
	for k := range schema {
		keys = append(keys, k)
	}
	return keys
}

// Set parses and applies one key=value assignment. Unknown keys and
// type/range mismatches return errors without mutating the config. The
// special childModel values "default" and "" clear the override.
func (c *Config) Set(key, value string) error {
	f, ok := schema[key]
	if !ok {
		return fmt.Errorf("config: unknown key %q", key)
	}
	switch f.kind {
	case kindBool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("config: %s wants true/false, got %q", key, value)
		}
		f.set(c, b, 0, "")
	case kindInt, kindInt64:
		n, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: %s wants a number, got %q", key, value)
		}
		if n < f.min {
			return fmt.Errorf("config: %s = %d below minimum %d", key, n, f.min)
		}
		if f.max > 0 && n > f.max {
			return fmt.Errorf("config: %s = %d above maximum %d", key, n, f.max)
		}
		f.set(c, false, n, "")
	case kindString:
		if key == "childModel" && (value == "default" || value == "") {
			c.ChildModel = ""
			return nil
		}
		f.set(c, false, 0, value)
	}
	return nil
}

// Validate checks cross-field consistency.
func (c *Config) Validate() error {
	if c.TokenBudgetPercent >= c.SafetyValvePercent {
		return fmt.Errorf("config: tokenBudgetPercent (%d) must be below safetyValvePercent (%d)",
			c.TokenBudgetPercent, c.SafetyValvePercent)
	}
	if c.MaxDepth < 1 {
		return fmt.Errorf("config: maxDepth must be at least 1")
	}
	return nil
}
