// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package config loads and persists gtd-coach's configuration: the flat
// JSON file at $HOME/.gtd-coach/config.json, overridden by the
// environment variables listed in spec §6, in turn overridable by CLI
// flags at the call site. Grounded on the teacher's env.go expansion
// helpers (kept as-is) and its config-loader's "env overrides file"
// layering, retargeted onto this system's flat field set.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

// Config is the persistent, flat configuration set from spec §6's
// recognized environment variables.
type Config struct {
	UseAgent      bool   `json:"use_agent"`
	AgentMode     string `json:"agent_mode"` // workflow|agent|hybrid
	DisableTiming bool   `json:"disable_timing"`
	DisableMemory bool   `json:"disable_memory"`

	LMURL   string `json:"lm_url"`
	LMModel string `json:"lm_model"`

	TimingAPIKey string `json:"timing_api_key,omitempty"`

	MemoryURI      string `json:"memory_uri,omitempty"`
	MemoryUser     string `json:"memory_user,omitempty"`
	MemoryPassword string `json:"memory_password,omitempty"`

	TracerPublicKey string `json:"tracer_public_key,omitempty"`
	TracerSecretKey string `json:"tracer_secret_key,omitempty"`
	TracerHost      string `json:"tracer_host,omitempty"`

	DecayRate         float64 `json:"decay_rate"`
	BatchThreshold    int     `json:"batch_threshold"`
	UserFactsCacheTTL int     `json:"user_facts_cache_ttl_seconds"`

	// CheckpointBackend selects the checkpoint/session Storage backend:
	// "sqlite" (default), "postgres", "mysql", "etcd", "consul", or
	// "zookeeper". CheckpointEndpoints is backend-specific: a comma-separated
	// host list for etcd/zookeeper, a single "host:port" for consul.
	CheckpointBackend  string `json:"checkpoint_backend,omitempty"`
	CheckpointEndpoints string `json:"checkpoint_endpoints,omitempty"`
}

// Default returns the built-in defaults before file/env overrides.
func Default() Config {
	return Config{
		UseAgent:          true,
		AgentMode:         "agent",
		LMURL:             "http://localhost:1234/v1",
		LMModel:           "local-model",
		DecayRate:         0.05,
		BatchThreshold:    5,
		UserFactsCacheTTL: 3600,
		CheckpointBackend: "sqlite",
	}
}

// Dir returns $HOME/.gtd-coach, honoring GTD_CONFIG as an override for
// the whole directory (not just the file) so tests can sandbox it.
func Dir() (string, error) {
	if override := os.Getenv("GTD_CONFIG"); override != "" {
		return filepath.Dir(override), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("config: resolve home directory: %w", err)
	}
	return filepath.Join(home, ".gtd-coach"), nil
}

// Path returns the config file path, honoring GTD_CONFIG verbatim when set.
func Path() (string, error) {
	if override := os.Getenv("GTD_CONFIG"); override != "" {
		return override, nil
	}
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// Load reads the config file (defaults if absent) then layers the
// recognized environment variables on top, matching §6's "persistent
// config under $HOME/.gtd-coach/config.json" plus env override contract.
func Load() (Config, error) {
	if err := LoadEnvFiles(); err != nil {
		return Config{}, err
	}

	cfg := Default()

	path, err := Path()
	if err != nil {
		return cfg, err
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("config: parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return cfg, fmt.Errorf("config: read %s: %w", path, err)
	}

	applyEnvOverrides(&cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v, ok := os.LookupEnv("GTD_USE_AGENT"); ok {
		cfg.UseAgent = parseBool(v, cfg.UseAgent)
	}
	if v := os.Getenv("GTD_AGENT_MODE"); v != "" {
		cfg.AgentMode = v
	}
	if v, ok := os.LookupEnv("GTD_DISABLE_TIMING"); ok {
		cfg.DisableTiming = parseBool(v, cfg.DisableTiming)
	}
	if v, ok := os.LookupEnv("GTD_DISABLE_MEMORY"); ok {
		cfg.DisableMemory = parseBool(v, cfg.DisableMemory)
	}
	if v := os.Getenv("LM_URL"); v != "" {
		cfg.LMURL = v
	}
	if v := os.Getenv("LM_MODEL"); v != "" {
		cfg.LMModel = v
	}
	if v := os.Getenv("TIMING_API_KEY"); v != "" {
		cfg.TimingAPIKey = v
	}
	if v := os.Getenv("MEMORY_URI"); v != "" {
		cfg.MemoryURI = v
	}
	if v := os.Getenv("MEMORY_USER"); v != "" {
		cfg.MemoryUser = v
	}
	if v := os.Getenv("MEMORY_PASSWORD"); v != "" {
		cfg.MemoryPassword = v
	}
	if v := os.Getenv("TRACER_PUBLIC_KEY"); v != "" {
		cfg.TracerPublicKey = v
	}
	if v := os.Getenv("TRACER_SECRET_KEY"); v != "" {
		cfg.TracerSecretKey = v
	}
	if v := os.Getenv("TRACER_HOST"); v != "" {
		cfg.TracerHost = v
	}
	if v := os.Getenv("DECAY_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.DecayRate = f
		}
	}
	if v := os.Getenv("BATCH_THRESHOLD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.BatchThreshold = n
		}
	}
	if v := os.Getenv("USER_FACTS_CACHE_TTL"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.UserFactsCacheTTL = n
		}
	}
	if v := os.Getenv("CHECKPOINT_BACKEND"); v != "" {
		cfg.CheckpointBackend = v
	}
	if v := os.Getenv("CHECKPOINT_ENDPOINTS"); v != "" {
		cfg.CheckpointEndpoints = v
	}
}

func parseBool(v string, fallback bool) bool {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

// Save writes cfg to the config file, creating its directory if needed.
func Save(cfg Config) error {
	path, err := Path()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("config: create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("config: marshal: %w", err)
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("config: write %s: %w", path, err)
	}
	return nil
}

// Get reads a single field by its JSON key name.
func Get(cfg Config, key string) (string, error) {
	data, err := json.Marshal(cfg)
	if err != nil {
		return "", err
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return "", err
	}
	raw, ok := m[key]
	if !ok {
		return "", fmt.Errorf("config: unknown key %q", key)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return "", err
	}
	return fmt.Sprintf("%v", v), nil
}

// Set updates a single field by its JSON key name and returns the
// updated config; callers are responsible for calling Save.
func Set(cfg Config, key, value string) (Config, error) {
	patch := map[string]string{key: value}
	patchJSON, err := json.Marshal(patch)
	if err != nil {
		return cfg, err
	}
	// Round-trip cfg -> map -> merge typed value -> back into cfg, so a
	// string CLI value lands on the correctly typed field.
	data, _ := json.Marshal(cfg)
	var asMap map[string]any
	_ = json.Unmarshal(data, &asMap)
	if _, ok := asMap[key]; !ok {
		return cfg, fmt.Errorf("config: unknown key %q", key)
	}

	var rawPatch map[string]json.RawMessage
	_ = json.Unmarshal(patchJSON, &rawPatch)
	switch asMap[key].(type) {
	case bool:
		asMap[key] = parseBool(value, false)
	case float64:
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			asMap[key] = f
		}
	default:
		asMap[key] = value
	}

	merged, err := json.Marshal(asMap)
	if err != nil {
		return cfg, err
	}
	var out Config
	if err := json.Unmarshal(merged, &out); err != nil {
		return cfg, err
	}
	return out, nil
}

// EnvSummary lists every recognized environment variable and its current
// value (redacting secrets), for the `config env` CLI command.
func EnvSummary() map[string]string {
	secretKeys := map[string]bool{
		"TIMING_API_KEY": true, "MEMORY_PASSWORD": true, "TRACER_SECRET_KEY": true,
	}
	names := []string{
		"GTD_USE_AGENT", "GTD_AGENT_MODE", "GTD_CONFIG", "GTD_DISABLE_TIMING", "GTD_DISABLE_MEMORY",
		"LM_URL", "LM_MODEL", "TIMING_API_KEY", "MEMORY_URI", "MEMORY_USER", "MEMORY_PASSWORD",
		"TRACER_PUBLIC_KEY", "TRACER_SECRET_KEY", "TRACER_HOST", "DECAY_RATE", "BATCH_THRESHOLD",
		"USER_FACTS_CACHE_TTL", "CHECKPOINT_BACKEND", "CHECKPOINT_ENDPOINTS",
	}
	out := make(map[string]string, len(names))
	for _, n := range names {
		v := os.Getenv(n)
		if v != "" && secretKeys[n] {
			v = "<redacted>"
		}
		out[n] = v
	}
	return out
}
