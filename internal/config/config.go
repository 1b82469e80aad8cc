package config

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Config holds application configuration.
type Config struct {
	// PageSize is the regular-thread page size for paginated loads.
	PageSize int `json:"page_size"`

	// RemoteDSN selects and configures the remote gateway backend.
	// Scheme decides the implementation: http:// or https:// for the
	// HTTP document API, postgres:// for direct Postgres, memory:// for
	// the in-process backend (tests, offline use).
	RemoteDSN string `json:"remote_dsn,omitempty"`

	// RemoteToken is the bearer token sent to the HTTP backend.
	RemoteToken string `json:"remote_token,omitempty"`

	// RemoteTimeoutSecs bounds each remote gateway call. 0 means the
	// backend default.
	RemoteTimeoutSecs int `json:"remote_timeout_secs,omitempty"`

	// DBMaxOpenConns limits the maximum number of open database connections.
	// If set to 1, all database access is serialized (reduces "database is locked" errors).
	// 0 means use sql.DB default (unlimited). Only set if you experience contention.
	DBMaxOpenConns int `json:"db_max_open_conns,omitempty"`

	// DBMaxIdleConns limits the maximum number of idle database connections.
	// 0 means use sql.DB default. Typically set equal to DBMaxOpenConns.
	DBMaxIdleConns int `json:"db_max_idle_conns,omitempty"`

	// DisabledTools is a list of MCP tool names to exclude from registration.
	// Unknown tool names are ignored at registration time.
	DisabledTools []string `json:"disabled_tools,omitempty"`
}

// DefaultPageSize is the regular-thread page size when unconfigured.
const DefaultPageSize = 40

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		PageSize:  DefaultPageSize,
		RemoteDSN: "memory://",
	}
}

// Load loads configuration from baseDir/config.json.
// Returns default config if the file doesn't exist.
// The baseDir parameter allows tests to use t.TempDir() instead of ~/.loam.
func Load(baseDir string) (*Config, error) {
	cfg, err := loadFileRaw(filepath.Join(baseDir, "config.json"))
	if err != nil {
		return nil, err
	}
	return Merge(DefaultConfig(), cfg), nil
}

// loadFileRaw loads configuration from a specific file path.
// Returns zero-valued config if the file doesn't exist (not defaults).
func loadFileRaw(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			// File doesn't exist, return zero config
			return &Config{}, nil
		}
		return nil, err
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Merge combines base and overlay configs.
// Overlay values take precedence for scalars; arrays are merged and deduplicated.
func Merge(base, overlay *Config) *Config {
	result := &Config{}

	// Scalars: overlay wins if non-zero, else base
	result.PageSize = overlay.PageSize
	if result.PageSize == 0 {
		result.PageSize = base.PageSize
	}

	result.RemoteDSN = overlay.RemoteDSN
	if result.RemoteDSN == "" {
		result.RemoteDSN = base.RemoteDSN
	}

	result.RemoteToken = overlay.RemoteToken
	if result.RemoteToken == "" {
		result.RemoteToken = base.RemoteToken
	}

	result.RemoteTimeoutSecs = overlay.RemoteTimeoutSecs
	if result.RemoteTimeoutSecs == 0 {
		result.RemoteTimeoutSecs = base.RemoteTimeoutSecs
	}

	result.DBMaxOpenConns = overlay.DBMaxOpenConns
	if result.DBMaxOpenConns == 0 {
		result.DBMaxOpenConns = base.DBMaxOpenConns
	}

	result.DBMaxIdleConns = overlay.DBMaxIdleConns
	if result.DBMaxIdleConns == 0 {
		result.DBMaxIdleConns = base.DBMaxIdleConns
	}

	// Arrays: merge and deduplicate
	result.DisabledTools = mergeStringSlice(base.DisabledTools, overlay.DisabledTools)

	return result
}

// mergeStringSlice combines two slices, trims whitespace, and removes duplicates.
func mergeStringSlice(a, b []string) []string {
	seen := make(map[string]bool)
	result := make([]string, 0, len(a)+len(b))

	for _, s := range a {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}
	for _, s := range b {
		s = strings.TrimSpace(s)
		if s != "" && !seen[s] {
			seen[s] = true
			result = append(result, s)
		}
	}

	if len(result) == 0 {
		return nil
	}
	return result
}
