// Package config loads runtime configuration from built-in defaults, an
// optional YAML file and CDSS_* environment variables, with the environment
// taking highest precedence.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config keys.
const (
	KeyDBPath         = "db-path"
	KeyTAKDir         = "tak-dir"
	KeyRulesDir       = "rules-dir"
	KeyRelevanceHours = "relevance-hours"
	KeyLogLevel       = "log-level"
)

// Config is the resolved runtime configuration.
type Config struct {
	DBPath    string
	TAKDir    string
	RulesDir  string
	Relevance time.Duration
	LogLevel  slog.Level
}

// Load resolves configuration. path names an optional config file; empty
// means defaults and environment only. Environment variables use the CDSS_
// prefix with dashes mapped to underscores (CDSS_DB_PATH, CDSS_TAK_DIR...).
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetDefault(KeyDBPath, "data/cdss.db")
	v.SetDefault(KeyTAKDir, "knowledge/tak")
	v.SetDefault(KeyRulesDir, "knowledge/rules")
	v.SetDefault(KeyRelevanceHours, 24)
	v.SetDefault(KeyLogLevel, "info")

	v.SetEnvPrefix("CDSS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	level, err := parseLevel(v.GetString(KeyLogLevel))
	if err != nil {
		return nil, err
	}
	hours := v.GetInt(KeyRelevanceHours)
	if hours <= 0 {
		return nil, fmt.Errorf("%s must be positive, got %d", KeyRelevanceHours, hours)
	}

	return &Config{
		DBPath:    v.GetString(KeyDBPath),
		TAKDir:    v.GetString(KeyTAKDir),
		RulesDir:  v.GetString(KeyRulesDir),
		Relevance: time.Duration(hours) * time.Hour,
		LogLevel:  level,
	}, nil
}

func parseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q", s)
}
