// Package config provides application configuration management with support for environment variables, command-line flags, and .env files.
package config

import (
	"bufio"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Output formats accepted by the converter.
const (
	FormatM4A = "m4a"
	FormatM4B = "m4b"
)

// Config holds the application configuration.
type Config struct {
	App        AppConfig
	Logger     LoggerConfig
	Output     OutputConfig
	Activation ActivationConfig
	Ledger     LedgerConfig
}

// AppConfig holds application-level configuration.
type AppConfig struct {
	Environment string
}

// LoggerConfig holds logging configuration.
type LoggerConfig struct {
	Level string
}

// OutputConfig holds output layout configuration.
type OutputConfig struct {
	// Dir is the root directory converted books are written to (default: ~/Audiobooks).
	Dir string
	// Format is the container extension, "m4b" or "m4a" (default: m4b).
	Format string
	// Flat disables the author/series/title folder structure.
	Flat bool
	// SeriesInFolders inserts a series directory between author and title.
	SeriesInFolders bool
	// NamedChapters keeps the source chapter titles; when false they become "Chapter N".
	NamedChapters bool
	// ExtractCover additionally writes the cover image next to the output file.
	ExtractCover bool
	// Overwrite forces re-conversion even when the ledger says the book is done.
	Overwrite bool
}

// ActivationConfig holds the Audible activation secret.
type ActivationConfig struct {
	// Code is the 8-hex-digit account activation value. May be empty; the
	// conversion request can supply one per call.
	Code string
}

// LedgerConfig holds conversion ledger configuration.
type LedgerConfig struct {
	// Enabled turns the sqlite ledger on (default: true).
	Enabled bool
	// Path is the ledger database location (default: {output}/.aaxconv.db).
	Path string
}

// LoadConfig loads configuration from multiple sources with precedence:
// 1. Command-line flags (highest priority).
// 2. Environment variables.
// 3. .env file.
// 4. Default values (lowest priority).
func LoadConfig() (*Config, error) {
	// Define command-line flags.
	env := flag.String("env", "", "Environment (development, staging, production)")
	logLevel := flag.String("log-level", "", "Log level (debug, info, warn, error)")
	outputDir := flag.String("output-dir", "", "Root directory for converted audiobooks")
	outputFormat := flag.String("format", "", "Output container format (m4b or m4a)")
	flat := flag.String("flat", "", "Write output directly into the output directory (default: false)")
	seriesFolders := flag.String("series-folders", "", "Group books by series under the author folder (default: true)")
	namedChapters := flag.String("named-chapters", "", "Keep chapter titles from the source (default: true)")
	extractCover := flag.String("extract-cover", "", "Write the cover image next to the output file (default: false)")
	overwrite := flag.String("overwrite", "", "Re-convert even if a previous run completed (default: false)")
	activationCode := flag.String("activation", "", "Audible activation code (8 hex digits)")
	ledgerEnabled := flag.String("ledger", "", "Track completed conversions in a sqlite ledger (default: true)")
	ledgerPath := flag.String("ledger-path", "", "Path to the conversion ledger database")

	envFile := flag.String("env-file", ".env", "Path to .env file")

	// Parse flags; the default flag set exits the process on a parse error.
	flag.Parse()

	// Load .env file if it exists (silently ignore if not found).
	_ = loadEnvFile(*envFile)

	// Build config with proper precedence.
	cfg := &Config{
		App: AppConfig{
			Environment: getConfigValue(*env, "ENV", "development"),
		},
		Logger: LoggerConfig{
			Level: getConfigValue(*logLevel, "LOG_LEVEL", "info"),
		},
		Output: OutputConfig{
			Dir:             getConfigValue(*outputDir, "OUTPUT_DIR", ""),
			Format:          strings.ToLower(getConfigValue(*outputFormat, "OUTPUT_FORMAT", FormatM4B)),
			Flat:            getBoolConfigValue(*flat, "FLAT_FOLDER_STRUCTURE", false),
			SeriesInFolders: getBoolConfigValue(*seriesFolders, "SERIES_TITLE_IN_FOLDER_STRUCTURE", true),
			NamedChapters:   getBoolConfigValue(*namedChapters, "USE_NAMED_CHAPTERS", true),
			ExtractCover:    getBoolConfigValue(*extractCover, "EXTRACT_COVER_IMAGE", false),
			Overwrite:       getBoolConfigValue(*overwrite, "OVERWRITE_EXISTING", false),
		},
		Activation: ActivationConfig{
			Code: getConfigValue(*activationCode, "ACTIVATION_CODE", ""),
		},
		Ledger: LedgerConfig{
			Enabled: getBoolConfigValue(*ledgerEnabled, "LEDGER_ENABLED", true),
			Path:    getConfigValue(*ledgerPath, "LEDGER_PATH", ""),
		},
	}

	// Expand and validate output directory.
	if err := cfg.expandOutputDir(); err != nil {
		return nil, fmt.Errorf("invalid output directory: %w", err)
	}

	// Expand ledger path (defaults to {output}/.aaxconv.db).
	if err := cfg.expandLedgerPath(); err != nil {
		return nil, fmt.Errorf("invalid ledger path: %w", err)
	}

	// Validate configuration.
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required config values are present and valid.
func (c *Config) Validate() error {
	if c.App.Environment == "" {
		return errors.New("ENV is required")
	}

	validEnvs := map[string]bool{
		"development": true,
		"staging":     true,
		"production":  true,
	}
	if !validEnvs[c.App.Environment] {
		return fmt.Errorf("invalid environment: %s (must be development, staging, or production)", c.App.Environment)
	}

	validLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLevels[strings.ToLower(c.Logger.Level)] {
		return fmt.Errorf("invalid log level: %s (must be debug, info, warn, or error)", c.Logger.Level)
	}

	if c.Output.Format != FormatM4A && c.Output.Format != FormatM4B {
		return fmt.Errorf("invalid output format: %s (must be m4b or m4a)", c.Output.Format)
	}

	if c.Output.Dir == "" {
		return errors.New("output directory cannot be empty after expansion")
	}

	// Activation code may be empty here; conversion fails later with a
	// missing-activation error if no request-level code arrives either.

	return nil
}

// expandOutputDir expands ~ and makes the path absolute.
func (c *Config) expandOutputDir() error {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("failed to get home directory: %w", err)
	}
	defaultPath := filepath.Join(homeDir, "Audiobooks")

	expanded, err := expandPath(c.Output.Dir, defaultPath)
	if err != nil {
		return err
	}
	c.Output.Dir = expanded
	return nil
}

// expandLedgerPath expands ~ and makes the path absolute.
// Defaults to {output}/.aaxconv.db if not specified.
func (c *Config) expandLedgerPath() error {
	defaultPath := filepath.Join(c.Output.Dir, ".aaxconv.db")

	expanded, err := expandPath(c.Ledger.Path, defaultPath)
	if err != nil {
		return err
	}
	c.Ledger.Path = expanded
	return nil
}

// expandPath expands ~ to the home directory and makes the path absolute.
// Empty input falls back to defaultPath.
func expandPath(path, defaultPath string) (string, error) {
	if path == "" {
		path = defaultPath
	}

	if strings.HasPrefix(path, "~") {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(homeDir, strings.TrimPrefix(path, "~"))
	}

	// Make absolute if needed.
	if !filepath.IsAbs(path) {
		absPath, err := filepath.Abs(path)
		if err != nil {
			return "", fmt.Errorf("failed to get absolute path: %w", err)
		}
		path = absPath
	}

	return filepath.Clean(path), nil
}

// getConfigValue returns the first non-empty value from flag, env var, or default.
func getConfigValue(flagValue, envKey, defaultValue string) string {
	// Priority 1: Command-line flag.
	if flagValue != "" {
		return flagValue
	}

	// Priority 2: Environment variable.
	if envValue := os.Getenv(envKey); envValue != "" {
		return envValue
	}

	// Priority 3: Default value.
	return defaultValue
}

// getBoolConfigValue returns a bool from flag, env var, or default.
// Accepts: "true", "1", "yes" (case-insensitive) as true; anything else is false.
func getBoolConfigValue(flagValue, envKey string, defaultValue bool) bool {
	strValue := getConfigValue(flagValue, envKey, "")
	if strValue == "" {
		return defaultValue
	}
	strValue = strings.ToLower(strValue)
	return strValue == "true" || strValue == "1" || strValue == "yes"
}

// loadEnvFile loads environment variables from a .env file.
// Format: KEY=value (one per line, # for comments).
func loadEnvFile(path string) error {
	file, err := os.Open(path) //#nosec G304 -- Config file path from user input is expected
	if err != nil {
		return err
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	lineNum := 0

	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())

		// Skip empty lines and comments.
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		// Parse KEY=value.
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("invalid format at line %d: %s", lineNum, line)
		}

		key := strings.TrimSpace(parts[0])
		value := strings.TrimSpace(parts[1])

		// Remove quotes if present.
		value = strings.Trim(value, `"'`)

		// Only set if not already set (env vars take precedence over .env file).
		if os.Getenv(key) == "" {
			if err := os.Setenv(key, value); err != nil {
				return fmt.Errorf("failed to set env var %s: %w", key, err)
			}
		}
	}

	return scanner.Err()
}
