// Package config loads and validates the memory layer's configuration,
// matching the sections and keys described for the core's external
// configuration interface: database, provider (classifier), memory, modes,
// and logging.
//
// Precedence, highest first: a direct Config passed to Coordinator.Configure, then
// environment variables (MEMORI_<SECTION>__<KEY>), then a config file
// (JSON or YAML) found on a documented search path, then built-in defaults.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/kittclouds/memori/internal/merr"
)

// Config is the fully assembled, validated configuration.
type Config struct {
	Database Database `json:"database" yaml:"database" validate:"required"`
	Provider Provider `json:"provider" yaml:"provider" validate:"required"`
	Memory   Memory   `json:"memory" yaml:"memory" validate:"required"`
	Modes    Modes    `json:"modes" yaml:"modes" validate:"required"`
	Logging  Logging  `json:"logging" yaml:"logging" validate:"required"`
}

// Database configures the Store's connection.
type Database struct {
	ConnectionString    string `json:"connection_string" yaml:"connection_string" validate:"required"`
	PoolSize            int    `json:"pool_size" yaml:"pool_size" validate:"min=1,max=200"`
	EchoSQL             bool   `json:"echo_sql" yaml:"echo_sql"`
	MigrationAuto       bool   `json:"migration_auto" yaml:"migration_auto"`
	BackupEnabled       bool   `json:"backup_enabled" yaml:"backup_enabled"`
	BackupIntervalHours int    `json:"backup_interval_hours" yaml:"backup_interval_hours" validate:"min=1"`
}

// Provider configures the ProcessingClient adapter the Classifier and
// Retrieval planner call for structured categorization and planning.
type Provider struct {
	APIType         string            `json:"api_type" yaml:"api_type" validate:"required,oneof=openai azure anthropic custom rule_based"`
	APIKey          string            `json:"api_key" yaml:"api_key"`
	BaseURL         string            `json:"base_url" yaml:"base_url"`
	Model           string            `json:"model" yaml:"model"`
	AzureEndpoint   string            `json:"azure_endpoint" yaml:"azure_endpoint"`
	AzureDeployment string            `json:"azure_deployment" yaml:"azure_deployment"`
	APIVersion      string            `json:"api_version" yaml:"api_version"`
	Organization    string            `json:"organization" yaml:"organization"`
	Project         string            `json:"project" yaml:"project"`
	Timeout         time.Duration     `json:"timeout" yaml:"timeout" validate:"min=1s"`
	MaxRetries      int               `json:"max_retries" yaml:"max_retries" validate:"min=0,max=10"`
	DefaultHeaders  map[string]string `json:"default_headers" yaml:"default_headers"`
	DefaultQuery    map[string]string `json:"default_query" yaml:"default_query"`
}

// Memory configures retention, namespacing, and injection limits.
type Memory struct {
	Namespace             string  `json:"namespace" yaml:"namespace" validate:"required"`
	SharedMemory          bool    `json:"shared_memory" yaml:"shared_memory"`
	RetentionPolicy       string  `json:"retention_policy" yaml:"retention_policy" validate:"oneof=7_days 30_days 90_days permanent"`
	AutoCleanup           bool    `json:"auto_cleanup" yaml:"auto_cleanup"`
	ImportanceThreshold   float64 `json:"importance_threshold" yaml:"importance_threshold" validate:"min=0,max=1"`
	MaxShortTermMemories  int     `json:"max_short_term_memories" yaml:"max_short_term_memories" validate:"min=1"`
	MaxLongTermMemories   int     `json:"max_long_term_memories" yaml:"max_long_term_memories" validate:"min=1"`
	ContextInjection      bool    `json:"context_injection" yaml:"context_injection"`
	ContextLimit          int     `json:"context_limit" yaml:"context_limit" validate:"min=1"`
	RulesEnabled          bool    `json:"rules_enabled" yaml:"rules_enabled"`
}

// Modes configures conscious/auto ingestion and the background analyzer.
type Modes struct {
	ConsciousIngest       bool `json:"conscious_ingest" yaml:"conscious_ingest"`
	AutoIngest            bool `json:"auto_ingest" yaml:"auto_ingest"`
	AnalysisIntervalHours int  `json:"analysis_interval_hours" yaml:"analysis_interval_hours" validate:"min=0"`
	WorkingSetSize        int  `json:"working_set_size" yaml:"working_set_size" validate:"min=1,max=200"`
}

// Logging configures the zap logger every component constructor receives.
type Logging struct {
	Level             string `json:"level" yaml:"level" validate:"oneof=debug info warn error"`
	LogToFile         bool   `json:"log_to_file" yaml:"log_to_file"`
	LogFilePath       string `json:"log_file_path" yaml:"log_file_path"`
	StructuredLogging bool   `json:"structured_logging" yaml:"structured_logging"`
}

// Defaults returns the documented built-in defaults.
func Defaults() Config {
	return Config{
		Database: Database{
			ConnectionString:    "file:memori.db",
			PoolSize:            10,
			MigrationAuto:       true,
			BackupIntervalHours: 24,
		},
		Provider: Provider{
			APIType:    "rule_based",
			Timeout:    30 * time.Second,
			MaxRetries: 3,
		},
		Memory: Memory{
			Namespace:            "default",
			RetentionPolicy:      "30_days",
			AutoCleanup:          true,
			ImportanceThreshold:  0.3,
			MaxShortTermMemories: 500,
			MaxLongTermMemories:  50000,
			ContextInjection:     true,
			ContextLimit:         800,
			RulesEnabled:         false,
		},
		Modes: Modes{
			ConsciousIngest:       true,
			AutoIngest:            true,
			AnalysisIntervalHours: 0, // one-shot at enable only, by default
			WorkingSetSize:        10,
		},
		Logging: Logging{
			Level:             "info",
			StructuredLogging: true,
		},
	}
}

// fileSearchPath matches the documented search order: current directory,
// ./config, the user's home directory, then a system-wide path.
func fileSearchPath(filenames ...string) []string {
	var paths []string
	dirs := []string{".", "./config"}
	if home, err := os.UserHomeDir(); err == nil {
		dirs = append(dirs, filepath.Join(home, ".memori"))
	}
	dirs = append(dirs, "/etc/memori")

	for _, dir := range dirs {
		for _, name := range filenames {
			paths = append(paths, filepath.Join(dir, name))
		}
	}
	return paths
}

// Load assembles the final Config. direct, if non-nil, is the struct passed
// directly to Coordinator.Configure and wins over every other source
// field-by-field.
func Load(direct *Config) (*Config, error) {
	cfg := Defaults()

	if err := loadFile(&cfg); err != nil {
		return nil, merr.New(merr.KindConfig, "config.Load", err)
	}

	loadEnv(&cfg)

	if direct != nil {
		mergeDirect(&cfg, direct)
	}

	if err := Validate(&cfg); err != nil {
		return nil, merr.New(merr.KindConfig, "config.Load", err)
	}

	return &cfg, nil
}

// loadFile locates the first config file on the search path and decodes it
// onto cfg. Unknown keys are rejected (strict decode) per the design note
// that reflection-based, anything-goes configuration is not carried forward.
func loadFile(cfg *Config) error {
	for _, path := range fileSearchPath("memori.json", "memori.yaml", "memori.yml") {
		data, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return fmt.Errorf("reading config file %s: %w", path, err)
		}

		return decodeInto(path, data, cfg)
	}
	return nil
}

// decodeInto strictly decodes data (JSON or YAML, chosen by path's
// extension) onto cfg, rejecting unknown keys.
func decodeInto(path string, data []byte, cfg *Config) error {
	switch filepath.Ext(path) {
	case ".json":
		dec := json.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil {
			return fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	return nil
}

// loadEnv overlays environment variables of the form
// MEMORI_<SECTION>__<KEY>, loading a .env file first if present so local
// development does not require exporting variables by hand.
func loadEnv(cfg *Config) {
	_ = godotenv.Load() // best-effort; absence of .env is not an error

	setString := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok {
			*dst = v
		}
	}
	setBool := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok {
			if b, err := strconv.ParseBool(v); err == nil {
				*dst = b
			}
		}
	}
	setInt := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok {
			if n, err := strconv.Atoi(v); err == nil {
				*dst = n
			}
		}
	}
	setFloat := func(key string, dst *float64) {
		if v, ok := os.LookupEnv(key); ok {
			if f, err := strconv.ParseFloat(v, 64); err == nil {
				*dst = f
			}
		}
	}
	setDuration := func(key string, dst *time.Duration) {
		if v, ok := os.LookupEnv(key); ok {
			if d, err := time.ParseDuration(v); err == nil {
				*dst = d
			}
		}
	}

	setString("MEMORI_DATABASE__CONNECTION_STRING", &cfg.Database.ConnectionString)
	setInt("MEMORI_DATABASE__POOL_SIZE", &cfg.Database.PoolSize)
	setBool("MEMORI_DATABASE__ECHO_SQL", &cfg.Database.EchoSQL)
	setBool("MEMORI_DATABASE__MIGRATION_AUTO", &cfg.Database.MigrationAuto)
	setBool("MEMORI_DATABASE__BACKUP_ENABLED", &cfg.Database.BackupEnabled)
	setInt("MEMORI_DATABASE__BACKUP_INTERVAL_HOURS", &cfg.Database.BackupIntervalHours)

	setString("MEMORI_PROVIDER__API_TYPE", &cfg.Provider.APIType)
	setString("MEMORI_PROVIDER__API_KEY", &cfg.Provider.APIKey)
	setString("MEMORI_PROVIDER__BASE_URL", &cfg.Provider.BaseURL)
	setString("MEMORI_PROVIDER__MODEL", &cfg.Provider.Model)
	setString("MEMORI_PROVIDER__AZURE_ENDPOINT", &cfg.Provider.AzureEndpoint)
	setString("MEMORI_PROVIDER__AZURE_DEPLOYMENT", &cfg.Provider.AzureDeployment)
	setString("MEMORI_PROVIDER__API_VERSION", &cfg.Provider.APIVersion)
	setString("MEMORI_PROVIDER__ORGANIZATION", &cfg.Provider.Organization)
	setString("MEMORI_PROVIDER__PROJECT", &cfg.Provider.Project)
	setDuration("MEMORI_PROVIDER__TIMEOUT", &cfg.Provider.Timeout)
	setInt("MEMORI_PROVIDER__MAX_RETRIES", &cfg.Provider.MaxRetries)

	setString("MEMORI_MEMORY__NAMESPACE", &cfg.Memory.Namespace)
	setBool("MEMORI_MEMORY__SHARED_MEMORY", &cfg.Memory.SharedMemory)
	setString("MEMORI_MEMORY__RETENTION_POLICY", &cfg.Memory.RetentionPolicy)
	setBool("MEMORI_MEMORY__AUTO_CLEANUP", &cfg.Memory.AutoCleanup)
	setFloat("MEMORI_MEMORY__IMPORTANCE_THRESHOLD", &cfg.Memory.ImportanceThreshold)
	setInt("MEMORI_MEMORY__MAX_SHORT_TERM_MEMORIES", &cfg.Memory.MaxShortTermMemories)
	setInt("MEMORI_MEMORY__MAX_LONG_TERM_MEMORIES", &cfg.Memory.MaxLongTermMemories)
	setBool("MEMORI_MEMORY__CONTEXT_INJECTION", &cfg.Memory.ContextInjection)
	setInt("MEMORI_MEMORY__CONTEXT_LIMIT", &cfg.Memory.ContextLimit)
	setBool("MEMORI_MEMORY__RULES_ENABLED", &cfg.Memory.RulesEnabled)

	setBool("MEMORI_MODES__CONSCIOUS_INGEST", &cfg.Modes.ConsciousIngest)
	setBool("MEMORI_MODES__AUTO_INGEST", &cfg.Modes.AutoIngest)
	setInt("MEMORI_MODES__ANALYSIS_INTERVAL_HOURS", &cfg.Modes.AnalysisIntervalHours)
	setInt("MEMORI_MODES__WORKING_SET_SIZE", &cfg.Modes.WorkingSetSize)

	setString("MEMORI_LOGGING__LEVEL", &cfg.Logging.Level)
	setBool("MEMORI_LOGGING__LOG_TO_FILE", &cfg.Logging.LogToFile)
	setString("MEMORI_LOGGING__LOG_FILE_PATH", &cfg.Logging.LogFilePath)
	setBool("MEMORI_LOGGING__STRUCTURED_LOGGING", &cfg.Logging.StructuredLogging)
}

// mergeDirect overlays every non-zero field of direct onto cfg. A field left
// at its zero value in direct means "inherit from env/file/defaults", not
// "explicitly set to zero" — callers who need an explicit zero should go
// through the file or environment layers instead.
func mergeDirect(cfg, direct *Config) {
	if direct.Database.ConnectionString != "" {
		cfg.Database.ConnectionString = direct.Database.ConnectionString
	}
	if direct.Database.PoolSize != 0 {
		cfg.Database.PoolSize = direct.Database.PoolSize
	}
	if direct.Database.EchoSQL {
		cfg.Database.EchoSQL = true
	}
	if direct.Database.MigrationAuto {
		cfg.Database.MigrationAuto = true
	}
	if direct.Database.BackupEnabled {
		cfg.Database.BackupEnabled = true
	}
	if direct.Database.BackupIntervalHours != 0 {
		cfg.Database.BackupIntervalHours = direct.Database.BackupIntervalHours
	}

	if direct.Provider.APIType != "" {
		cfg.Provider.APIType = direct.Provider.APIType
	}
	if direct.Provider.APIKey != "" {
		cfg.Provider.APIKey = direct.Provider.APIKey
	}
	if direct.Provider.BaseURL != "" {
		cfg.Provider.BaseURL = direct.Provider.BaseURL
	}
	if direct.Provider.Model != "" {
		cfg.Provider.Model = direct.Provider.Model
	}
	if direct.Provider.AzureEndpoint != "" {
		cfg.Provider.AzureEndpoint = direct.Provider.AzureEndpoint
	}
	if direct.Provider.AzureDeployment != "" {
		cfg.Provider.AzureDeployment = direct.Provider.AzureDeployment
	}
	if direct.Provider.APIVersion != "" {
		cfg.Provider.APIVersion = direct.Provider.APIVersion
	}
	if direct.Provider.Organization != "" {
		cfg.Provider.Organization = direct.Provider.Organization
	}
	if direct.Provider.Project != "" {
		cfg.Provider.Project = direct.Provider.Project
	}
	if direct.Provider.Timeout != 0 {
		cfg.Provider.Timeout = direct.Provider.Timeout
	}
	if direct.Provider.MaxRetries != 0 {
		cfg.Provider.MaxRetries = direct.Provider.MaxRetries
	}
	if direct.Provider.DefaultHeaders != nil {
		cfg.Provider.DefaultHeaders = direct.Provider.DefaultHeaders
	}
	if direct.Provider.DefaultQuery != nil {
		cfg.Provider.DefaultQuery = direct.Provider.DefaultQuery
	}

	if direct.Memory.Namespace != "" {
		cfg.Memory.Namespace = direct.Memory.Namespace
	}
	if direct.Memory.SharedMemory {
		cfg.Memory.SharedMemory = true
	}
	if direct.Memory.RetentionPolicy != "" {
		cfg.Memory.RetentionPolicy = direct.Memory.RetentionPolicy
	}
	if direct.Memory.AutoCleanup {
		cfg.Memory.AutoCleanup = true
	}
	if direct.Memory.ContextInjection {
		cfg.Memory.ContextInjection = true
	}
	if direct.Memory.ImportanceThreshold != 0 {
		cfg.Memory.ImportanceThreshold = direct.Memory.ImportanceThreshold
	}
	if direct.Memory.MaxShortTermMemories != 0 {
		cfg.Memory.MaxShortTermMemories = direct.Memory.MaxShortTermMemories
	}
	if direct.Memory.MaxLongTermMemories != 0 {
		cfg.Memory.MaxLongTermMemories = direct.Memory.MaxLongTermMemories
	}
	if direct.Memory.ContextLimit != 0 {
		cfg.Memory.ContextLimit = direct.Memory.ContextLimit
	}
	if direct.Memory.RulesEnabled {
		cfg.Memory.RulesEnabled = true
	}

	if direct.Modes.ConsciousIngest {
		cfg.Modes.ConsciousIngest = true
	}
	if direct.Modes.AutoIngest {
		cfg.Modes.AutoIngest = true
	}
	if direct.Modes.AnalysisIntervalHours != 0 {
		cfg.Modes.AnalysisIntervalHours = direct.Modes.AnalysisIntervalHours
	}
	if direct.Modes.WorkingSetSize != 0 {
		cfg.Modes.WorkingSetSize = direct.Modes.WorkingSetSize
	}

	if direct.Logging.Level != "" {
		cfg.Logging.Level = direct.Logging.Level
	}
	if direct.Logging.LogToFile {
		cfg.Logging.LogToFile = true
	}
	if direct.Logging.LogFilePath != "" {
		cfg.Logging.LogFilePath = direct.Logging.LogFilePath
	}
	if direct.Logging.StructuredLogging {
		cfg.Logging.StructuredLogging = true
	}
}

var validate = validator.New()

// Validate runs struct-tag validation over the assembled config. Load wraps
// a failure here as a ConfigError, which Coordinator.Configure returns.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if cfg.Database.BackupEnabled && cfg.Database.BackupIntervalHours <= 0 {
		return fmt.Errorf("invalid configuration: backup_interval_hours must be positive when backups are enabled")
	}
	return nil
}
