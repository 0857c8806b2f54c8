package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMergeDirectLoggingStringFieldsOverride(t *testing.T) {
	cfg := Defaults()
	cfg.Logging = Logging{Level: "info", LogFilePath: ""}

	direct := &Config{Logging: Logging{Level: "debug", LogFilePath: "/direct/path.log"}}
	mergeDirect(&cfg, direct)

	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/direct/path.log", cfg.Logging.LogFilePath)
}

// Every Logging boolean follows the same "true overrides, zero value
// inherits" contract as every other bool field in mergeDirect: a direct
// Config can turn a flag on but can never use it to explicitly turn one
// off, since a false in direct is indistinguishable from "unset".
func TestMergeDirectLoggingBooleansOverrideOnlyWhenTrue(t *testing.T) {
	cfg := Defaults()
	cfg.Logging = Logging{LogToFile: false, StructuredLogging: false}

	mergeDirect(&cfg, &Config{Logging: Logging{LogToFile: true, StructuredLogging: true}})

	assert.True(t, cfg.Logging.LogToFile)
	assert.True(t, cfg.Logging.StructuredLogging)
}

func TestMergeDirectLoggingZeroBooleansDoNotClearExisting(t *testing.T) {
	cfg := Defaults()
	cfg.Logging = Logging{LogToFile: true, StructuredLogging: true}

	mergeDirect(&cfg, &Config{Logging: Logging{LogToFile: false, StructuredLogging: false}})

	assert.True(t, cfg.Logging.LogToFile)
	assert.True(t, cfg.Logging.StructuredLogging)
}

// TestLoadLoggingDirectOutranksEnv exercises the full Load precedence chain
// (direct > env > file > defaults) for every Logging field at once.
func TestLoadLoggingDirectOutranksEnv(t *testing.T) {
	t.Setenv("MEMORI_LOGGING__LEVEL", "debug")
	t.Setenv("MEMORI_LOGGING__LOG_TO_FILE", "true")
	t.Setenv("MEMORI_LOGGING__LOG_FILE_PATH", "/env/path.log")
	t.Setenv("MEMORI_LOGGING__STRUCTURED_LOGGING", "false")

	direct := &Config{
		Database: Database{ConnectionString: ":memory:"},
		Provider: Provider{APIType: "rule_based"},
		Memory:   Memory{Namespace: "ns", RetentionPolicy: "30_days"},
		Logging: Logging{
			Level:             "warn",
			LogToFile:         false,
			LogFilePath:       "/direct/path.log",
			StructuredLogging: true,
		},
	}

	cfg, err := Load(direct)
	require.NoError(t, err)

	assert.Equal(t, "warn", cfg.Logging.Level)
	assert.Equal(t, "/direct/path.log", cfg.Logging.LogFilePath)
	assert.True(t, cfg.Logging.StructuredLogging)
	// LogToFile is the zero value on direct, so it inherits env's true
	// rather than clearing it.
	assert.True(t, cfg.Logging.LogToFile)
}
