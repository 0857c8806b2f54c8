package memori_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori"
	"github.com/kittclouds/memori/internal/config"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.Database{ConnectionString: ":memory:"},
		Provider: config.Provider{APIType: "rule_based"},
		Memory: config.Memory{
			Namespace:        "test",
			ContextInjection: true,
			ContextLimit:     800,
		},
		Modes: config.Modes{
			ConsciousIngest: true,
			AutoIngest:      true,
			WorkingSetSize:  10,
		},
		Logging: config.Logging{Level: "info", StructuredLogging: false},
	}
}

func TestLifecycleStateMachine(t *testing.T) {
	c := memori.New()
	assert.Equal(t, memori.StateUninitialized, c.State())

	require.NoError(t, c.Configure(testConfig()))
	assert.Equal(t, memori.StateConfigured, c.State())

	ctx := context.Background()
	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, memori.StateEnabled, c.State())

	require.NoError(t, c.Disable())
	assert.Equal(t, memori.StateDisabled, c.State())
}

func TestEnableIsIdempotent(t *testing.T) {
	c := memori.New()
	require.NoError(t, c.Configure(testConfig()))

	ctx := context.Background()
	require.NoError(t, c.Enable(ctx))
	require.NoError(t, c.Enable(ctx))
	assert.Equal(t, memori.StateEnabled, c.State())
	require.NoError(t, c.Disable())
}

func TestDisableFromNonEnabledIsNoOp(t *testing.T) {
	c := memori.New()
	require.NoError(t, c.Disable())
	assert.Equal(t, memori.StateUninitialized, c.State())
}

func TestRecordAndRetrieveContext(t *testing.T) {
	c := memori.New()
	require.NoError(t, c.Configure(testConfig()))

	ctx := context.Background()
	require.NoError(t, c.Enable(ctx))
	defer c.Disable()

	chatID, err := c.Record(ctx, "I use Go and prefer table-driven tests", "Noted.", "m1", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, chatID)

	require.Eventually(t, func() bool {
		stats, err := c.GetMemoryStats(ctx)
		return err == nil && stats.ShortTermCount+stats.LongTermCount > 0
	}, time.Second, 10*time.Millisecond)

	hits, err := c.RetrieveContext(ctx, "Go", 5)
	require.NoError(t, err)
	assert.NotEmpty(t, hits)
}

func TestRecordBeforeEnableFails(t *testing.T) {
	c := memori.New()
	require.NoError(t, c.Configure(testConfig()))

	_, err := c.Record(context.Background(), "hi", "hello", "m1", nil)
	assert.Error(t, err)
}

func TestTriggerConsciousAnalysisAndEssentialConversations(t *testing.T) {
	c := memori.New()
	require.NoError(t, c.Configure(testConfig()))

	ctx := context.Background()
	require.NoError(t, c.Enable(ctx))
	defer c.Disable()

	_, err := c.Record(ctx, "I always use Go for backend work", "Got it.", "m1", nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := c.GetMemoryStats(ctx)
		return err == nil && stats.LongTermCount+stats.ShortTermCount > 0
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, c.TriggerConsciousAnalysis(ctx))

	_, err = c.GetEssentialConversations(ctx, 5)
	require.NoError(t, err)
}
