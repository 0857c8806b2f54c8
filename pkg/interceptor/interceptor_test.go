package interceptor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/internal/testutil"
	"github.com/kittclouds/memori/pkg/inject"
	"github.com/kittclouds/memori/pkg/memory"
	"github.com/kittclouds/memori/pkg/metrics"
	"github.com/kittclouds/memori/pkg/planner"
)

func newTestInterceptor(t *testing.T) (*Interceptor, store.Storer) {
	s := testutil.NewTestStore(t)
	reg := metrics.New()
	log := testutil.NewTestLogger(t)
	classifier := memory.New(&testutil.FakeClient{Refuse: true}, reg, log) // exercises fallback path deterministically
	p := planner.New(s, &testutil.FakeClient{Refuse: true}, planner.NewMapCache(), log)
	injector := inject.New(s, p)

	ic := New(context.Background(), Config{
		Store:      s,
		Classifier: classifier,
		Injector:   injector,
		Metrics:    reg,
		Log:        log,
		QueueSize:  16,
		Workers:    2,
	})
	return ic, s
}

func TestRecordWritesChatSynchronously(t *testing.T) {
	ic, _ := newTestInterceptor(t)
	defer ic.Close(time.Second)

	chatID, err := ic.Record(context.Background(), "I use Go and prefer table-driven tests", "Noted.", "m1", "ns1", "sess1", 0, nil)
	require.NoError(t, err)
	assert.NotEmpty(t, chatID)
}

func TestRecordSkippedInsidePlannerContext(t *testing.T) {
	ic, _ := newTestInterceptor(t)
	defer ic.Close(time.Second)

	ctx := planner.WithInPlanner(context.Background())
	chatID, err := ic.Record(ctx, "hi", "hello", "m1", "ns1", "sess1", 0, nil)
	require.NoError(t, err)
	assert.Empty(t, chatID)
}

func TestRecordEventuallyPersistsMemory(t *testing.T) {
	ic, s := newTestInterceptor(t)
	defer ic.Close(time.Second)

	_, err := ic.Record(context.Background(), "I use Go and prefer table-driven tests", "Noted.", "m1", "ns1", "sess1", 0, nil)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		rows, err := s.ListShortTerm(context.Background(), "ns1", 50)
		return err == nil && len(rows) > 0
	}, time.Second, 10*time.Millisecond)
}

func TestInjectContextSkippedInsidePlannerContext(t *testing.T) {
	ic, _ := newTestInterceptor(t)
	defer ic.Close(time.Second)

	ctx := planner.WithInPlanner(context.Background())
	messages := []inject.Message{{Role: "user", Content: "hi"}}
	out, err := ic.InjectContext(ctx, inject.ModeCombined, "ns1", "sess1", messages, "hi")
	require.NoError(t, err)
	assert.Equal(t, messages, out)
}
