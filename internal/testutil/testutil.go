// Package testutil provides shared test fixtures: an in-memory Store and a
// scriptable fake processing.Client, used across pkg/memory, pkg/conscious,
// pkg/planner, pkg/inject, and pkg/interceptor tests so each package's tests
// don't re-implement the same stand-ins.
package testutil

import (
	"context"
	"encoding/json"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/processing"
)

// NewTestStore opens a fresh in-memory SQLite store for t, closing it
// automatically on test cleanup.
func NewTestStore(t *testing.T) store.Storer {
	t.Helper()
	s, err := store.NewSQLiteStore()
	if err != nil {
		t.Fatalf("testutil: opening in-memory store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// NewTestLogger returns a zap logger that writes to t.Log.
func NewTestLogger(t *testing.T) *zap.Logger {
	return zaptest.NewLogger(t)
}

// FakeClient is a scriptable processing.Client: each call to Structured
// consumes the next entry of Responses (or returns Err if set), so tests can
// exercise both a successful classification/plan path and a degrade path
// without a real provider.
type FakeClient struct {
	Responses [][]byte
	Err       error
	calls     int

	// Refuse, if true, makes every call return a *processing.Refusal instead
	// of Err, exercising the classifier's malformed-response degrade path
	// distinctly from its provider-unavailable degrade path.
	Refuse bool
}

func (f *FakeClient) Structured(ctx context.Context, system, user string, schema processing.Schema) ([]byte, error) {
	defer func() { f.calls++ }()

	if f.Refuse {
		return nil, &processing.Refusal{Reason: "fake: scripted refusal"}
	}
	if f.Err != nil {
		return nil, f.Err
	}
	if f.calls >= len(f.Responses) {
		return nil, &processing.Refusal{Reason: "fake: no more scripted responses"}
	}
	return f.Responses[f.calls], nil
}

func (f *FakeClient) Name() string { return "fake" }

// Calls reports how many times Structured has been invoked.
func (f *FakeClient) Calls() int { return f.calls }

// ClassificationJSON marshals a processing.ClassificationResult to bytes for
// use as a FakeClient.Responses entry.
func ClassificationJSON(t *testing.T, r processing.ClassificationResult) []byte {
	t.Helper()
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("testutil: marshaling classification result: %v", err)
	}
	return raw
}

// PlanJSON marshals a processing.PlanResult to bytes for use as a
// FakeClient.Responses entry.
func PlanJSON(t *testing.T, r processing.PlanResult) []byte {
	t.Helper()
	raw, err := json.Marshal(r)
	if err != nil {
		t.Fatalf("testutil: marshaling plan result: %v", err)
	}
	return raw
}

// SampleExchange is a representative single-turn exchange used across
// classifier and interceptor tests.
var SampleExchange = struct {
	UserInput string
	AIOutput  string
	Model     string
}{
	UserInput: "I use Go and prefer table-driven tests",
	AIOutput:  "Noted, I'll keep that in mind.",
	Model:     "test-model",
}
