// Package interceptor implements the capture/injection core (Record and
// InjectContext) that every attachment strategy in the root memori package
// calls: native callback registration, a wrapped client, and manual Record
// as universal fallback. The hot path is strictly synchronous
// and non-blocking on I/O beyond enqueuing onto the bounded worker queue;
// classification and persistence always happen off this goroutine.
package interceptor

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/inject"
	"github.com/kittclouds/memori/pkg/memory"
	"github.com/kittclouds/memori/pkg/metrics"
	"github.com/kittclouds/memori/pkg/planner"
	"github.com/kittclouds/memori/pkg/workerqueue"
)

// job is one captured exchange awaiting classification and persistence.
type job struct {
	exchange  memory.Exchange
	sessionID string
	namespace string
	metadata  map[string]string
	tokens    int
	timestamp time.Time
}

// Interceptor is the capture surface the Coordinator installs. Its Record
// method is the manual fallback path (§4.7) and is also what every other
// attachment strategy calls once it has extracted
// (user_input, ai_output, model) from its own library's request/response.
type Interceptor struct {
	store      store.Storer
	classifier *memory.Classifier
	injector   *inject.Injector
	metrics    *metrics.Registry
	log        *zap.Logger
	queue      *workerqueue.Queue[job]
}

// Config bundles the collaborators Interceptor needs.
type Config struct {
	Store      store.Storer
	Classifier *memory.Classifier
	Injector   *inject.Injector
	Metrics    *metrics.Registry
	Log        *zap.Logger
	QueueSize  int
	Workers    int
}

// New constructs an Interceptor and starts its worker queue. ctx bounds the
// queue's worker goroutines' lifetime; call Close to stop them deterministically.
func New(ctx context.Context, cfg Config) *Interceptor {
	ic := &Interceptor{
		store:      cfg.Store,
		classifier: cfg.Classifier,
		injector:   cfg.Injector,
		metrics:    cfg.Metrics,
		log:        cfg.Log,
	}
	ic.queue = workerqueue.New(ctx, workerqueue.Config{Capacity: cfg.QueueSize, Workers: cfg.Workers}, ic.processJob, cfg.Log)
	return ic
}

// Record is the manual entry point: it persists the exchange to
// chat_history synchronously (so the returned chat_id is immediately valid)
// and offloads classification plus memory-table persistence to the bounded
// worker queue. If ctx carries the planner's recursion-prevention flag, no
// chat_history row is written at all and Record returns "" with no error.
func (ic *Interceptor) Record(ctx context.Context, userInput, aiOutput, model string, namespace, sessionID string, tokensUsed int, metadata map[string]string) (string, error) {
	if planner.InPlanner(ctx) {
		return "", nil
	}

	rec := store.ChatRecord{
		UserInput:  userInput,
		AIOutput:   aiOutput,
		Model:      model,
		Timestamp:  time.Now(),
		SessionID:  sessionID,
		Namespace:  namespace,
		TokensUsed: tokensUsed,
		Metadata:   metadata,
	}

	chatID, err := ic.store.PutChat(ctx, rec)
	if err != nil {
		return "", err
	}

	j := job{
		exchange:  memory.Exchange{UserInput: userInput, AIOutput: aiOutput, Model: model, Namespace: namespace},
		sessionID: sessionID,
		namespace: namespace,
		metadata:  metadata,
		tokens:    tokensUsed,
		timestamp: rec.Timestamp,
	}
	j.exchange.ContextHint = userContextFromMetadata(metadata)
	// chatID threads through via metadata so the async job can back-reference it.
	if j.metadata == nil {
		j.metadata = map[string]string{}
	}
	j.metadata["__chat_id"] = chatID

	if !ic.queue.Submit(j) {
		ic.metrics.QueueDropsTotal.Inc()
		ic.log.Warn("interceptor: capture queue full, dropping persistence step",
			zap.String("namespace", namespace))
	}
	ic.metrics.QueueDepth.Set(float64(ic.queue.Depth()))

	return chatID, nil
}

// InjectContext attaches memory context to outbound messages per mode. If
// ctx carries the planner's recursion-prevention flag, injection is skipped
// entirely (a planner-internal call must not recursively plan/inject).
func (ic *Interceptor) InjectContext(ctx context.Context, mode inject.Mode, namespace, sessionID string, messages []inject.Message, userInput string) ([]inject.Message, error) {
	if planner.InPlanner(ctx) {
		cloned := make([]inject.Message, len(messages))
		copy(cloned, messages)
		return cloned, nil
	}
	return ic.injector.Inject(ctx, mode, namespace, sessionID, messages, userInput)
}

// Close stops accepting new work and waits up to grace for in-flight
// classification/persistence to finish.
func (ic *Interceptor) Close(grace time.Duration) {
	ic.queue.Close(grace)
}

// QueueDropped returns the total number of exchanges dropped because the
// capture queue was full, for inclusion in get_memory_stats.
func (ic *Interceptor) QueueDropped() int64 {
	return ic.queue.Dropped()
}

// QueueDepth returns the number of exchanges currently awaiting
// classification and persistence.
func (ic *Interceptor) QueueDepth() int {
	return ic.queue.Depth()
}

func (ic *Interceptor) processJob(ctx context.Context, j job) {
	pm := ic.classifier.Classify(ctx, j.exchange)

	chatID := j.metadata["__chat_id"]

	if !pm.ShouldStore {
		return
	}

	memType := store.MemoryTypeLongTerm
	if pm.Importance.RetentionType == store.RetentionShortTerm {
		memType = store.MemoryTypeShortTerm
	}

	row := store.MemoryRow{
		ChatID:              chatID,
		Type:                memType,
		ProcessedData:       pm,
		ImportanceScore:     pm.Importance.ImportanceScore,
		NoveltyScore:        pm.Importance.NoveltyScore,
		RelevanceScore:      pm.Importance.RelevanceScore,
		ActionabilityScore:  pm.Importance.ActionabilityScore,
		CategoryPrimary:     pm.Category,
		RetentionType:       pm.Importance.RetentionType,
		Namespace:           j.namespace,
		CreatedAt:           j.timestamp,
		SearchableContent:   pm.SearchableContent,
		Summary:             pm.Summary,
		ClassificationFlags: pm.ConsciousLabels,
	}
	if pm.Importance.RetentionType == store.RetentionShortTerm {
		expires := memory.ShortTermExpiry(j.timestamp)
		row.ExpiresAt = &expires
	}

	memoryID, err := ic.store.PutMemory(ctx, row)
	if err != nil {
		ic.log.Warn("interceptor: persisting memory failed", zap.Error(err))
		return
	}

	entities := entityRows(pm, memType, memoryID, j.namespace)
	if len(entities) > 0 {
		if err := ic.store.PutEntities(ctx, entities); err != nil {
			ic.log.Warn("interceptor: persisting entities failed", zap.Error(err))
		}
	}
}

func entityRows(pm store.ProcessedMemory, memType store.MemoryType, memoryID, namespace string) []store.EntityIndexRow {
	var rows []store.EntityIndexRow
	for entType, values := range pm.Entities.ByType() {
		for _, v := range values {
			rows = append(rows, store.EntityIndexRow{
				MemoryID:       memoryID,
				MemoryType:     memType,
				EntityType:     entType,
				EntityValue:    v,
				RelevanceScore: pm.Importance.RelevanceScore,
				Namespace:      namespace,
			})
		}
	}
	return rows
}

func userContextFromMetadata(metadata map[string]string) memory.UserContext {
	var uc memory.UserContext
	if v, ok := metadata["current_project"]; ok && v != "" {
		uc.CurrentProjects = []string{v}
	}
	return uc
}

// AttachFailure wraps err into the taxonomy's attach-failure
// kind, used by native-callback and wrapped-client strategies when their
// target library's hook API is missing or rejects registration.
func AttachFailure(op string, err error) error {
	return merr.New(merr.KindInterceptorAttach, op, err)
}
