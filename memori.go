// Package memori is the root of the conversational memory layer: it wires
// the Store, Classifier, conscious Analyzer, retrieval Planner, context
// Injector, and Interceptor into a single Coordinator and exposes the
// public API applications call. Every other package in this module is a
// component the Coordinator owns; nothing outside this file constructs more
// than one of them together.
package memori

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kittclouds/memori/internal/config"
	"github.com/kittclouds/memori/internal/merr"
	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/conscious"
	"github.com/kittclouds/memori/pkg/inject"
	"github.com/kittclouds/memori/pkg/interceptor"
	"github.com/kittclouds/memori/pkg/memory"
	"github.com/kittclouds/memori/pkg/metrics"
	"github.com/kittclouds/memori/pkg/planner"
	"github.com/kittclouds/memori/pkg/processing"
	"github.com/kittclouds/memori/pkg/providers/anthropicclient"
	"github.com/kittclouds/memori/pkg/providers/openaiclient"
)

// State is a position in the Coordinator's lifecycle.
type State string

const (
	StateUninitialized State = "uninitialized"
	StateConfigured    State = "configured"
	StateEnabled       State = "enabled"
	StateDisabled      State = "disabled"
)

// defaultGrace bounds how long Disable waits for in-flight capture work.
const defaultGrace = 5 * time.Second

// Summary is the shape every read API returns: a ranked, human-readable
// memory summary rather than a raw storage row.
type Summary struct {
	MemoryID  string
	Category  store.Category
	Summary   string
	Score     float64
	CreatedAt time.Time
}

// Coordinator owns every component's lifecycle and is the only type
// application code constructs directly.
type Coordinator struct {
	mu    sync.RWMutex
	state State

	cfg      *config.Config
	log      *zap.Logger
	logLevel zap.AtomicLevel

	st          store.Storer
	client      processing.Client
	classifier  *memory.Classifier
	analyzer    *conscious.Analyzer
	planner     *planner.Planner
	injector    *inject.Injector
	interceptor *interceptor.Interceptor
	metrics     *metrics.Registry
	watcher     *config.Watcher

	sessionID string
	mode      inject.Mode

	analysisCancel context.CancelFunc
	analysisDone   chan struct{}

	workerCtx    context.Context
	workerCancel context.CancelFunc
}

// New returns an uninitialized Coordinator. Call Configure, then Enable.
func New() *Coordinator {
	return &Coordinator{state: StateUninitialized}
}

// Configure validates and assembles configuration and builds every
// component, but does not open the Store or start background work — that
// happens in Enable. direct may be nil to use env/file/defaults only.
func (c *Coordinator) Configure(direct *config.Config) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	cfg, err := config.Load(direct)
	if err != nil {
		return err
	}

	log, level, err := buildLogger(cfg.Logging)
	if err != nil {
		return merr.New(merr.KindConfig, "Coordinator.Configure", err)
	}

	c.cfg = cfg
	c.log = log
	c.logLevel = level
	c.metrics = metrics.New()
	c.client = buildProcessingClient(cfg.Provider)
	c.mode = resolveMode(cfg.Memory, cfg.Modes)
	c.state = StateConfigured
	return nil
}

// Enable opens the Store, wires the remaining components against it, and
// starts background work (the interceptor's worker queue, the config file
// watcher, and conscious analysis). Enable is idempotent: calling it again
// while already enabled is a no-op.
func (c *Coordinator) Enable(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state == StateEnabled {
		return nil
	}
	if c.cfg == nil {
		return merr.New(merr.KindConfig, "Coordinator.Enable", fmt.Errorf("Configure must be called before Enable"))
	}

	st, err := openStore(ctx, c.cfg.Database)
	if err != nil {
		c.state = StateDisabled
		return err
	}
	c.st = st

	c.classifier = memory.New(c.client, c.metrics, c.log, c.st)
	c.analyzer = conscious.New(c.st, c.metrics, c.log, c.cfg.Modes.WorkingSetSize)
	c.planner = planner.New(c.st, c.client, planner.NewMapCache(), c.log)
	c.injector = inject.New(c.st, c.planner)
	c.injector.SetTokenBudget(c.cfg.Memory.ContextLimit * 4)

	c.workerCtx, c.workerCancel = context.WithCancel(context.Background())
	c.interceptor = interceptor.New(c.workerCtx, interceptor.Config{
		Store:      c.st,
		Classifier: c.classifier,
		Injector:   c.injector,
		Metrics:    c.metrics,
		Log:        c.log,
		QueueSize:  256,
		Workers:    4,
	})

	c.sessionID = uuid.NewString()
	c.watcher = config.WatchConfigFile(configFilePath(), c.cfg, c.log, c.applyReload)

	if c.cfg.Modes.ConsciousIngest {
		c.analyzer.Run(c.workerCtx, c.cfg.Memory.Namespace)
	}
	c.startAnalysisLoop()

	c.state = StateEnabled
	return nil
}

// Disable detaches interceptors, flushes the capture queue with a bounded
// grace period, stops the background analyzer, and closes the Store.
// Disable from any state other than enabled is a no-op.
func (c *Coordinator) Disable() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != StateEnabled {
		return nil
	}

	c.stopAnalysisLoop()
	if c.interceptor != nil {
		c.interceptor.Close(defaultGrace)
	}
	if c.workerCancel != nil {
		c.workerCancel()
	}
	if c.watcher != nil {
		c.watcher.Close()
	}

	var err error
	if c.st != nil {
		err = c.st.Close()
	}

	c.state = StateDisabled
	return err
}

// Record is the manual capture path: it writes a chat_history row
// synchronously and returns its chat_id, classification and memory
// persistence happen asynchronously on the capture queue.
func (c *Coordinator) Record(ctx context.Context, userInput, aiOutput, model string, metadata map[string]string) (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		return "", merr.New(merr.KindConfig, "Coordinator.Record", fmt.Errorf("coordinator is not enabled"))
	}
	return c.interceptor.Record(ctx, userInput, aiOutput, model, c.cfg.Memory.Namespace, c.sessionID, 0, metadata)
}

// PrepareOutbound applies context injection to messages per the
// Coordinator's configured mode, ahead of dispatching them to a provider.
// Attachment strategies (native callback, wrapped client) call this on the
// outbound side of a captured call.
func (c *Coordinator) PrepareOutbound(ctx context.Context, messages []inject.Message, userInput string) ([]inject.Message, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		cloned := make([]inject.Message, len(messages))
		copy(cloned, messages)
		return cloned, nil
	}
	return c.interceptor.InjectContext(ctx, c.mode, c.cfg.Memory.Namespace, c.sessionID, messages, userInput)
}

// RetrieveContext runs a direct search against the Store (no injection, no
// planner) and returns up to limit ranked summaries.
func (c *Coordinator) RetrieveContext(ctx context.Context, query string, limit int) ([]Summary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		return nil, merr.New(merr.KindConfig, "Coordinator.RetrieveContext", fmt.Errorf("coordinator is not enabled"))
	}
	if limit <= 0 {
		limit = 5
	}

	start := time.Now()
	hits, err := c.st.Search(ctx, store.SearchQuery{
		Namespace: c.cfg.Memory.Namespace,
		Text:      query,
		Limit:     limit,
	})
	c.metrics.ObserveSearch(start)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, len(hits))
	for _, h := range hits {
		out = append(out, Summary{
			MemoryID:  h.MemoryID,
			Category:  h.CategoryPrimary,
			Summary:   h.Summary,
			Score:     h.FinalScore,
			CreatedAt: h.CreatedAt,
		})
	}
	return out, nil
}

// TriggerConsciousAnalysis runs the conscious analyzer immediately,
// independent of its periodic schedule.
func (c *Coordinator) TriggerConsciousAnalysis(ctx context.Context) error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		return merr.New(merr.KindConfig, "Coordinator.TriggerConsciousAnalysis", fmt.Errorf("coordinator is not enabled"))
	}
	c.analyzer.Run(ctx, c.cfg.Memory.Namespace)
	return nil
}

// GetEssentialConversations lists the current working set (short-term rows
// marked is_permanent_context), most important first.
func (c *Coordinator) GetEssentialConversations(ctx context.Context, limit int) ([]Summary, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		return nil, merr.New(merr.KindConfig, "Coordinator.GetEssentialConversations", fmt.Errorf("coordinator is not enabled"))
	}
	if limit <= 0 {
		limit = c.cfg.Modes.WorkingSetSize
	}

	rows, err := c.st.ListShortTerm(ctx, c.cfg.Memory.Namespace, 500)
	if err != nil {
		return nil, err
	}

	out := make([]Summary, 0, limit)
	for _, r := range rows {
		if !r.IsPermanentContext {
			continue
		}
		out = append(out, Summary{
			MemoryID:  r.MemoryID,
			Category:  r.CategoryPrimary,
			Summary:   r.Summary,
			Score:     r.ImportanceScore,
			CreatedAt: r.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Stats extends store.MemoryStats with counters only the Coordinator's
// in-process components track.
type Stats struct {
	store.MemoryStats
	ClassifierFallbackRate float64
	QueueDepth             int
	QueueDropsTotal        int64
}

// GetMemoryStats returns row counts per table, category distribution,
// average importance, and the in-process classifier/queue counters.
func (c *Coordinator) GetMemoryStats(ctx context.Context) (Stats, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.state != StateEnabled {
		return Stats{}, merr.New(merr.KindConfig, "Coordinator.GetMemoryStats", fmt.Errorf("coordinator is not enabled"))
	}

	base, err := c.st.GetMemoryStats(ctx, c.cfg.Memory.Namespace)
	if err != nil {
		return Stats{}, err
	}

	return Stats{
		MemoryStats:            base,
		ClassifierFallbackRate: c.metrics.FallbackRate(),
		QueueDepth:             c.interceptor.QueueDepth(),
		QueueDropsTotal:        c.interceptor.QueueDropped(),
	}, nil
}

// Health reports Store connectivity and capability, independent of the
// Coordinator's own state.
func (c *Coordinator) Health(ctx context.Context) (store.HealthReport, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.st == nil {
		return store.HealthReport{}, merr.New(merr.KindConfig, "Coordinator.Health", fmt.Errorf("store not opened"))
	}
	return c.st.Health(ctx)
}

// State returns the Coordinator's current lifecycle state.
func (c *Coordinator) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Coordinator) startAnalysisLoop() {
	interval := time.Duration(c.cfg.Modes.AnalysisIntervalHours) * time.Hour
	if interval <= 0 {
		return
	}

	ctx, cancel := context.WithCancel(c.workerCtx)
	c.analysisCancel = cancel
	c.analysisDone = make(chan struct{})

	go func() {
		defer close(c.analysisDone)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.analyzer.Run(ctx, c.cfg.Memory.Namespace)
			}
		}
	}()
}

// applyReload is config.Watcher's hot-reload callback. The log level and the
// injector's token budget are the only pieces of the logging/context_limit
// sections that can actually change on a running Coordinator: zap's encoder
// and output sinks (structured_logging, log_to_file) are fixed into the
// *zap.Logger every component was constructed with at Configure time, and
// swapping them out from under already-injected loggers isn't possible
// without rebuilding every component, which a hot reload must not do.
func (c *Coordinator) applyReload(logging config.Logging, contextLimit int) {
	if level, err := zap.ParseAtomicLevel(logging.Level); err == nil {
		c.logLevel.SetLevel(level.Level())
	}
	if c.injector != nil {
		c.injector.SetTokenBudget(contextLimit * 4)
	}
}

func (c *Coordinator) stopAnalysisLoop() {
	if c.analysisCancel == nil {
		return
	}
	c.analysisCancel()
	<-c.analysisDone
	c.analysisCancel = nil
}

// buildLogger constructs the Coordinator's logger and returns its
// AtomicLevel alongside it so the level (and only the level) can be changed
// live by a config hot-reload.
func buildLogger(cfg config.Logging) (*zap.Logger, zap.AtomicLevel, error) {
	var zcfg zap.Config
	if cfg.StructuredLogging {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zap.ParseAtomicLevel(cfg.Level)
	if err != nil {
		level = zap.NewAtomicLevelAt(zap.InfoLevel)
	}
	zcfg.Level = level

	if cfg.LogToFile && cfg.LogFilePath != "" {
		zcfg.OutputPaths = []string{cfg.LogFilePath}
	}

	logger, err := zcfg.Build()
	return logger, level, err
}

func buildProcessingClient(cfg config.Provider) processing.Client {
	switch strings.ToLower(cfg.APIType) {
	case "anthropic":
		return anthropicclient.New(anthropicclient.Config{
			APIKey:  cfg.APIKey,
			BaseURL: cfg.BaseURL,
			Model:   cfg.Model,
		})
	case "openai", "azure", "custom":
		return openaiclient.New(openaiclient.Config{
			APIType:         cfg.APIType,
			APIKey:          cfg.APIKey,
			BaseURL:         cfg.BaseURL,
			Model:           cfg.Model,
			AzureEndpoint:   cfg.AzureEndpoint,
			AzureDeployment: cfg.AzureDeployment,
			APIVersion:      cfg.APIVersion,
			Organization:    cfg.Organization,
		})
	default:
		return processing.NewRuleBasedClient()
	}
}

func openStore(ctx context.Context, cfg config.Database) (store.Storer, error) {
	if strings.HasPrefix(cfg.ConnectionString, "postgres://") || strings.HasPrefix(cfg.ConnectionString, "postgresql://") {
		return store.NewPostgresStore(ctx, cfg.ConnectionString)
	}
	dsn := strings.TrimPrefix(cfg.ConnectionString, "file:")
	return store.NewSQLiteStoreWithDSN(dsn, 3)
}

func resolveMode(mem config.Memory, modes config.Modes) inject.Mode {
	if !mem.ContextInjection {
		return inject.ModeOff
	}
	switch {
	case modes.ConsciousIngest && modes.AutoIngest:
		return inject.ModeCombined
	case modes.ConsciousIngest:
		return inject.ModeConscious
	case modes.AutoIngest:
		return inject.ModeAuto
	default:
		return inject.ModeOff
	}
}

func configFilePath() string {
	return "memori.yaml"
}
