// Package inject implements the context injector: it merges the conscious
// working-set block (injected once per session) and the auto-mode retrieval
// block (injected on every call) into the outbound prompt, enforcing a
// token budget and deduplicating overlapping memories. It never mutates the
// caller's original message list.
package inject

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/kittclouds/memori/internal/store"
	"github.com/kittclouds/memori/pkg/planner"
)

// Message is a minimal, provider-agnostic chat message. Interceptor adapters
// translate to/from the concrete SDK's message type at the boundary.
type Message struct {
	Role    string
	Content string
}

// Mode selects which blocks the injector attaches.
type Mode int

const (
	ModeOff Mode = iota
	ModeConscious
	ModeAuto
	ModeCombined
)

// defaultTokenBudget approximates an ~800 token budget by character count
// (4 chars/token, the same factor Coordinator.Enable applies to
// memory.context_limit).
const defaultTokenBudget = 800 * 4

// Injector attaches memory context to outbound prompts.
type Injector struct {
	store   store.Storer
	planner *planner.Planner

	mu          sync.Mutex
	primed      map[string]bool // sessionID -> conscious block already injected
	tokenBudget int             // character budget; defaultTokenBudget if <= 0

	AutoLimit int // max auto-mode memories per call; defaultAutoLimit if zero
}

const defaultAutoLimit = 5

// New constructs an Injector.
func New(s store.Storer, p *planner.Planner) *Injector {
	return &Injector{store: s, planner: p, primed: make(map[string]bool)}
}

// Inject returns a new message slice with the appropriate context blocks
// prepended, per mode. The original messages slice is never modified.
func (inj *Injector) Inject(ctx context.Context, mode Mode, namespace, sessionID string, messages []Message, userInput string) ([]Message, error) {
	if mode == ModeOff {
		return cloneMessages(messages), nil
	}

	var consciousEntries []entry
	var autoHits []store.MemoryHit

	includeConscious := (mode == ModeConscious || mode == ModeCombined) && !inj.isPrimed(sessionID)
	if includeConscious {
		rows, err := inj.store.ListShortTerm(ctx, namespace, 200)
		if err == nil {
			consciousEntries = workingSetEntries(rows)
		}
	}

	if mode == ModeAuto || mode == ModeCombined {
		limit := inj.AutoLimit
		if limit <= 0 {
			limit = defaultAutoLimit
		}
		result := inj.planner.Plan(ctx, namespace, userInput, len(consciousEntries), limit)
		autoHits = result.Hits
	}

	autoHits = dedupeAgainstConscious(autoHits, consciousEntries)

	block := render(consciousEntries, autoHits, inj.tokenBudgetOrDefault())

	if includeConscious {
		inj.markPrimed(sessionID)
	}

	if block == "" {
		return cloneMessages(messages), nil
	}

	out := make([]Message, 0, len(messages)+1)
	out = append(out, Message{Role: "system", Content: block})
	out = append(out, messages...)
	return out, nil
}

func (inj *Injector) isPrimed(sessionID string) bool {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	return inj.primed[sessionID]
}

func (inj *Injector) markPrimed(sessionID string) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.primed[sessionID] = true
}

// ResetSession clears the primed flag, e.g. when a new logical session
// starts but the process is long-lived.
func (inj *Injector) ResetSession(sessionID string) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	delete(inj.primed, sessionID)
}

// SetTokenBudget updates the character budget Inject enforces. Safe to call
// concurrently with Inject, e.g. from a config hot-reload callback.
func (inj *Injector) SetTokenBudget(budget int) {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	inj.tokenBudget = budget
}

func (inj *Injector) tokenBudgetOrDefault() int {
	inj.mu.Lock()
	defer inj.mu.Unlock()
	if inj.tokenBudget <= 0 {
		return defaultTokenBudget
	}
	return inj.tokenBudget
}

type entry struct {
	memoryID  string
	summary   string
	category  store.Category
	createdAt time.Time
	score     float64
}

func workingSetEntries(rows []store.MemoryRow) []entry {
	out := make([]entry, 0, len(rows))
	for _, r := range rows {
		if !r.IsPermanentContext {
			continue
		}
		out = append(out, entry{
			memoryID:  r.MemoryID,
			summary:   r.Summary,
			category:  r.CategoryPrimary,
			createdAt: r.CreatedAt,
			score:     r.ImportanceScore,
		})
	}
	// Conscious entries are emitted in importance-descending order, ties
	// broken by recency.
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].score != out[j].score {
			return out[i].score > out[j].score
		}
		return out[i].createdAt.After(out[j].createdAt)
	})
	return out
}

func dedupeAgainstConscious(hits []store.MemoryHit, conscious []entry) []store.MemoryHit {
	if len(conscious) == 0 {
		return hits
	}
	seen := make(map[string]bool, len(conscious))
	for _, c := range conscious {
		seen[c.memoryID] = true
	}
	out := make([]store.MemoryHit, 0, len(hits))
	for _, h := range hits {
		if seen[h.MemoryID] {
			continue
		}
		out = append(out, h)
	}
	return out
}

// render formats the conscious and auto blocks into a single system
// message, dropping lowest-ranked auto entries first and then oldest
// conscious entries until the result fits within budget characters.
func render(conscious []entry, auto []store.MemoryHit, budget int) string {
	if len(conscious) == 0 && len(auto) == 0 {
		return ""
	}

	for {
		var b strings.Builder
		if len(conscious) > 0 {
			b.WriteString("Working-set context:\n")
			for _, c := range conscious {
				fmt.Fprintf(&b, "- [%s] %s\n", c.category, c.summary)
			}
		}
		if len(auto) > 0 {
			b.WriteString("Relevant prior context:\n")
			for _, h := range auto {
				fmt.Fprintf(&b, "- [%s, %s] %s\n", h.CategoryPrimary, h.CreatedAt.Format("2006-01-02"), h.Summary)
			}
		}

		out := strings.TrimRight(b.String(), "\n")
		if len(out) <= budget || (len(conscious) == 0 && len(auto) == 0) {
			return out
		}

		// Over budget: drop lowest-ranked auto entries first (auto is
		// already final-score descending from the planner/search engine),
		// then oldest conscious entries.
		if len(auto) > 0 {
			auto = auto[:len(auto)-1]
			continue
		}
		conscious = dropOldest(conscious)
	}
}

// dropOldest removes the entry with the earliest createdAt, preserving the
// display ordering of the rest.
func dropOldest(entries []entry) []entry {
	if len(entries) == 0 {
		return entries
	}
	oldestIdx := 0
	for i, e := range entries {
		if e.createdAt.Before(entries[oldestIdx].createdAt) {
			oldestIdx = i
		}
	}
	out := make([]entry, 0, len(entries)-1)
	out = append(out, entries[:oldestIdx]...)
	out = append(out, entries[oldestIdx+1:]...)
	return out
}

func cloneMessages(in []Message) []Message {
	out := make([]Message, len(in))
	copy(out, in)
	return out
}
