// Command example is a minimal demonstration of the memory layer:
// configure a Coordinator against an in-memory SQLite store and the
// rule-based classifier, enable it, record one exchange, and print back
// what retrieval sees.
package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/kittclouds/memori"
	"github.com/kittclouds/memori/internal/config"
)

func main() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	coord := memori.New()

	cfg := &config.Config{
		Database: config.Database{ConnectionString: ":memory:"},
		Provider: config.Provider{APIType: "rule_based"},
		Memory: config.Memory{
			Namespace:        "example",
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

	if err := coord.Configure(cfg); err != nil {
		log.Fatalf("configure: %v", err)
	}
	if err := coord.Enable(ctx); err != nil {
		log.Fatalf("enable: %v", err)
	}
	defer coord.Disable()

	chatID, err := coord.Record(ctx, "I use Go and prefer table-driven tests", "Noted, I'll keep that in mind.", "example-model", nil)
	if err != nil {
		log.Fatalf("record: %v", err)
	}
	fmt.Println("recorded chat_id:", chatID)

	// Classification runs asynchronously on the capture queue; give it a
	// moment before asking retrieval to see it.
	time.Sleep(200 * time.Millisecond)

	hits, err := coord.RetrieveContext(ctx, "What language does the user use?", 5)
	if err != nil {
		log.Fatalf("retrieve_context: %v", err)
	}
	for _, h := range hits {
		fmt.Printf("- [%s] %s (score=%.2f)\n", h.Category, h.Summary, h.Score)
	}

	stats, err := coord.GetMemoryStats(ctx)
	if err != nil {
		log.Fatalf("get_memory_stats: %v", err)
	}
	fmt.Printf("stats: chat=%d short_term=%d long_term=%d fallback_rate=%.2f\n",
		stats.ChatHistoryCount, stats.ShortTermCount, stats.LongTermCount, stats.ClassifierFallbackRate)
}
