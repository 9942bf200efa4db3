package scheduler

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/antigravity-dev/ain/internal/store"
	"github.com/antigravity-dev/ain/internal/vectormem"
)

// introspectRecallK is how many prior memories the introspect pipeline
// recalls as context before answering a free-text query.
const introspectRecallK = 5

// Introspect answers a plain-text (non-slash) inbound message (§4.7 step 1:
// "each received message... invokes the introspect pipeline with the
// message as user-query"): it recalls the most similar prior memories
// across all MemoryTypes, journals the exchange, and dual-writes the
// query itself to vector memory as a conversation record so later recalls
// can surface it.
func (e *Engine) Introspect(ctx context.Context, query string) (string, error) {
	_ = ctx
	query = strings.TrimSpace(query)
	if query == "" {
		return "", nil
	}

	var recalled []vectormem.Match
	if e.VecMem != nil {
		vec := embedFallback(query, e.VecMem.Dimension())
		if matches, err := e.VecMem.Search(vec, "", introspectRecallK); err == nil {
			recalled = matches
		} else {
			e.Logger.Warn("introspect recall failed", "error", err)
		}
	}

	reply := composeIntrospectReply(query, recalled)

	if e.Journal != nil {
		_, _ = e.Journal.AppendEvent(store.Event{
			Timestamp:   time.Now(),
			Kind:        "reflection",
			Action:      "introspect",
			Description: fmt.Sprintf("query=%q recalled=%d", query, len(recalled)),
			Status:      "success",
		})
	}

	if e.VecMem != nil {
		vec := embedFallback(query, e.VecMem.Dimension())
		_, _ = e.VecMem.Insert(vectormem.Record{
			Text:       query,
			Vector:     vec,
			MemoryType: vectormem.TypeConversation,
			Source:     "messaging",
			Timestamp:  time.Now(),
		})
	}

	return reply, nil
}

// composeIntrospectReply formats the recalled memories into the short reply
// text returned to the messaging channel.
func composeIntrospectReply(query string, recalled []vectormem.Match) string {
	if len(recalled) == 0 {
		return fmt.Sprintf("no related memory found for: %s", query)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "recalled %d related memories:\n", len(recalled))
	for _, m := range recalled {
		fmt.Fprintf(&b, "- [%s, score=%.2f] %s\n", m.Record.MemoryType, m.Score, truncate(m.Record.Text, 160))
	}
	return b.String()
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
