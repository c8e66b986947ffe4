package session

import (
	"math"
	"strings"

	"github.com/whimmy-ai/whimmy-plugin/internal/wire"
)

// DefaultContextWindow is used for models the table does not know.
const DefaultContextWindow = 200_000

// contextWindows is matched in order against the lower-cased model name.
var contextWindows = []struct {
	substr string
	window int
}{
	{"opus", 200_000},
	{"sonnet", 200_000},
	{"haiku", 200_000},
	{"claude", 200_000},
	{"gpt-4", 128_000},
	{"gemini", 1_000_000},
	{"o1", 200_000},
	{"o3", 200_000},
	{"o4", 200_000},
}

// ContextWindow resolves a model's context window by substring match.
func ContextWindow(model string) int {
	m := strings.ToLower(model)
	for _, cw := range contextWindows {
		if strings.Contains(m, cw.substr) {
			return cw.window
		}
	}
	return DefaultContextWindow
}

// Usage builds the context summary sent on chat.done. It returns nil when
// used is not positive.
func Usage(used int, model string) *wire.ContextUsage {
	if used <= 0 {
		return nil
	}
	window := ContextWindow(model)
	return &wire.ContextUsage{
		Used:    used,
		Max:     window,
		Percent: int(math.Round(float64(used) / float64(window) * 100)),
	}
}
