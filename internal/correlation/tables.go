package correlation

import (
	"encoding/json"
	"time"
)

// Default timeouts for the human-paced tables.
const (
	DefaultApprovalTimeout = 120 * time.Second
	DefaultQuestionTimeout = 120 * time.Second
)

// Tables groups the three tables the bridge needs.
type Tables struct {
	// Approvals is keyed by execution id; the value is "approved".
	Approvals *Table[bool]
	// Questions is keyed by question-group id; the value maps question text
	// to the selected answer.
	Questions *Table[map[string]string]
	// ToolResults is keyed by call id and has no default timeout.
	ToolResults *Table[json.RawMessage]
}

// NewTables builds the three tables with their default timeouts.
func NewTables(opts ...Option) *Tables {
	return &Tables{
		Approvals:   New[bool]("approval", DefaultApprovalTimeout, opts...),
		Questions:   New[map[string]string]("question", DefaultQuestionTimeout, opts...),
		ToolResults: New[json.RawMessage]("tool_result", 0, opts...),
	}
}

// PendingCounts reports pending waiters per table.
func (t *Tables) PendingCounts() map[string]int {
	return map[string]int{
		t.Approvals.Name():   t.Approvals.Pending(),
		t.Questions.Name():   t.Questions.Pending(),
		t.ToolResults.Name(): t.ToolResults.Pending(),
	}
}

// Close rejects every pending waiter in all tables.
func (t *Tables) Close() {
	t.Approvals.Close()
	t.Questions.Close()
	t.ToolResults.Close()
}
