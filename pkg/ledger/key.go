package ledger

import "strings"

// keyPrefix namespaces ledger keys in a shared Redis.
const keyPrefix = "langfuse:run"

// RunKey identifies the run of one entity of one project over one window.
type RunKey struct {
	Project string
	Entity  string
	From    string
	To      string
}

// String generates the deterministic Redis key.
// Format: langfuse:run:project:entity:from:to
//
// Example:
//
//	langfuse:run:ai_tools:observations:2024-03-13T00:00:00Z:2024-03-15T00:00:00Z
func (k RunKey) String() string {
	return strings.Join([]string{keyPrefix, k.Project, k.Entity, k.From, k.To}, ":")
}
