package ledger

import "testing"

func TestRunKey_String(t *testing.T) {
	tests := []struct {
		name string
		key  RunKey
		want string
	}{
		{
			name: "full key",
			key: RunKey{
				Project: "ai_tools",
				Entity:  "observations",
				From:    "2024-03-13T00:00:00Z",
				To:      "2024-03-15T00:00:00Z",
			},
			want: "langfuse:run:ai_tools:observations:2024-03-13T00:00:00Z:2024-03-15T00:00:00Z",
		},
		{
			name: "empty parts keep positions",
			key:  RunKey{Project: "ai_assistant", Entity: "scores"},
			want: "langfuse:run:ai_assistant:scores::",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.key.String(); got != tt.want {
				t.Errorf("String() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunKey_Deterministic(t *testing.T) {
	a := RunKey{Project: "p", Entity: "traces", From: "f", To: "t"}
	b := RunKey{Project: "p", Entity: "traces", From: "f", To: "t"}
	if a.String() != b.String() {
		t.Errorf("equal keys produced %q and %q", a.String(), b.String())
	}

	c := RunKey{Project: "p", Entity: "scores", From: "f", To: "t"}
	if a.String() == c.String() {
		t.Error("different entities produced the same key")
	}
}
