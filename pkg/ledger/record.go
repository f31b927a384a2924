package ledger

import "time"

// Status is the state of a run.
type Status string

const (
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// RunRecord describes one load of one entity.
type RunRecord struct {
	RunID   string `json:"run_id"`
	Project string `json:"project"`
	Entity  string `json:"entity"`
	From    string `json:"from"`
	To      string `json:"to"`
	Status  Status `json:"status"`

	// Records is the number of rows written to the warehouse.
	Records int `json:"records"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Error      string    `json:"error,omitempty"`
}

// Key returns the ledger key of the record.
func (r *RunRecord) Key() RunKey {
	return RunKey{Project: r.Project, Entity: r.Entity, From: r.From, To: r.To}
}

// Duration returns how long the run took, or 0 while it is running.
func (r *RunRecord) Duration() time.Duration {
	if r.FinishedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Finish marks the record done at t. A nil err means success.
func (r *RunRecord) Finish(t time.Time, records int, err error) {
	r.FinishedAt = t
	r.Records = records
	if err != nil {
		r.Status = StatusFailed
		r.Error = err.Error()
		return
	}
	r.Status = StatusSucceeded
	r.Error = ""
}
