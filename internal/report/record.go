package report

import (
	"time"

	"rdispatch/internal/inventory"
	"rdispatch/internal/ssh"
)

// Record is the machine-readable view of one outcome. It is what the JSON
// printer writes and what the AMQP publisher sends.
type Record struct {
	Name      string    `json:"name"`
	Kind      ssh.Kind  `json:"kind"`
	Error     string    `json:"error,omitempty"`
	Timestamp time.Time `json:"timestamp"`

	*ssh.DispatchResult
}

func NewRecord(o inventory.Outcome, now time.Time) Record {
	failure := o.Failure()

	r := Record{
		Name:           o.Entry.Name,
		Kind:           ssh.KindOf(failure),
		Timestamp:      now.UTC(),
		DispatchResult: o.Result,
	}

	if failure != nil {
		r.Error = failure.Error()
	}

	return r
}

func Records(outcomes []inventory.Outcome) []Record {
	now := time.Now()
	records := make([]Record, 0, len(outcomes))

	for _, o := range outcomes {
		records = append(records, NewRecord(o, now))
	}

	return records
}

func (r Record) Success() bool {
	return r.Kind == ssh.KindOK
}

func (r Record) exitCode() int {
	if r.DispatchResult == nil {
		return -1
	}
	return r.DispatchResult.ExitCode
}

func (r Record) duration() time.Duration {
	if r.DispatchResult == nil {
		return 0
	}
	return r.DispatchResult.Duration
}
