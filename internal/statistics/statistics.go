package statistics

import (
	"context"
	"time"
)

const dumpInterval = 5 * time.Second

const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
)

// Recorder collects what the interception engine did. A nil *Recorder is
// valid and records nothing.
type Recorder struct {
	ActionRecordList *ActionRecordList
	Metrics          *Metrics
}

func New(dumpFile string) *Recorder {
	return &Recorder{
		ActionRecordList: NewActionRecordList(dumpFile),
		Metrics:          NewMetrics(),
	}
}

// Start runs the record list until ctx is done. The returned channel is
// closed once the last records are dumped.
func (r *Recorder) Start(ctx context.Context) <-chan struct{} {
	if r == nil || r.ActionRecordList == nil {
		done := make(chan struct{})
		close(done)
		return done
	}
	return r.ActionRecordList.Run(ctx, dumpInterval)
}

func (r *Recorder) AddRecord(record *ActionRecord) {
	if r == nil || r.ActionRecordList == nil {
		return
	}
	r.ActionRecordList.Enqueue(record)
}

func (r *Recorder) RuleMatched(rule string) {
	if r == nil || r.Metrics == nil {
		return
	}
	r.Metrics.RuleMatchesTotal.WithLabelValues(rule).Inc()
}

func (r *Recorder) ActionResult(action, result string) {
	if r == nil || r.Metrics == nil {
		return
	}
	r.Metrics.ActionsAppliedTotal.WithLabelValues(action, result).Inc()
}

func (r *Recorder) ConfigReloaded(ok bool, activeRules int) {
	if r == nil || r.Metrics == nil {
		return
	}
	result := ResultApplied
	if !ok {
		result = ResultFailed
	}
	r.Metrics.ConfigReloadsTotal.WithLabelValues(result).Inc()
	r.Metrics.ActiveRules.Set(float64(activeRules))
}
