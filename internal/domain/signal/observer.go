package signal

// EventKind identifies what an evaluation step reported.
type EventKind string

const (
	EventSignalEvaluated   EventKind = "signal.evaluated"
	EventGroupFiltered     EventKind = "group.filtered"
	EventRuleCompileFailed EventKind = "rule.compile_failed"
	EventFollowupsResolved EventKind = "followups.resolved"
	EventJoinDrift         EventKind = "join.drift"
)

// Event is a single evaluation step report.
type Event struct {
	Kind EventKind `json:"kind"`
	// ReportID ties the event to one evaluation pass.
	ReportID string `json:"reportId,omitempty"`
	ModuleID string `json:"moduleId,omitempty"`
	SignalID string `json:"signalId,omitempty"`
	Group    string `json:"group,omitempty"`
	Status   Status `json:"status,omitempty"`
	Source   string `json:"source,omitempty"`
	Detail   string `json:"detail,omitempty"`
}

// Observer receives evaluation events. Implementations must be safe for
// concurrent use; evaluators call them synchronously.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }

// NopObserver discards events.
type NopObserver struct{}

func (NopObserver) Observe(Event) {}

// StampReport returns an observer that sets ReportID on every event it
// forwards to o. Events that already carry a report id keep it.
func StampReport(o Observer, reportID string) Observer {
	if o == nil {
		o = NopObserver{}
	}
	return ObserverFunc(func(e Event) {
		if e.ReportID == "" {
			e.ReportID = reportID
		}
		o.Observe(e)
	})
}
