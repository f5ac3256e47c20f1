package engine

// Metrics is the engine's instrumentation surface. The prometheus-backed
// implementation lives in infrastructure; tests use NopMetrics.
type Metrics interface {
	// SessionStarted is called when a new session worker is registered.
	SessionStarted()

	// SessionClosed is called when a session worker terminates.
	SessionClosed()

	// EventProcessed is called for each observation that went through the
	// pipeline. kind is "video", "audio" or "client".
	EventProcessed(kind string)

	// EventDropped is called when a full inbound queue forced the oldest
	// pending event out.
	EventDropped(kind string)

	// ViolationRecorded is called for each recorded violation event.
	ViolationRecorded(violationType string, billable bool)

	// VerdictDecided is called once per finalized session.
	VerdictDecided(status string)
}

// NopMetrics discards all observations.
type NopMetrics struct{}

func (NopMetrics) SessionStarted()                {}
func (NopMetrics) SessionClosed()                 {}
func (NopMetrics) EventProcessed(string)          {}
func (NopMetrics) EventDropped(string)            {}
func (NopMetrics) ViolationRecorded(string, bool) {}
func (NopMetrics) VerdictDecided(string)          {}

var _ Metrics = NopMetrics{}
