package core

// Event is a job lifecycle notification consumed by the correlation loop.
// Concrete event types implement the unexported isEvent marker, making the
// set closed: Requested, Started, Progress, Finished and Failed.
type Event interface{ isEvent() }

// Prompt is the user supplied input forwarded to a backend.
type Prompt struct {
	Text string `json:"text"`
}

// Requested is emitted by a front-end when a user asks for a generation.
type Requested struct {
	ID      Identifier
	Backend string
	Prompt  Prompt
}

// Started registers a backend issued handle for a previously admitted request.
type Started struct {
	Handle  JobHandle
	ID      Identifier
	Backend string
}

// Progress reports an intermediate step of a streaming job.
type Progress struct {
	Handle JobHandle
}

// Finished reports a terminal success. Streaming backends key it by Handle;
// request/response backends leave Handle empty and set ID instead.
type Finished struct {
	Handle JobHandle
	ID     Identifier
	// Backend names the producer; optional for handle-keyed events.
	Backend string
	Result  Result
}

// Failed reports a terminal failure. It is keyed like Finished; a
// handle-keyed Failed may additionally carry the ID when the caller already
// knows it (e.g. after a timeout eviction).
type Failed struct {
	Handle  JobHandle
	ID      Identifier
	Backend string
	Reason  string
}

func (Requested) isEvent() {}
func (Started) isEvent()   {}
func (Progress) isEvent()  {}
func (Finished) isEvent()  {}
func (Failed) isEvent()    {}

// ByHandle reports whether the event must be correlated through the job table.
func (f Finished) ByHandle() bool { return f.Handle != "" }

// ByHandle reports whether the event must be correlated through the job table.
func (f Failed) ByHandle() bool { return f.Handle != "" }

// HasID reports whether the failure carries a usable request identifier.
func (f Failed) HasID() bool { return f.ID != (Identifier{}) }

// EventName returns a short, stable name for logging and metrics labels.
func EventName(ev Event) string {
	switch ev.(type) {
	case Requested:
		return "requested"
	case Started:
		return "started"
	case Progress:
		return "progress"
	case Finished:
		return "finished"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}
