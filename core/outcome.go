package core

// Result is the payload of a Finished event. Concrete result types implement
// the unexported isResult marker enabling a closed set.
type Result interface{ isResult() }

// TextResult is a generated text answer.
type TextResult struct {
	Text string
}

// RemoteAsset references a binary result that still lives on the backend and
// must be fetched before delivery.
type RemoteAsset struct {
	Path string
}

// AssetResult is a binary result already held in memory.
type AssetResult struct {
	Data []byte
}

func (TextResult) isResult()  {}
func (RemoteAsset) isResult() {}
func (AssetResult) isResult() {}

// Outcome is what the delivery stage sends back to a conversation.
type Outcome interface{ isOutcome() }

// TextOutcome is delivered rich-formatted first, with a plain fallback.
type TextOutcome struct {
	Text string
}

// AssetOutcome is delivered as a binary attachment.
type AssetOutcome struct {
	Data []byte
}

// FailureOutcome is a plain text notice telling the submitter the request
// did not complete. Reason is the internal cause; it is logged but never
// shown. Rejections leave it empty.
type FailureOutcome struct {
	Message string
	Reason  string
}

func (TextOutcome) isOutcome()    {}
func (AssetOutcome) isOutcome()   {}
func (FailureOutcome) isOutcome() {}

// OutcomeKind returns a short label for logging and metrics.
func OutcomeKind(o Outcome) string {
	switch o.(type) {
	case TextOutcome:
		return "text"
	case AssetOutcome:
		return "asset"
	case FailureOutcome:
		return "failure"
	default:
		return "unknown"
	}
}
