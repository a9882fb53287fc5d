package turns

// Payload keys shared by block constructors and consumers.
const (
	PayloadKeyText   = "text"
	PayloadKeyID     = "id"
	PayloadKeyName   = "name"
	PayloadKeyArgs   = "args"
	PayloadKeyResult = "result"
	PayloadKeyError  = "error"
)

// Metadata keys attached to turns by the orchestrator and compactor.
const (
	MetaKeySessionID = "session_id"
	MetaKeyPhase     = "phase"
	// MetaKeySummary marks a turn synthesized by the compactor in place of
	// dropped history.
	MetaKeySummary = "summary"
)
