package dicom

// Reply status codes the wire protocol expects.
const (
	StatusSuccess                uint16 = 0x0000
	StatusFailure                uint16 = 0xC000
	StatusCancel                 uint16 = 0xFE00
	StatusPending                uint16 = 0xFF00
	StatusMoveDestinationUnknown uint16 = 0xA801
)

// Synthesizer computes the minimal protocol-conformant reply for each
// supported operation. Replies derive from the request plus static
// server identity only; there is no datastore behind them.
type Synthesizer struct {
	ArtifactDir string
}

// Echo always succeeds.
func (s *Synthesizer) Echo() uint16 {
	return StatusSuccess
}

// Move validates the scope indicator; a scoped query always resolves to
// an unknown destination because the server cannot know which
// peer-specified external destination exists. Never success.
func (s *Synthesizer) Move(scope string) uint16 {
	if scope == "" {
		return StatusFailure
	}
	return StatusMoveDestinationUnknown
}

// Get builds the pull-based step sequence for one query-retrieve
// request. cancelled is polled at each step boundary.
func (s *Synthesizer) Get(scope string, cancelled func() bool) *GetResponder {
	if cancelled == nil {
		cancelled = func() bool { return false }
	}
	return &GetResponder{
		scopeOK:   scope != "",
		cancelled: cancelled,
		record:    demonstrationRecord(),
	}
}

// Find reuses the query-retrieve sequence; a C-FIND match is the same
// fixed record delivered inline instead of via a sub-operation.
func (s *Synthesizer) Find(scope string, cancelled func() bool) *GetResponder {
	return s.Get(scope, cancelled)
}

// GetState enumerates responder states.
type GetState int

const (
	GetAnnounced GetState = iota
	GetPending
	GetCancelled
	GetFailed
	GetDone
)

func (s GetState) String() string {
	switch s {
	case GetAnnounced:
		return "announced"
	case GetPending:
		return "pending"
	case GetCancelled:
		return "cancelled"
	case GetFailed:
		return "failed"
	case GetDone:
		return "done"
	}
	return "unknown"
}

// GetStep is one synthesized reply step.
type GetStep struct {
	State     GetState
	Status    uint16
	Remaining uint16
	Payload   []DataElement
}

// GetResponder replays the fixed reply sequence for one query: exactly
// one pending-count announcement, then either cancel-and-stop or one
// pending payload, then done. Consumers drive it step by step.
type GetResponder struct {
	scopeOK   bool
	cancelled func() bool
	record    []DataElement
	stage     int
	exhausted bool
}

// Next returns the next step; ok is false once the sequence ended.
func (g *GetResponder) Next() (GetStep, bool) {
	if g.exhausted {
		return GetStep{}, false
	}
	if !g.scopeOK {
		g.exhausted = true
		return GetStep{State: GetFailed, Status: StatusFailure}, true
	}
	switch g.stage {
	case 0:
		g.stage = 1
		return GetStep{State: GetAnnounced, Status: StatusPending, Remaining: 1}, true
	case 1:
		if g.cancelled() {
			g.exhausted = true
			return GetStep{State: GetCancelled, Status: StatusCancel}, true
		}
		g.stage = 2
		return GetStep{State: GetPending, Status: StatusPending, Payload: g.record}, true
	default:
		g.exhausted = true
		return GetStep{State: GetDone, Status: StatusSuccess}, true
	}
}
