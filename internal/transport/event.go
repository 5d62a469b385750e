package transport

// State is the peer connection state as reported by the engine.
type State string

const (
	StateNew          State = "new"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
	StateDisconnected State = "disconnected"
	StateFailed       State = "failed"
	StateClosed       State = "closed"
)

// Terminal reports whether the connection must be torn down on entering s.
func (s State) Terminal() bool {
	switch s {
	case StateDisconnected, StateFailed, StateClosed:
		return true
	default:
		return false
	}
}

func (s State) String() string {
	return string(s)
}

type GatheringState string

const (
	GatheringNew      GatheringState = "new"
	GatheringActive   GatheringState = "gathering"
	GatheringComplete GatheringState = "complete"
)

type EventKind int

const (
	EventStateChange EventKind = iota
	EventGatheringStateChange
	EventLocalCandidate
	EventLocalDescription
)

func (k EventKind) String() string {
	switch k {
	case EventStateChange:
		return "state"
	case EventGatheringStateChange:
		return "gathering"
	case EventLocalCandidate:
		return "candidate"
	case EventLocalDescription:
		return "description"
	default:
		return "unknown"
	}
}

// Event is one engine notification. Only the field matching Kind is set.
type Event struct {
	Kind        EventKind
	State       State
	Gathering   GatheringState
	Candidate   Candidate
	Description SessionDescription
}

func StateEvent(s State) Event {
	return Event{Kind: EventStateChange, State: s}
}

func GatheringEvent(s GatheringState) Event {
	return Event{Kind: EventGatheringStateChange, Gathering: s}
}

func CandidateEvent(c Candidate) Event {
	return Event{Kind: EventLocalCandidate, Candidate: c}
}

func DescriptionEvent(d SessionDescription) Event {
	return Event{Kind: EventLocalDescription, Description: d}
}
