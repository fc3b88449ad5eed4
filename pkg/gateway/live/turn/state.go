package turn

import (
	"errors"
	"fmt"
	"time"
)

// State is the controller's position in the turn cycle.
type State int

const (
	Idle State = iota
	Listening
	Committing
	AwaitingResponse
	StreamingResponse
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Listening:
		return "listening"
	case Committing:
		return "committing"
	case AwaitingResponse:
		return "awaiting_response"
	case StreamingResponse:
		return "streaming_response"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

func (s State) responding() bool {
	return s == AwaitingResponse || s == StreamingResponse
}

// Event is a client-originated input to the controller.
type Event interface {
	turnEvent()
}

type AudioData struct{ PCM []byte }
type AudioEnd struct{}
type TextMessage struct{ Text string }
type Interrupt struct{}
type Disconnect struct{}

func (AudioData) turnEvent()   {}
func (AudioEnd) turnEvent()    {}
func (TextMessage) turnEvent() {}
func (Interrupt) turnEvent()   {}
func (Disconnect) turnEvent()  {}

var (
	// ErrEmptyAudio is reported when a turn is committed with no audio.
	ErrEmptyAudio = errors.New("turn: no audio to commit")
	// ErrTurnInProgress is reported when a text message arrives mid-response.
	ErrTurnInProgress = errors.New("turn: a response is already in progress")
)

// ProtocolViolation is an upstream event that does not fit the current state.
type ProtocolViolation struct {
	State State
	Event string
}

func (e *ProtocolViolation) Error() string {
	return fmt.Sprintf("turn: unexpected %s in state %s", e.Event, e.State)
}

// Turn kinds and outcomes reported to the Observer.
const (
	KindAudio = "audio"
	KindText  = "text"

	OutcomeCompleted    = "completed"
	OutcomeInterrupted  = "interrupted"
	OutcomeError        = "error"
	OutcomeDisconnected = "disconnected"

	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Observer receives turn lifecycle signals. Implementations must be cheap;
// they are called with the controller lock held.
type Observer interface {
	TurnStarted(kind string)
	TurnFinished(kind, outcome string, d time.Duration)
	AudioRelayed(direction string, n int)
	EventDropped(kind string)
	ClientError(code string)
}

type nopObserver struct{}

func (nopObserver) TurnStarted(string)                         {}
func (nopObserver) TurnFinished(string, string, time.Duration) {}
func (nopObserver) AudioRelayed(string, int)                   {}
func (nopObserver) EventDropped(string)                        {}
func (nopObserver) ClientError(string)                         {}
