package session

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/satriahrh/streamvoice/domain/repositories"
)

// ErrSendClosed is returned when audio is sent after the outbound half was closed.
var ErrSendClosed = errors.New("recognition stream send side already closed")

// State is the lifecycle state of a session
type State int32

const (
	StateInitializing State = iota
	StateStreaming
	StateFinalizing
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateStreaming:
		return "streaming"
	case StateFinalizing:
		return "finalizing"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Connection is the transport side of a session. The registry only
// references it; the transport owns it.
type Connection interface {
	ID() string
	SendText(text string) error
	Close() error
}

// Session is one recognition stream bound to one connection.
type Session struct {
	ID        string
	Conn      Connection
	Stream    repositories.RecognitionStream
	StartedAt time.Time

	state atomic.Int32

	// sendMu serializes Send and CloseSend on Stream.
	sendMu     sync.Mutex
	sendClosed bool
	frames     int
}

// New creates a session in the initializing state
func New(id string, conn Connection, stream repositories.RecognitionStream) *Session {
	return &Session{
		ID:        id,
		Conn:      conn,
		Stream:    stream,
		StartedAt: time.Now(),
	}
}

// State returns the current lifecycle state
func (s *Session) State() State {
	return State(s.state.Load())
}

// Transition moves the session from one state to another. It returns false
// when the session was not in the from state.
func (s *Session) Transition(from, to State) bool {
	return s.state.CompareAndSwap(int32(from), int32(to))
}

// MarkClosed forces the terminal state.
func (s *Session) MarkClosed() {
	s.state.Store(int32(StateClosed))
}

// SendAudio forwards one audio chunk to the backend.
func (s *Session) SendAudio(audio []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return ErrSendClosed
	}
	if err := s.Stream.Send(audio); err != nil {
		return err
	}
	s.frames++
	return nil
}

// CloseSend half-closes the stream. Calling it twice is a no-op.
func (s *Session) CloseSend() error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	if s.sendClosed {
		return nil
	}
	s.sendClosed = true
	return s.Stream.CloseSend()
}

// FramesForwarded returns how many audio chunks reached the backend
func (s *Session) FramesForwarded() int {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	return s.frames
}

// Age returns how long the session has been open at now
func (s *Session) Age(now time.Time) time.Duration {
	return now.Sub(s.StartedAt)
}
