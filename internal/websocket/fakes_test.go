package websocket

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
)

var errBackend = errors.New("backend unavailable")

// fakeRecognizer hands out scripted streams in order.
type fakeRecognizer struct {
	mu       sync.Mutex
	openErr  error
	script   func() *fakeStream
	opened   []*fakeStream
	sessions []string
}

func (r *fakeRecognizer) Name() string { return "fake" }

func (r *fakeRecognizer) OpenStream(ctx context.Context, sessionID string, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.openErr != nil {
		return nil, r.openErr
	}
	s := &fakeStream{}
	if r.script != nil {
		s = r.script()
	}
	s.closedCh = make(chan struct{})
	r.opened = append(r.opened, s)
	r.sessions = append(r.sessions, sessionID)
	return s, nil
}

func (r *fakeRecognizer) stream(i int) *fakeStream {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.opened[i]
}

// fakeStream replays responses after CloseSend, then ends with recvErr or
// io.EOF. With hang set it blocks after the responses until Close.
type fakeStream struct {
	responses []*entities.RecognitionResult
	recvErr   error
	sendErr   error
	hang      bool

	mu         sync.Mutex
	sent       [][]byte
	closeSends int
	closes     int
	recvIdx    int
	closedCh   chan struct{}
}

func (s *fakeStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, append([]byte(nil), audio...))
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSends++
	return nil
}

func (s *fakeStream) Recv() (*entities.RecognitionResult, error) {
	s.mu.Lock()
	if s.recvIdx < len(s.responses) {
		r := s.responses[s.recvIdx]
		s.recvIdx++
		s.mu.Unlock()
		return r, nil
	}
	hang, recvErr := s.hang, s.recvErr
	s.mu.Unlock()

	if hang {
		<-s.closedCh
		return nil, context.Canceled
	}
	if recvErr != nil {
		return nil, recvErr
	}
	return nil, io.EOF
}

func (s *fakeStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closes == 0 {
		close(s.closedCh)
	}
	s.closes++
	return nil
}

func (s *fakeStream) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]byte(nil), s.sent...)
}

func (s *fakeStream) counts() (closeSends, closes int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeSends, s.closes
}

// fakeConn records what the bridge sends.
type fakeConn struct {
	id      string
	sendErr error

	mu     sync.Mutex
	texts  []string
	closes int
}

func newFakeConn(id string) *fakeConn {
	return &fakeConn{id: id}
}

func (c *fakeConn) ID() string { return c.id }

func (c *fakeConn) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sendErr != nil {
		return c.sendErr
	}
	c.texts = append(c.texts, text)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *fakeConn) sent() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.texts...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closes
}
