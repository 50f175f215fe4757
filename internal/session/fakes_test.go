package session

import (
	"errors"
	"io"
	"sync"

	"github.com/satriahrh/streamvoice/domain/entities"
)

type fakeConn struct{ id string }

func (c *fakeConn) ID() string            { return c.id }
func (c *fakeConn) SendText(string) error { return nil }
func (c *fakeConn) Close() error          { return nil }

type fakeStream struct {
	mu         sync.Mutex
	sent       [][]byte
	closeSends int
	sendErr    error
}

func (s *fakeStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sendErr != nil {
		return s.sendErr
	}
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeSends++
	return nil
}

func (s *fakeStream) Recv() (*entities.RecognitionResult, error) { return nil, io.EOF }
func (s *fakeStream) Close() error                               { return nil }

var errBackend = errors.New("backend unavailable")
