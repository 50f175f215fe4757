package stt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"

	"go.uber.org/zap"

	"github.com/satriahrh/streamvoice/domain/entities"
	"github.com/satriahrh/streamvoice/domain/repositories"
)

// ErrMockStreamClosed is returned by Send after CloseSend or Close.
var ErrMockStreamClosed = errors.New("mock stream closed")

// MockRecognizer is an in-process recognizer for local development. It
// picks a canned utterance from the amount of audio received.
type MockRecognizer struct {
	logger *zap.Logger
}

// NewMockRecognizer creates a new mock recognizer
func NewMockRecognizer(logger *zap.Logger) *MockRecognizer {
	return &MockRecognizer{
		logger: logger,
	}
}

func (m *MockRecognizer) Name() string {
	return "mock"
}

// OpenStream creates a new mock streaming session
func (m *MockRecognizer) OpenStream(ctx context.Context, sessionID string, config repositories.AudioConfig) (repositories.RecognitionStream, error) {
	m.logger.Info("Initializing mock recognition stream",
		zap.String("sessionID", sessionID),
		zap.Int("sampleRateHertz", config.SampleRateHertz),
		zap.String("encoding", config.Encoding),
		zap.String("languageCode", config.LanguageCode))

	return &MockRecognitionStream{
		logger:  m.logger,
		results: make(chan *entities.RecognitionResult, 4),
		done:    make(chan struct{}),
	}, nil
}

// MockRecognitionStream emits one interim and one final result after
// CloseSend, then io.EOF.
type MockRecognitionStream struct {
	logger *zap.Logger

	mu       sync.Mutex
	received int
	sendDone bool
	closed   bool
	results  chan *entities.RecognitionResult
	done     chan struct{}
}

// Send implements mock streaming audio processing
func (m *MockRecognitionStream) Send(audio []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendDone || m.closed {
		return ErrMockStreamClosed
	}
	m.received += len(audio)
	m.logger.Debug("Processing mock audio chunk", zap.Int("size", len(audio)))
	return nil
}

func (m *MockRecognitionStream) CloseSend() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.sendDone || m.closed {
		return nil
	}
	m.sendDone = true

	if m.received > 0 {
		utterance, intent := mockUtterance(m.received)
		m.results <- &entities.RecognitionResult{
			Transcript: utterance,
		}
		m.results <- &entities.RecognitionResult{
			Transcript:                utterance,
			QueryText:                 utterance,
			IntentDisplayName:         intent,
			IntentDetectionConfidence: 1,
			FulfillmentText:           fmt.Sprintf("Matched %s from %d bytes of audio", intent, m.received),
			IsFinal:                   true,
		}
	}
	close(m.results)
	return nil
}

func (m *MockRecognitionStream) Recv() (*entities.RecognitionResult, error) {
	select {
	case result, ok := <-m.results:
		if !ok {
			return nil, io.EOF
		}
		return result, nil
	case <-m.done:
		return nil, context.Canceled
	}
}

func (m *MockRecognitionStream) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if !m.closed {
		m.closed = true
		close(m.done)
	}
	return nil
}

// mockUtterance mocks different responses based on cumulative audio size.
// At 16 kHz LINEAR16 one second is 32000 bytes.
func mockUtterance(size int) (string, string) {
	switch {
	case size > 96000:
		return "I would like to book a table for four people tonight", "book.table"
	case size > 32000:
		return "what is the weather like today", "weather.current"
	case size > 1000:
		return "hello there", "greeting"
	default:
		return "hi", "greeting"
	}
}
