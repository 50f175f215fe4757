package repositories

import (
	"context"

	"github.com/satriahrh/streamvoice/domain/entities"
)

// IntentRecognizer abstracts the bidirectional streaming recognition backend
type IntentRecognizer interface {
	// Name identifies the backend in logs and metrics
	Name() string
	// OpenStream opens one recognition stream for sessionID and sends the
	// initial configuration request. No audio is sent by OpenStream.
	OpenStream(ctx context.Context, sessionID string, config AudioConfig) (RecognitionStream, error)
}

// AudioConfig represents audio configuration for speech recognition
type AudioConfig struct {
	SampleRateHertz int    `json:"sample_rate_hertz" yaml:"sample_rate_hertz"`
	Encoding        string `json:"encoding" yaml:"encoding"`
	LanguageCode    string `json:"language_code" yaml:"language_code"`
}

// RecognitionStream is one open bidirectional stream. Send and CloseSend
// must not be called concurrently; Recv may run on another goroutine.
type RecognitionStream interface {
	// Send forwards one chunk of raw audio.
	Send(audio []byte) error
	// CloseSend half-closes the outbound direction.
	CloseSend() error
	// Recv returns the next response, or io.EOF once the backend has
	// finished the inbound direction.
	Recv() (*entities.RecognitionResult, error)
	// Close cancels the stream and releases its resources. It unblocks a
	// pending Recv.
	Close() error
}
