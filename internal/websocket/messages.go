package websocket

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/satriahrh/streamvoice/domain/entities"
)

// EmptyResponse is sent instead of a result when the backend produced no response.
const EmptyResponse = "Response is Empty"

// SentinelSize is the length of the end-of-audio frame.
const SentinelSize = 3

// DefaultSentinel is the end-of-audio frame browsers send after the last chunk.
var DefaultSentinel = []byte("end")

// IsSentinel reports whether frame is exactly the end-of-audio sentinel
func IsSentinel(frame, sentinel []byte) bool {
	return len(frame) == SentinelSize && bytes.Equal(frame, sentinel)
}

// EncodeResult renders the text frame sent to the client. A nil result
// yields EmptyResponse.
func EncodeResult(result *entities.RecognitionResult) (string, error) {
	if result == nil {
		return EmptyResponse, nil
	}
	data, err := json.Marshal(result)
	if err != nil {
		return "", fmt.Errorf("failed to encode recognition result: %w", err)
	}
	return string(data), nil
}

// ErrorMessage is sent before closing a connection that could not be
// established for recognition.
type ErrorMessage struct {
	Type      string `json:"type"`
	Timestamp string `json:"timestamp"`
	Code      string `json:"error_code"`
	Message   string `json:"message"`
}

// CreateErrorMessage creates a standardized error message
func CreateErrorMessage(code, message string) *ErrorMessage {
	return &ErrorMessage{
		Type:      "error",
		Timestamp: time.Now().Format(time.RFC3339),
		Code:      code,
		Message:   message,
	}
}
