package entities

import "encoding/json"

// RecognitionResult is one response observed on a recognition stream
type RecognitionResult struct {
	Transcript                string          `json:"transcript"`
	IntentDisplayName         string          `json:"intentDisplayName"`
	QueryText                 string          `json:"queryText"`
	IntentDetectionConfidence float32         `json:"intentDetectionConfidence"`
	FulfillmentText           string          `json:"fulfillmentText"`
	IsFinal                   bool            `json:"isFinal"`
	Raw                       json.RawMessage `json:"raw,omitempty"`
}

// HasIntent reports whether the backend matched an intent
func (r *RecognitionResult) HasIntent() bool {
	return r != nil && r.IntentDisplayName != ""
}
