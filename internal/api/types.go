package api

// HealthResponse is the payload of the health check
type HealthResponse struct {
	Status  string `json:"status"`
	Service string `json:"service"`
}

// WhoAmIResponse names the authenticated caller
type WhoAmIResponse struct {
	Principal string `json:"principal"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}
