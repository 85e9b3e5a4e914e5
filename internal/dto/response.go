package dto

// ErrorResponse represents an error response. Rejected pipeline commands
// carry the rejection reason in Message.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Backend   string `json:"backend"`  // Analysis Service base URL
	Sessions  int    `json:"sessions"` // open page sessions
}
