package server

// HealthResponse represents the health check response
type HealthResponse struct {
	Status      string `json:"status"`
	Version     string `json:"version"`
	Uptime      string `json:"uptime"`
	Concurrency int    `json:"concurrency"`
	Active      int    `json:"active"`
	Pending     int    `json:"pending"`
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code"`
}

// CreateRunResponse is returned when a run is enqueued.
type CreateRunResponse struct {
	ID string `json:"id"`
}

// ConcurrencyRequest changes the queue's concurrency limit.
type ConcurrencyRequest struct {
	Concurrency int `json:"concurrency"`
}
