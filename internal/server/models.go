package server

// HTTPError is a generic error envelope returned by the server.
type HTTPError struct {
	Error string `json:"error"`
}

// GenerateReportRequest is the body of POST /generate-report.
type GenerateReportRequest struct {
	Topic           string         `json:"topic"`
	ConfigOverrides map[string]any `json:"config_overrides,omitempty"`
}

// GenerateReportResponse acknowledges a submitted job.
type GenerateReportResponse struct {
	JobID           string `json:"job_id"`
	Status          string `json:"status"`
	Message         string `json:"message"`
	PositionInQueue *int   `json:"position_in_queue,omitempty"`
	EstimatedTime   *int   `json:"estimated_time,omitempty"`
}

// HealthResponse reports capacity and warm-up state.
type HealthResponse struct {
	Status       string `json:"status"`
	ServerStatus string `json:"server_status"`
	CurrentLoad  int    `json:"current_load"`
	MaxCapacity  int    `json:"max_capacity"`
	IsWarmingUp  bool   `json:"is_warming_up"`
}
