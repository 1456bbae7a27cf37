package handler

import "time"

type HealthResponse struct {
	Status      string    `json:"status"`
	Connections int       `json:"connections"`
	Timestamp   time.Time `json:"timestamp"`
}

type connectionCounter interface {
	Size() int
}

type HealthHandler struct {
	registry connectionCounter
}

func NewHealthHandler(registry connectionCounter) *HealthHandler {
	return &HealthHandler{
		registry,
	}
}

func (h *HealthHandler) Handle() HealthResponse {
	return HealthResponse{
		Status:      "ok",
		Connections: h.registry.Size(),
		Timestamp:   time.Now(),
	}
}
