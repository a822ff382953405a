package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"

	"github.com/webtuner/webtuner/internal/manager"
	"github.com/webtuner/webtuner/internal/tuner"
)

// StatusHandler reports pool readiness over the JSON API.
type StatusHandler struct {
	version   string
	startTime time.Time
	manager   *manager.Manager
	guide     GuideStatusReporter
}

// GuideStatusReporter is the slice of the guide service the status page
// needs.
type GuideStatusReporter interface {
	Enabled() bool
}

// NewStatusHandler creates a new status handler.
func NewStatusHandler(version string, m *manager.Manager, guide GuideStatusReporter) *StatusHandler {
	return &StatusHandler{
		version:   version,
		startTime: time.Now(),
		manager:   m,
		guide:     guide,
	}
}

// StatusInput is the input for the status endpoint.
type StatusInput struct{}

// TunerCounts aggregates the pool by state.
type TunerCounts struct {
	Free      int `json:"free"`
	Streaming int `json:"streaming"`
	Error     int `json:"error"`
	Clients   int `json:"clients"`
}

// GuideStatus reports the guide collaborator's configuration.
type GuideStatus struct {
	Enabled bool `json:"enabled"`
}

// StatusResponse is the status payload.
type StatusResponse struct {
	Status        string           `json:"status"`
	Version       string           `json:"version"`
	Uptime        string           `json:"uptime"`
	UptimeSeconds float64          `json:"uptime_seconds"`
	Tuners        []tuner.Snapshot `json:"tuners"`
	Counts        TunerCounts      `json:"counts"`
	Guide         GuideStatus      `json:"guide"`
}

// StatusOutput is the output for the status endpoint.
type StatusOutput struct {
	Body StatusResponse
}

// Register registers the status route with the API.
func (h *StatusHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "getStatus",
		Method:      "GET",
		Path:        "/api/status",
		Summary:     "System status",
		Description: "Returns pool readiness, per-tuner state and guide collaborator status",
		Tags:        []string{"System"},
	}, h.GetStatus)
}

// GetStatus returns the system status.
func (h *StatusHandler) GetStatus(ctx context.Context, input *StatusInput) (*StatusOutput, error) {
	snaps := h.manager.Status()

	var counts TunerCounts
	for _, s := range snaps {
		switch s.State {
		case tuner.StateFree.String():
			counts.Free++
		case tuner.StateStreaming.String():
			counts.Streaming++
		case tuner.StateError.String():
			counts.Error++
		}
		counts.Clients += s.Clients
	}

	status := "ok"
	if counts.Free == 0 && counts.Streaming == 0 {
		status = "degraded"
	}

	uptime := time.Since(h.startTime)
	return &StatusOutput{
		Body: StatusResponse{
			Status:        status,
			Version:       h.version,
			Uptime:        uptime.Round(time.Second).String(),
			UptimeSeconds: uptime.Seconds(),
			Tuners:        snaps,
			Counts:        counts,
			Guide:         GuideStatus{Enabled: h.guide != nil && h.guide.Enabled()},
		},
	}, nil
}
