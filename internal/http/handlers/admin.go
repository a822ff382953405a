package handlers

import (
	"context"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/webtuner/webtuner/internal/manager"
)

// GuideRefresher triggers the guide collaborator's EPG refresh.
type GuideRefresher interface {
	Refresh(ctx context.Context) error
}

// AdminHandler handles operator endpoints.
type AdminHandler struct {
	manager *manager.Manager
	guide   GuideRefresher
	logger  *slog.Logger
}

// NewAdminHandler creates a new admin handler.
func NewAdminHandler(m *manager.Manager, guide GuideRefresher, logger *slog.Logger) *AdminHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdminHandler{manager: m, guide: guide, logger: logger}
}

// KillInput is the input for the kill endpoint.
type KillInput struct{}

// KillOutput is the output for the kill endpoint.
type KillOutput struct {
	Body struct {
		Killed int `json:"killed"`
	}
}

// RefreshInput is the input for the EPG refresh endpoint.
type RefreshInput struct{}

// RefreshOutput is the output for the EPG refresh endpoint.
type RefreshOutput struct {
	Body struct {
		Refreshed bool `json:"refreshed"`
	}
}

// Register registers the admin routes with the API.
func (h *AdminHandler) Register(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "killAllCaptures",
		Method:      "POST",
		Path:        "/api/ffmpeg/kill",
		Summary:     "Kill all captures",
		Description: "Force-stops every running capture pipeline. Tuners return to free; the next stream request retunes.",
		Tags:        []string{"Admin"},
	}, h.KillAll)

	huma.Register(api, huma.Operation{
		OperationID: "refreshEPG",
		Method:      "POST",
		Path:        "/tve/directv/epg/refresh",
		Summary:     "Refresh guide data",
		Description: "Forwards a refresh request to the guide collaborator and re-imports its lineup.",
		Tags:        []string{"Admin"},
	}, h.RefreshEPG)
}

// KillAll force-stops every capture.
func (h *AdminHandler) KillAll(ctx context.Context, input *KillInput) (*KillOutput, error) {
	out := &KillOutput{}
	out.Body.Killed = h.manager.KillAllCaptures()
	return out, nil
}

// RefreshEPG forwards the refresh to the guide collaborator.
func (h *AdminHandler) RefreshEPG(ctx context.Context, input *RefreshInput) (*RefreshOutput, error) {
	if h.guide == nil {
		return nil, huma.Error502BadGateway("guide collaborator not configured")
	}
	if err := h.guide.Refresh(ctx); err != nil {
		h.logger.Warn("guide refresh failed", slog.String("error", err.Error()))
		return nil, huma.Error502BadGateway("guide refresh failed")
	}
	out := &RefreshOutput{}
	out.Body.Refreshed = true
	return out, nil
}
