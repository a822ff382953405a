package handlers

import (
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"

	"github.com/go-chi/chi/v5"
	"gopkg.in/yaml.v3"
)

const maxSettingsBody = 1 << 20

// SettingsHandler loads and persists the configuration snapshot. The
// snapshot is an opaque YAML document owned by an external collaborator;
// this core only validates that it parses.
type SettingsHandler struct {
	path   string
	logger *slog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(path string, logger *slog.Logger) *SettingsHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &SettingsHandler{path: path, logger: logger}
}

// RegisterChiRoutes registers the settings routes.
func (h *SettingsHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/api/settings", h.GetSettings)
	r.Post("/api/settings", h.UpdateSettings)
}

// GetSettings returns the persisted snapshot. A missing snapshot reads as
// an empty document.
func (h *SettingsHandler) GetSettings(w http.ResponseWriter, r *http.Request) {
	data, err := os.ReadFile(h.path)
	if err != nil {
		if !os.IsNotExist(err) {
			http.Error(w, "settings unavailable", http.StatusInternalServerError)
			return
		}
		data = []byte("{}\n")
	}
	w.Header().Set("Content-Type", "application/yaml")
	_, _ = w.Write(data)
}

// UpdateSettings validates and persists a new snapshot. The write is
// atomic so a crash never leaves a half-written file.
func (h *SettingsHandler) UpdateSettings(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxSettingsBody))
	if err != nil {
		http.Error(w, "reading request", http.StatusBadRequest)
		return
	}

	var doc map[string]any
	if err := yaml.Unmarshal(body, &doc); err != nil {
		http.Error(w, "invalid yaml", http.StatusBadRequest)
		return
	}

	if err := os.MkdirAll(filepath.Dir(h.path), 0o755); err != nil {
		http.Error(w, "persisting settings", http.StatusInternalServerError)
		return
	}
	tmp := h.path + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		http.Error(w, "persisting settings", http.StatusInternalServerError)
		return
	}
	if err := os.Rename(tmp, h.path); err != nil {
		http.Error(w, "persisting settings", http.StatusInternalServerError)
		return
	}

	h.logger.Info("settings snapshot updated", slog.Int("bytes", len(body)))
	w.WriteHeader(http.StatusNoContent)
}
