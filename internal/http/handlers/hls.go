package handlers

import (
	"net/http"
	"os"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/webtuner/webtuner/internal/manager"
)

const mpegurlContentType = "application/vnd.apple.mpegurl"

// HLSHandler serves each tuner's rolling playlist and segment files.
type HLSHandler struct {
	manager *manager.Manager
}

// NewHLSHandler creates a new HLS handler.
func NewHLSHandler(m *manager.Manager) *HLSHandler {
	return &HLSHandler{manager: m}
}

// RegisterChiRoutes registers the HLS routes.
func (h *HLSHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/hls/{tunerID}/playlist.m3u8", h.GetPlaylist)
	r.Get("/hls/{tunerID}/{segment}", h.GetSegment)
}

func (h *HLSHandler) lookupTuner(w http.ResponseWriter, r *http.Request) (manager.Tuner, bool) {
	id, err := strconv.Atoi(chi.URLParam(r, "tunerID"))
	if err != nil {
		http.Error(w, "invalid tuner id", http.StatusNotFound)
		return nil, false
	}
	t, ok := h.manager.Lookup(id)
	if !ok {
		http.Error(w, "tuner not found", http.StatusNotFound)
		return nil, false
	}
	return t, true
}

// GetPlaylist serves the tuner's rolling manifest, filtered so it never
// references a segment that has already been unlinked.
func (h *HLSHandler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupTuner(w, r)
	if !ok {
		return
	}
	// HLS viewers hold no sink; playlist polls are their activity signal.
	t.Touch()

	data, err := t.Capture().Playlist()
	if err != nil {
		if os.IsNotExist(err) {
			http.Error(w, "no active stream", http.StatusNotFound)
			return
		}
		http.Error(w, "playlist unavailable", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", mpegurlContentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(data)
}

// GetSegment serves one named segment file. Names with traversal are
// rejected before touching the filesystem.
func (h *HLSHandler) GetSegment(w http.ResponseWriter, r *http.Request) {
	t, ok := h.lookupTuner(w, r)
	if !ok {
		return
	}
	t.Touch()

	path, err := t.Capture().SegmentPath(chi.URLParam(r, "segment"))
	if err != nil {
		http.Error(w, "segment not found", http.StatusNotFound)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, path)
}
