package handlers

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/webtuner/webtuner/internal/capture"
	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/manager"
)

// StreamHandler serves continuous transport-stream bytes per channel.
// Streaming is raw Chi rather than Huma: the response stays open until the
// client disconnects and headers must go out before the first byte.
type StreamHandler struct {
	manager  *manager.Manager
	resolver *catalog.Resolver
	logger   *slog.Logger
}

// NewStreamHandler creates a new stream handler.
func NewStreamHandler(m *manager.Manager, r *catalog.Resolver, logger *slog.Logger) *StreamHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StreamHandler{manager: m, resolver: r, logger: logger}
}

// RegisterChiRoutes registers the streaming routes.
func (h *StreamHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/stream/{channelID}", h.GetStream)
}

// GetStream allocates a tuner for the channel and streams until the client
// hangs up.
func (h *StreamHandler) GetStream(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	channelID := chi.URLParam(r, "channelID")

	ch, err := h.resolver.Resolve(ctx, channelID)
	if err != nil {
		writeError(w, err)
		return
	}

	t, err := h.manager.Acquire(ctx, ch)
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "video/mp2t")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	if f, ok := w.(http.Flusher); ok {
		f.Flush()
	}

	sink := capture.NewSink(w, r.RemoteAddr)
	t.AttachSink(sink)
	defer t.DetachSink(sink.ID)

	h.logger.Info("stream client attached",
		slog.String("channel_id", ch.ID),
		slog.Int("tuner", t.ID()),
		slog.String("remote_addr", r.RemoteAddr),
	)

	// Block until the client goes away or the sink is evicted or closed by
	// a capture stop.
	select {
	case <-ctx.Done():
	case <-sink.Done():
	}

	h.logger.Info("stream client detached",
		slog.String("channel_id", ch.ID),
		slog.Int("tuner", t.ID()),
		slog.Uint64("bytes", sink.BytesWritten()),
	)
}
