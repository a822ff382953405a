package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/webtuner/webtuner/internal/catalog"
)

// PlaylistHandler renders the IPTV playlist clients load to discover
// channels.
type PlaylistHandler struct {
	resolver *catalog.Resolver
}

// NewPlaylistHandler creates a new playlist handler.
func NewPlaylistHandler(r *catalog.Resolver) *PlaylistHandler {
	return &PlaylistHandler{resolver: r}
}

// RegisterChiRoutes registers the playlist route.
func (h *PlaylistHandler) RegisterChiRoutes(r chi.Router) {
	r.Get("/playlist.m3u", h.GetPlaylist)
}

// GetPlaylist renders an extended M3U with one /stream/ URL per channel.
func (h *PlaylistHandler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	chans, err := h.resolver.List(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	base := requestBaseURL(r)
	var b strings.Builder
	b.WriteString("#EXTM3U\n")
	for _, ch := range chans {
		fmt.Fprintf(&b, "#EXTINF:-1 tvg-id=%q tvg-chno=%q,%s\n", ch.ID, ch.Number, ch.DisplayName)
		fmt.Fprintf(&b, "%s/stream/%s\n", base, ch.ID)
	}

	w.Header().Set("Content-Type", "audio/x-mpegurl")
	_, _ = w.Write([]byte(b.String()))
}

// requestBaseURL reconstructs the externally visible base URL from the
// request, honoring proxy forwarding headers.
func requestBaseURL(r *http.Request) string {
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if fwd := r.Header.Get("X-Forwarded-Proto"); fwd != "" {
		scheme = fwd
	}
	host := r.Host
	if fwd := r.Header.Get("X-Forwarded-Host"); fwd != "" {
		host = fwd
	}
	return scheme + "://" + host
}
