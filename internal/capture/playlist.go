package capture

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/bluenviron/gohlslib/v2/pkg/playlist"
)

// playlistName is the rolling manifest inside each tuner's output dir.
const playlistName = "playlist.m3u8"

// truncatedReadRetry is the pause before re-reading a manifest that failed
// to parse; the segmenter rewrites it concurrently and readers must
// tolerate catching a partial write.
const truncatedReadRetry = 50 * time.Millisecond

// PlaylistPath returns the rolling playlist file path.
func (p *Pipeline) PlaylistPath() string {
	return filepath.Join(p.cfg.OutputDir, playlistName)
}

// SegmentPath validates a segment name and returns its file path. Names
// containing path separators or traversal are rejected.
func (p *Pipeline) SegmentPath(name string) (string, error) {
	if name == "" || name != filepath.Base(name) || strings.HasPrefix(name, ".") {
		return "", fmt.Errorf("invalid segment name %q", name)
	}
	if !strings.HasSuffix(name, ".ts") {
		return "", fmt.Errorf("invalid segment name %q", name)
	}
	path := filepath.Join(p.cfg.OutputDir, name)
	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("segment %q: %w", name, err)
	}
	return path, nil
}

// Playlist returns the rolling manifest with entries filtered to segments
// that exist on disk, so clients never fetch an already-unlinked segment.
func (p *Pipeline) Playlist() ([]byte, error) {
	media, err := p.readManifest()
	if err != nil {
		return nil, err
	}

	kept := media.Segments[:0]
	for _, seg := range media.Segments {
		if _, err := os.Stat(filepath.Join(p.cfg.OutputDir, seg.URI)); err == nil {
			kept = append(kept, seg)
		}
	}
	media.Segments = kept

	out, err := media.Marshal()
	if err != nil {
		return nil, fmt.Errorf("marshaling playlist: %w", err)
	}
	return out, nil
}

// readManifest reads and parses the manifest, retrying once on a read that
// catches the segmenter mid-write.
func (p *Pipeline) readManifest() (*playlist.Media, error) {
	media, err := parseManifestFile(p.PlaylistPath())
	if err == nil {
		return media, nil
	}
	if os.IsNotExist(err) {
		return nil, err
	}
	time.Sleep(truncatedReadRetry)
	return parseManifestFile(p.PlaylistPath())
}

func parseManifestFile(path string) (*playlist.Media, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	pl, err := playlist.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing playlist: %w", err)
	}
	media, ok := pl.(*playlist.Media)
	if !ok {
		return nil, fmt.Errorf("playlist is not a media playlist")
	}
	return media, nil
}

// lastSegmentInfo scans the output dir for the newest segment file.
func (p *Pipeline) lastSegmentInfo() (age time.Duration, count int) {
	entries, err := os.ReadDir(p.cfg.OutputDir)
	if err != nil {
		return 0, 0
	}
	var newest time.Time
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".ts") {
			continue
		}
		count++
		if info, err := e.Info(); err == nil && info.ModTime().After(newest) {
			newest = info.ModTime()
		}
	}
	if newest.IsZero() {
		return 0, count
	}
	return time.Since(newest), count
}

// clearOutputs unlinks the manifest and all segment files so a restarted
// encoder never leaves a stale manifest referencing dead segments.
func (p *Pipeline) clearOutputs() error {
	entries, err := os.ReadDir(p.cfg.OutputDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading output dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		// The placeholder frame is overwritten in place, not unlinked:
		// StartPlaceholder renders it before the encoder starts.
		if name == playlistName || strings.HasSuffix(name, ".ts") {
			if err := os.Remove(filepath.Join(p.cfg.OutputDir, name)); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("removing %s: %w", name, err)
			}
		}
	}
	return nil
}
