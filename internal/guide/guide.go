// Package guide integrates the external guide collaborator: triggering its
// EPG refresh and importing its channel lineup into the catalog.
package guide

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/webtuner/webtuner/internal/catalog"
	"github.com/webtuner/webtuner/internal/observability"
)

const (
	requestTimeout = 30 * time.Second
	retryAttempts  = 3
	retryDelay     = 500 * time.Millisecond

	maxLineupBody = 4 << 20
)

// lineupEntry is one channel in the collaborator's lineup document.
type lineupEntry struct {
	GuideNumber string `json:"GuideNumber"`
	GuideName   string `json:"GuideName"`
}

// Service talks to the guide collaborator over HTTP.
type Service struct {
	endpoint string
	store    *catalog.Store
	client   *http.Client
	log      *slog.Logger

	cron *cron.Cron
}

// NewService creates a guide service. An empty endpoint disables it; every
// operation then reports ErrDisabled.
func NewService(endpoint string, store *catalog.Store, log *slog.Logger) *Service {
	if log == nil {
		log = slog.Default()
	}
	return &Service{
		endpoint: strings.TrimRight(endpoint, "/"),
		store:    store,
		client:   &http.Client{Timeout: requestTimeout},
		log:      observability.WithComponent(log, "guide"),
	}
}

// ErrDisabled is returned when no collaborator endpoint is configured.
var ErrDisabled = fmt.Errorf("guide collaborator not configured")

// Enabled reports whether a collaborator endpoint is configured.
func (s *Service) Enabled() bool { return s.endpoint != "" }

// Refresh triggers the collaborator's EPG refresh and re-imports its
// lineup.
func (s *Service) Refresh(ctx context.Context) error {
	if !s.Enabled() {
		return ErrDisabled
	}
	if err := s.post(ctx, s.endpoint+"/refresh"); err != nil {
		return fmt.Errorf("triggering refresh: %w", err)
	}
	return s.ImportLineup(ctx)
}

// ImportLineup fetches the collaborator's lineup and replaces the
// guide-sourced channels in the catalog.
func (s *Service) ImportLineup(ctx context.Context) error {
	if !s.Enabled() {
		return ErrDisabled
	}

	body, err := s.get(ctx, s.endpoint+"/lineup.json")
	if err != nil {
		return fmt.Errorf("fetching lineup: %w", err)
	}

	var entries []lineupEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return fmt.Errorf("parsing lineup: %w", err)
	}

	chans := make([]catalog.Channel, 0, len(entries))
	for _, e := range entries {
		number := strings.TrimSpace(e.GuideNumber)
		name := strings.TrimSpace(e.GuideName)
		if number == "" || name == "" {
			continue
		}
		chans = append(chans, catalog.Channel{
			ID:          "local-" + number,
			Number:      number,
			DisplayName: name,
			Source:      catalog.SourceGuide,
		})
	}

	if err := s.store.UpsertGuideChannels(ctx, chans); err != nil {
		return fmt.Errorf("storing lineup: %w", err)
	}
	s.log.Info("lineup imported", slog.Int("channels", len(chans)))
	return nil
}

// StartSchedule arms the periodic refresh. An empty schedule disables it.
func (s *Service) StartSchedule(schedule string) error {
	if schedule == "" || !s.Enabled() {
		return nil
	}
	s.cron = cron.New()
	_, err := s.cron.AddFunc(schedule, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*requestTimeout)
		defer cancel()
		if err := s.Refresh(ctx); err != nil {
			s.log.Warn("scheduled refresh failed", slog.String("error", err.Error()))
		}
	})
	if err != nil {
		return fmt.Errorf("scheduling guide refresh: %w", err)
	}
	s.cron.Start()
	s.log.Info("guide refresh scheduled", slog.String("schedule", schedule))
	return nil
}

// StopSchedule stops the periodic refresh.
func (s *Service) StopSchedule() {
	if s.cron != nil {
		s.cron.Stop()
	}
}

func (s *Service) post(ctx context.Context, url string) error {
	_, err := s.do(ctx, http.MethodPost, url)
	return err
}

func (s *Service) get(ctx context.Context, url string) ([]byte, error) {
	return s.do(ctx, http.MethodGet, url)
}

// do issues the request with bounded retries on transport errors and 5xx.
func (s *Service) do(ctx context.Context, method, url string) ([]byte, error) {
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(retryDelay):
			}
		}

		req, err := http.NewRequestWithContext(ctx, method, url, nil)
		if err != nil {
			return nil, err
		}
		resp, err := s.client.Do(req)
		if err != nil {
			lastErr = err
			continue
		}
		body, err := io.ReadAll(io.LimitReader(resp.Body, maxLineupBody))
		resp.Body.Close()
		if err != nil {
			lastErr = err
			continue
		}
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
			continue
		}
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("%s %s: status %d", method, url, resp.StatusCode)
		}
		return body, nil
	}
	return nil, lastErr
}
