package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"coinwatch/internal/market"
	"coinwatch/internal/storage"
	"coinwatch/internal/version"
)

const defaultAlertLimit = 50

// Store is the read-only query surface the status API exposes.
type Store interface {
	ListWatchSummaries(ctx context.Context) ([]storage.WatchSummary, error)
	ListActiveHotWatches(ctx context.Context) ([]market.HotWatchEntry, error)
	ListRecentOutbox(ctx context.Context, limit int) ([]storage.OutboxRecord, error)
}

// Server serves the read-only status API: watch listings, active hot
// watches, recent alert deliveries, health, and Prometheus metrics.
type Server struct {
	store  Store
	logger zerolog.Logger
	engine *gin.Engine
}

// New builds the API server and wires its routes.
func New(store Store, logger zerolog.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)

	s := &Server{
		store:  store,
		logger: logger.With().Str("component", "httpapi").Logger(),
	}

	r := gin.New()
	r.Use(gin.Recovery())

	r.GET("/health", s.health)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	api := r.Group("/api/v1")
	{
		api.GET("/watches", s.listWatches)
		api.GET("/hotwatches", s.listHotWatches)
		api.GET("/alerts", s.listAlerts)
	}

	s.engine = r
	return s
}

// Handler exposes the router for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until the context is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, listen string) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           s.engine,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info().Str("listen", listen).Msg("status api listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return <-errCh
	case err := <-errCh:
		return err
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"service": version.Name,
		"version": version.Version,
	})
}

type watchView struct {
	EntityID    string  `json:"entity_id"`
	Label       string  `json:"label,omitempty"`
	Retrace     bool    `json:"retrace"`
	Stall       bool    `json:"stall"`
	Breakout    bool    `json:"breakout"`
	Milestones  bool    `json:"milestones"`
	LastPrice   *string `json:"last_price,omitempty"`
	LastCap     *string `json:"last_market_cap,omitempty"`
	SampleCount int64   `json:"sample_count"`
	UpdatedAt   *string `json:"updated_at,omitempty"`
}

func (s *Server) listWatches(c *gin.Context) {
	summaries, err := s.store.ListWatchSummaries(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]watchView, 0, len(summaries))
	for _, sum := range summaries {
		views = append(views, watchView{
			EntityID:    sum.Config.EntityID,
			Label:       sum.Config.Label,
			Retrace:     sum.Config.RetraceOn,
			Stall:       sum.Config.StallOn,
			Breakout:    sum.Config.BreakoutOn,
			Milestones:  sum.Config.MilestonesOn,
			LastPrice:   decimalString(sum.LastPrice),
			LastCap:     decimalString(sum.LastCap),
			SampleCount: sum.SampleCount,
			UpdatedAt:   timeString(sum.UpdatedAt),
		})
	}
	c.JSON(http.StatusOK, gin.H{"watches": views})
}

type hotTriggerView struct {
	Kind    string `json:"kind"`
	Target  string `json:"target"`
	Fired   bool   `json:"fired"`
	FiredAt string `json:"fired_at,omitempty"`
}

type hotWatchView struct {
	ID            string           `json:"id"`
	EntityID      string           `json:"entity_id"`
	Label         string           `json:"label,omitempty"`
	AnchorPrice   string           `json:"anchor_price"`
	AnchorCap     *string          `json:"anchor_market_cap,omitempty"`
	FailsafeFired bool             `json:"failsafe_fired"`
	CreatedAt     string           `json:"created_at"`
	Triggers      []hotTriggerView `json:"triggers"`
}

func (s *Server) listHotWatches(c *gin.Context) {
	entries, err := s.store.ListActiveHotWatches(c.Request.Context())
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]hotWatchView, 0, len(entries))
	for _, entry := range entries {
		view := hotWatchView{
			ID:            entry.ID,
			EntityID:      entry.EntityID,
			Label:         entry.Label,
			AnchorPrice:   entry.AnchorPrice.String(),
			AnchorCap:     decimalString(entry.AnchorMarketCap),
			FailsafeFired: entry.FailsafeFired,
			CreatedAt:     entry.CreatedAt.UTC().Format(time.RFC3339),
		}
		for _, trig := range entry.Triggers {
			tv := hotTriggerView{
				Kind:   string(trig.Kind),
				Target: trig.Target.String(),
				Fired:  trig.Fired,
			}
			if !trig.FiredAt.IsZero() {
				tv.FiredAt = trig.FiredAt.UTC().Format(time.RFC3339)
			}
			view.Triggers = append(view.Triggers, tv)
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"hotwatches": views})
}

type alertView struct {
	Fingerprint string `json:"fingerprint"`
	EntityID    string `json:"entity_id"`
	Kind        string `json:"kind"`
	Channel     string `json:"channel"`
	SentOK      bool   `json:"sent_ok"`
	SentAt      string `json:"sent_at,omitempty"`
	Attempts    int    `json:"attempts"`
	LastError   string `json:"last_error,omitempty"`
}

func (s *Server) listAlerts(c *gin.Context) {
	limit := defaultAlertLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	records, err := s.store.ListRecentOutbox(c.Request.Context(), limit)
	if err != nil {
		s.fail(c, err)
		return
	}

	views := make([]alertView, 0, len(records))
	for _, rec := range records {
		view := alertView{
			Fingerprint: rec.Fingerprint,
			EntityID:    rec.EntityID,
			Kind:        string(rec.Kind),
			Channel:     rec.Channel,
			SentOK:      rec.SentOK,
			Attempts:    rec.Attempts,
		}
		if !rec.SentAt.IsZero() {
			view.SentAt = rec.SentAt.UTC().Format(time.RFC3339)
		}
		if rec.LastError != nil {
			view.LastError = *rec.LastError
		}
		views = append(views, view)
	}
	c.JSON(http.StatusOK, gin.H{"alerts": views})
}

func (s *Server) fail(c *gin.Context, err error) {
	s.logger.Error().Err(err).Str("path", c.Request.URL.Path).Msg("status api query failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}

func decimalString(d *decimal.Decimal) *string {
	if d == nil {
		return nil
	}
	s := d.String()
	return &s
}

func timeString(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
