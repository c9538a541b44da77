package api

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cdduran/percepsim/internal/config"
	"github.com/cdduran/percepsim/internal/slogging"
)

// Server owns the live-session machinery and the REST surface. It is the
// composition root for the registry, router, hub, reconciler, store and
// cache.
type Server struct {
	cfg       *config.Config
	registry  *SessionRegistry
	activity  *ActivityLog
	stats     *StatsTracker
	router    *BroadcastRouter
	hub       *Hub
	reconcile *Reconciler
	store     RecommendationStore
	cache     *RecommendationCache
	startedAt time.Time
}

// NewServer assembles a server from its persistence dependencies and the
// loaded configuration.
func NewServer(cfg *config.Config, store RecommendationStore, cache *RecommendationCache) *Server {
	registry := NewSessionRegistry()
	activity := NewActivityLog(cfg.Activity.HistorySize)
	stats := NewStatsTracker()

	router := NewBroadcastRouter(registry, activity, stats, RouterConfig{
		SliderAdmitInterval:       cfg.Live.SliderAdmitInterval,
		ActivityBroadcastInterval: cfg.Live.ActivityBroadcastInterval,
		StateBroadcastInterval:    cfg.Live.StateBroadcastInterval,
	})
	hub := NewHub(registry, router)

	s := &Server{
		cfg:       cfg,
		registry:  registry,
		activity:  activity,
		stats:     stats,
		router:    router,
		hub:       hub,
		store:     store,
		cache:     cache,
		startedAt: time.Now().UTC(),
	}

	s.reconcile = NewReconciler(registry, router, hub, hub)
	s.reconcile.Interval = cfg.Live.ReconcileInterval
	s.reconcile.RefreshInterval = cfg.Live.PresenceRefreshInterval
	s.reconcile.StaleAfter = cfg.Live.StaleAfter

	hub.OnConnect = s.seedClient
	hub.OnRecommendation = s.handleLiveRecommendation

	return s
}

// RegisterHandlers mounts the WebSocket, REST and operational routes.
func (s *Server) RegisterHandlers(r *gin.Engine) {
	r.GET("/ws", s.hub.HandleWS)

	r.POST("/recommendations", s.CreateRecommendation)
	r.GET("/history", s.GetHistory)
	r.GET("/api/stats", s.GetStats)
	r.GET("/api/health", s.GetHealth)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if s.cfg.Server.StaticDir != "" {
		r.Static("/static", s.cfg.Server.StaticDir)
		r.StaticFile("/", s.cfg.Server.StaticDir+"/index.html")
	}
}

// Run starts the reconciliation loop. It returns when ctx is cancelled.
func (s *Server) Run(ctx context.Context) {
	s.reconcile.Run(ctx)
}

// Hub exposes the transport hub, mainly for shutdown sequencing.
func (s *Server) Hub() *Hub {
	return s.hub
}

// seedClient pushes the latest recommendations to a freshly connected
// session. Cache first, then the store; any failure is logged and the
// connection proceeds unseeded.
func (s *Server) seedClient(sessionID string) {
	logger := slogging.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	recs, err := s.cache.Latest(ctx)
	if err != nil || recs == nil {
		recs, err = s.store.Latest(ctx, s.cfg.Live.SeedRecommendations)
		if err != nil {
			logger.Warn("Failed to load seed recommendations for session %s: %v", sessionID, err)
			return
		}
		if cacheErr := s.cache.CacheLatest(ctx, recs); cacheErr != nil {
			logger.Debug("Failed to refill recommendation cache: %v", cacheErr)
		}
	}
	if len(recs) == 0 {
		return
	}

	s.hub.SendTo(sessionID, Envelope{Event: EventInitialRecommendations, Data: recs})
}

// handleLiveRecommendation persists a recommendation submitted over the
// socket and fans the result out. Storage failure turns into a soft
// notice to the submitter, never a disconnect.
func (s *Server) handleLiveRecommendation(sessionID string, payload json.RawMessage) {
	logger := slogging.Get()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var req RecommendationRequest
	if err := json.Unmarshal(payload, &req); err != nil || !req.complete() {
		logger.Warn("Malformed recommendation from session %s: %v", sessionID, err)
		s.hub.SendTo(sessionID, Envelope{Event: EventSubmitFailed, Data: SubmitFailedData{
			Message: "Recommendation payload was malformed",
		}})
		return
	}

	perception := Perception(*req.Action1, *req.Action2, *req.Action3, *req.Action4)
	if req.Perception != nil {
		perception = *req.Perception
	}

	rec := Recommendation{
		Action1:    *req.Action1,
		Action2:    *req.Action2,
		Action3:    *req.Action3,
		Action4:    *req.Action4,
		Perception: perception,
		Timestamp:  time.Now().UTC(),
	}
	if req.UserID != nil {
		if parsed, err := parseUserID(*req.UserID); err == nil {
			rec.UserID = parsed
		}
	} else if sess := s.registry.Get(sessionID); sess != nil {
		if parsed, err := parseUserID(sess.UserID); err == nil {
			rec.UserID = parsed
		}
	}

	if err := s.store.Create(ctx, &rec); err != nil {
		logger.Error("Failed to persist recommendation from session %s: %v", sessionID, err)
		s.hub.SendTo(sessionID, Envelope{Event: EventSubmitFailed, Data: SubmitFailedData{
			Message: "Recommendation could not be saved",
		}})
		return
	}

	s.afterRecommendationStored(rec)
}

// afterRecommendationStored invalidates the seed cache and broadcasts the
// accepted recommendation to every live session.
func (s *Server) afterRecommendationStored(rec Recommendation) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.cache.Invalidate(ctx); err != nil {
		slogging.Get().Debug("Cache invalidation after store failed: %v", err)
	}

	s.hub.BroadcastAll(Envelope{Event: EventNewRecommendation, Data: rec})
	s.hub.BroadcastAll(Envelope{Event: EventStateUpdate, Data: StateUpdateData{
		Type:      "recommendation",
		Data:      rec,
		Timestamp: rec.Timestamp,
	}})
}

// Shutdown notifies connected clients and closes their sockets.
func (s *Server) Shutdown(message string) {
	s.hub.Shutdown(message)
}

func parseUserID(raw string) (*uuid.UUID, error) {
	parsed, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid user id: %w", err)
	}
	return &parsed, nil
}
