package api

import (
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/cdduran/percepsim/internal/slogging"
)

// Error is the JSON error envelope returned by REST endpoints.
type Error struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 500
)

// RecommendationRequest is the POST /recommendations body. Perception is
// optional; when omitted it is computed from the four actions. Actions are
// pointers so a legitimate value of zero survives required-field validation.
type RecommendationRequest struct {
	Action1    *float64 `json:"action1" binding:"required"`
	Action2    *float64 `json:"action2" binding:"required"`
	Action3    *float64 `json:"action3" binding:"required"`
	Action4    *float64 `json:"action4" binding:"required"`
	Perception *float64 `json:"perception"`
	UserID     *string  `json:"userId"`
}

func (r *RecommendationRequest) complete() bool {
	return r.Action1 != nil && r.Action2 != nil && r.Action3 != nil && r.Action4 != nil
}

// HistoryResponse wraps a page of recommendations with pagination info.
type HistoryResponse struct {
	Recommendations []Recommendation `json:"recommendations"`
	Pagination      Pagination       `json:"pagination"`
}

// Pagination describes the page window of a history response.
type Pagination struct {
	Page       int   `json:"page"`
	Limit      int   `json:"limit"`
	TotalCount int64 `json:"totalCount"`
	TotalPages int   `json:"totalPages"`
}

// CreateRecommendation handles POST /recommendations.
func (s *Server) CreateRecommendation(c *gin.Context) {
	logger := slogging.Get()

	var req RecommendationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		logger.Warn("Invalid recommendation request: %v", slogging.SanitizeLogMessage(err.Error()))
		c.JSON(http.StatusBadRequest, Error{
			Error:   "invalid_request",
			Message: "Request body must include numeric action1 through action4",
		})
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
	}

	if err := s.store.Create(c.Request.Context(), &rec); err != nil {
		logger.Error("Failed to store recommendation: %v", err)
		c.JSON(http.StatusInternalServerError, Error{
			Error:   "storage_error",
			Message: "Failed to store recommendation",
		})
		return
	}

	s.afterRecommendationStored(rec)

	c.JSON(http.StatusCreated, gin.H{
		"id":         rec.ID,
		"perception": rec.Perception,
		"timestamp":  rec.Timestamp,
	})
}

// GetHistory handles GET /history with page/limit query parameters.
func (s *Server) GetHistory(c *gin.Context) {
	logger := slogging.Get()

	page, err := strconv.Atoi(c.DefaultQuery("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		limit = defaultHistoryLimit
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	total, err := s.store.Count(c.Request.Context())
	if err != nil {
		logger.Error("Failed to count recommendations: %v", err)
		c.JSON(http.StatusInternalServerError, Error{
			Error:   "storage_error",
			Message: "Failed to load recommendation history",
		})
		return
	}

	recs, err := s.store.List(c.Request.Context(), (page-1)*limit, limit)
	if err != nil {
		logger.Error("Failed to list recommendations: %v", err)
		c.JSON(http.StatusInternalServerError, Error{
			Error:   "storage_error",
			Message: "Failed to load recommendation history",
		})
		return
	}
	if recs == nil {
		recs = []Recommendation{}
	}

	totalPages := 0
	if total > 0 {
		totalPages = int(math.Ceil(float64(total) / float64(limit)))
	}

	c.JSON(http.StatusOK, HistoryResponse{
		Recommendations: recs,
		Pagination: Pagination{
			Page:       page,
			Limit:      limit,
			TotalCount: total,
			TotalPages: totalPages,
		},
	})
}

// GetStats handles GET /api/stats with persisted aggregates and live counts.
func (s *Server) GetStats(c *gin.Context) {
	logger := slogging.Get()

	stats, err := s.store.Stats(c.Request.Context())
	if err != nil {
		logger.Error("Failed to compute recommendation stats: %v", err)
		c.JSON(http.StatusInternalServerError, Error{
			Error:   "storage_error",
			Message: "Failed to compute statistics",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"recommendations": stats,
		"users": gin.H{
			"current": s.registry.Count(),
			"today":   s.stats.Today(),
			"total":   s.stats.TotalUnique(),
		},
	})
}

// GetHealth handles GET /api/health.
func (s *Server) GetHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"uptime":    time.Since(s.startedAt).Round(time.Second).String(),
		"users":     s.registry.Count(),
		"timestamp": time.Now().UTC(),
	})
}
