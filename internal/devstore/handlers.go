package devstore

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/harrison/sentinel/internal/logger"
	"github.com/harrison/sentinel/internal/models"
	"github.com/harrison/sentinel/internal/storeclient"
)

// maxFileSize bounds one session file upload
const maxFileSize = 32 << 20

// Handlers serves the store REST contract over a Store
type Handlers struct {
	store  *Store
	logger logger.Logger
}

// NewHandlers creates handlers for store. log may be nil.
func NewHandlers(store *Store, log logger.Logger) *Handlers {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &Handlers{store: store, logger: log}
}

// NewRouter builds a gin engine with every store route and the admin routes
func NewRouter(store *Store, log logger.Logger) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	h := NewHandlers(store, log)
	RegisterAdminRoutes(r.Group("/admin"), h)
	RegisterRoutes(r.Group("/", h.availability), h)
	return r
}

// RegisterRoutes mounts the store contract on group
func RegisterRoutes(group *gin.RouterGroup, h *Handlers) {
	group.GET(storeclient.PathHealth, h.Health)

	group.POST(storeclient.PathTestResults, h.PostTestResult)
	group.GET(storeclient.PathTestResults, h.ListTestResults)

	group.POST(storeclient.PathMetrics, h.PostMetric)
	group.POST(storeclient.PathMetricsBatch, h.PostMetricsBatch)
	group.POST(storeclient.PathLogs, h.PostLogs)
	group.POST(storeclient.PathAlerts, h.PostAlert)
	group.GET(storeclient.PathQuality, h.QualityAnalysis)

	group.POST(storeclient.PathSessions, h.CreateSession)
	group.PUT(storeclient.PathSessions+"/:id/files/*path", h.PutSessionFile)
	group.GET(storeclient.PathSessions+"/:id/files/*path", h.GetSessionFile)
	group.POST(storeclient.PathSessions+"/:id/merge", h.MergeSession)
	group.DELETE(storeclient.PathSessions+"/:id", h.DeleteSession)

	group.POST(storeclient.PathEpisodes, h.PostEpisode)
	group.POST(storeclient.PathEpisodeSearch, h.SearchEpisodes)

	group.GET("/workflows/:id/executions", h.ListExecutions)
	group.POST("/workflows/:id/executions", h.PostExecution)
}

// RegisterAdminRoutes mounts the availability toggle used to simulate outages
func RegisterAdminRoutes(group *gin.RouterGroup, h *Handlers) {
	group.GET("/availability", h.GetAvailability)
	group.PUT("/availability", h.SetAvailability)
}

func ok(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

func fail(c *gin.Context, status int, msg string) {
	c.AbortWithStatusJSON(status, gin.H{"success": false, "error": msg})
}

func (h *Handlers) availability(c *gin.Context) {
	if !h.store.Available() {
		fail(c, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	c.Next()
}

// Health handles GET /health
func (h *Handlers) Health(c *gin.Context) {
	ok(c, http.StatusOK, gin.H{"status": "ok"})
}

// PostTestResult handles POST /test-results. Documents are kept verbatim so
// chaos results and test results share the collection.
func (h *Handlers) PostTestResult(c *gin.Context) {
	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if !json.Valid(body) || !strings.HasPrefix(strings.TrimSpace(string(body)), "{") {
		fail(c, http.StatusBadRequest, "body must be a JSON object")
		return
	}
	h.store.AddTestResult(body)
	ok(c, http.StatusCreated, nil)
}

// ListTestResults handles GET /test-results?workflow_id=
func (h *Handlers) ListTestResults(c *gin.Context) {
	ok(c, http.StatusOK, h.store.TestResults(c.Query("workflow_id")))
}

// PostMetric handles POST /metrics
func (h *Handlers) PostMetric(c *gin.Context) {
	var point models.MetricPoint
	if err := c.ShouldBindJSON(&point); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if point.Name == "" {
		fail(c, http.StatusBadRequest, "metric name is required")
		return
	}
	h.store.AddMetrics(point)
	ok(c, http.StatusCreated, nil)
}

// PostMetricsBatch handles POST /metrics/batch
func (h *Handlers) PostMetricsBatch(c *gin.Context) {
	var points []models.MetricPoint
	if err := c.ShouldBindJSON(&points); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.store.AddMetrics(points...)
	ok(c, http.StatusCreated, gin.H{"accepted": len(points)})
}

// PostLogs handles POST /logs
func (h *Handlers) PostLogs(c *gin.Context) {
	var records []models.LogRecord
	if err := c.ShouldBindJSON(&records); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.store.AddLogs(records...)
	ok(c, http.StatusCreated, gin.H{"accepted": len(records)})
}

// PostAlert handles POST /alerts
func (h *Handlers) PostAlert(c *gin.Context) {
	var alert models.Alert
	if err := c.ShouldBindJSON(&alert); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, h.store.AddAlert(alert))
}

// QualityAnalysis handles GET /analysis/quality
func (h *Handlers) QualityAnalysis(c *gin.Context) {
	ok(c, http.StatusOK, h.store.QualityAnalysis())
}

// CreateSession handles POST /sessions
func (h *Handlers) CreateSession(c *gin.Context) {
	var req storeclient.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	sess := h.store.CreateSession(req)
	h.logger.LogDebug("devstore: created session " + sess.ID)
	ok(c, http.StatusCreated, sess)
}

func filePath(c *gin.Context) string {
	return strings.TrimPrefix(c.Param("path"), "/")
}

// PutSessionFile handles PUT /sessions/:id/files/*path with a raw body
func (h *Handlers) PutSessionFile(c *gin.Context) {
	path := filePath(c)
	if path == "" {
		fail(c, http.StatusBadRequest, "file path is required")
		return
	}
	content, err := io.ReadAll(io.LimitReader(c.Request.Body, maxFileSize+1))
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if len(content) > maxFileSize {
		fail(c, http.StatusRequestEntityTooLarge, "file too large")
		return
	}
	if !h.store.PutFile(c.Param("id"), path, content) {
		fail(c, http.StatusNotFound, "session not found")
		return
	}
	ok(c, http.StatusOK, gin.H{"path": path, "size": len(content)})
}

// GetSessionFile handles GET /sessions/:id/files/*path, returning the raw content
func (h *Handlers) GetSessionFile(c *gin.Context) {
	content, found := h.store.File(c.Param("id"), filePath(c))
	if !found {
		fail(c, http.StatusNotFound, "file not found")
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", content)
}

// MergeSession handles POST /sessions/:id/merge
func (h *Handlers) MergeSession(c *gin.Context) {
	mr, found := h.store.MergeSession(c.Param("id"))
	if !found {
		fail(c, http.StatusNotFound, "session not found")
		return
	}
	ok(c, http.StatusOK, mr)
}

// DeleteSession handles DELETE /sessions/:id
func (h *Handlers) DeleteSession(c *gin.Context) {
	if !h.store.DeleteSession(c.Param("id")) {
		fail(c, http.StatusNotFound, "session not found")
		return
	}
	ok(c, http.StatusOK, nil)
}

// PostEpisode handles POST /memory/episodes
func (h *Handlers) PostEpisode(c *gin.Context) {
	var ep storeclient.Episode
	if err := c.ShouldBindJSON(&ep); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if ep.Type == "" {
		fail(c, http.StatusBadRequest, "episode type is required")
		return
	}
	ok(c, http.StatusCreated, h.store.AddEpisode(ep))
}

// SearchEpisodes handles POST /memory/search
func (h *Handlers) SearchEpisodes(c *gin.Context) {
	var req storeclient.SearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	eps := h.store.SearchEpisodes(req)
	if eps == nil {
		eps = []storeclient.Episode{}
	}
	ok(c, http.StatusOK, eps)
}

// ListExecutions handles GET /workflows/:id/executions
func (h *Handlers) ListExecutions(c *gin.Context) {
	ok(c, http.StatusOK, h.store.Executions(c.Param("id")))
}

// PostExecution handles POST /workflows/:id/executions, used to seed history
func (h *Handlers) PostExecution(c *gin.Context) {
	var e models.Execution
	if err := c.ShouldBindJSON(&e); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	ok(c, http.StatusCreated, h.store.AddExecution(c.Param("id"), e))
}

type availabilityRequest struct {
	Available bool `json:"available"`
}

// GetAvailability handles GET /admin/availability
func (h *Handlers) GetAvailability(c *gin.Context) {
	ok(c, http.StatusOK, availabilityRequest{Available: h.store.Available()})
}

// SetAvailability handles PUT /admin/availability
func (h *Handlers) SetAvailability(c *gin.Context) {
	var req availabilityRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	h.store.SetAvailable(req.Available)
	h.logger.LogInfo("devstore: availability set to " + boolString(req.Available))
	ok(c, http.StatusOK, req)
}

func boolString(b bool) string {
	if b {
		return "available"
	}
	return "unavailable"
}
