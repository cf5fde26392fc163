package api

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/jimmychuckball/pythonmap/scanner"
)

// Server bundles dependencies for HTTP handlers.
type Server struct {
	store    TaskStore
	defaults scanner.Policy
	logger   *slog.Logger

	limiter    *RateLimiter
	portBudget int64
}

// NewServer creates a new API server instance. Requests that leave a policy
// field unset get the value from defaults.
func NewServer(store TaskStore, defaults scanner.Policy, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{store: store, defaults: defaults, logger: logger}
}

// LimitPorts caps how many ports one client may submit per limiter window.
// Each accepted scan is charged the size of its range.
func (s *Server) LimitPorts(limiter *RateLimiter, budget int64) {
	s.limiter = limiter
	s.portBudget = budget
}

// RegisterRoutes attaches handlers to the provided Gin router group.
func (s *Server) RegisterRoutes(routes gin.IRoutes) {
	routes.POST("/scans", s.createScanHandler)
	routes.GET("/scans/:id", s.getScanHandler)
}

var uuidV4Pattern = regexp.MustCompile(`^[a-fA-F0-9]{8}-[a-fA-F0-9]{4}-4[a-fA-F0-9]{3}-[abAB89][a-fA-F0-9]{3}-[a-fA-F0-9]{12}$`)

// @Summary      Create a new scan task
// @Description  Submit a host and an inclusive port range and let the service scan it asynchronously. The handler validates input, persists the task and enqueues it for background workers before returning a UUID.
// @Description  **Lifecycle**: the response is HTTP 202 Accepted plus the task identifier. Poll GET /scans/{id} to observe pending, running, then completed or failed. Progress is updated at every 5% milestone; open ports are attached on completion.
// @Tags         Scans
// @Accept       json
// @Produce      json
// @Param        scanRequest  body      CreateScanRequest      true  "Scan request parameters"
// @Success      202          {object}  ScanAcceptedResponse  "Scan accepted"
// @Failure      400          {object}  ErrorResponse         "Malformed JSON body, bad port range or invalid policy"
// @Failure      401          {object}  ErrorResponse         "Missing or incorrect API key"
// @Failure      429          {object}  ErrorResponse         "Rate limit or port budget exceeded"
// @Failure      500          {object}  ErrorResponse         "Task could not be persisted or queued"
// @Security     ApiKeyAuth
// @Router       /scans [post]
func (s *Server) createScanHandler(c *gin.Context) {
	var req CreateScanRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: fmt.Sprintf("invalid request payload: %v", err)})
		return
	}

	policy, ports, err := s.requestPolicy(req)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}
	c.Set(ctxPorts, ports)

	ctx := c.Request.Context()
	if !s.chargePorts(c, ports) {
		return
	}

	taskID, err := generateUUID()
	if err != nil {
		s.refundPorts(c, ports)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to generate task id"})
		return
	}
	c.Set(ctxTaskID, taskID)

	task := &ScanTask{
		ID:        taskID,
		Status:    StatusPending,
		Host:      strings.TrimSpace(req.Host),
		Ports:     strings.TrimSpace(req.Ports),
		Policy:    policyFrom(policy),
		CreatedAt: time.Now().UTC(),
	}

	if err := s.store.CreateTask(ctx, task); err != nil {
		s.logger.Error("failed to persist task", "task_id", task.ID, "error", err)
		s.refundPorts(c, ports)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to persist task"})
		return
	}

	if err := s.store.PushToQueue(ctx, task.ID); err != nil {
		s.logger.Error("failed to queue task", "task_id", task.ID, "error", err)
		task.Status = StatusFailed
		task.Error = "failed to queue task"
		now := time.Now().UTC()
		task.CompletedAt = &now
		_ = s.store.UpdateTask(ctx, task)
		s.refundPorts(c, ports)

		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to queue task"})
		return
	}

	c.JSON(http.StatusAccepted, ScanAcceptedResponse{ID: task.ID, Status: task.Status})
}

// chargePorts bills the client for ports and writes a 429 when the budget
// would be exceeded. It reports whether the handler may continue.
func (s *Server) chargePorts(c *gin.Context, ports int64) bool {
	if s.limiter == nil || s.portBudget <= 0 {
		return true
	}
	usage, err := s.limiter.Charge(c.Request.Context(), portBucket, c.ClientIP(), ports)
	if err != nil {
		s.logger.Error("port budget redis error", "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "internal server error"})
		return false
	}
	if usage.Used <= s.portBudget {
		return true
	}

	// A rejected scan costs nothing, otherwise one oversized request would
	// lock the client out for the rest of the window.
	s.refundPorts(c, ports)
	s.logger.Warn("port budget exceeded",
		"client_ip", c.ClientIP(),
		"requested", ports,
		"used", usage.Used-ports,
		"budget", s.portBudget,
	)
	c.Header("Retry-After", usage.RetryAfter())
	c.JSON(http.StatusTooManyRequests, ErrorResponse{Error: "port budget exceeded"})
	return false
}

func (s *Server) refundPorts(c *gin.Context, ports int64) {
	if s.limiter == nil || s.portBudget <= 0 {
		return
	}
	if err := s.limiter.Refund(context.WithoutCancel(c.Request.Context()), portBucket, c.ClientIP(), ports); err != nil {
		s.logger.Warn("failed to refund port budget", "client_ip", c.ClientIP(), "ports", ports, "error", err)
	}
}

// requestPolicy validates the target, merges overrides onto the defaults and
// returns the number of ports the scan covers.
func (s *Server) requestPolicy(req CreateScanRequest) (scanner.Policy, int64, error) {
	if strings.TrimSpace(req.Host) == "" {
		return scanner.Policy{}, 0, scanner.ErrNoHost
	}
	start, end, err := scanner.ParsePortRange(req.Ports)
	if err != nil {
		return scanner.Policy{}, 0, err
	}

	policy := s.defaults
	if req.Retries != nil {
		policy.MaxRetries = *req.Retries
	}
	if req.TimeoutMS != nil {
		policy.ConnectTimeout = time.Duration(*req.TimeoutMS) * time.Millisecond
	}
	if req.Concurrency != nil {
		policy.MaxConcurrency = *req.Concurrency
	}
	if err := policy.Validate(); err != nil {
		return scanner.Policy{}, 0, err
	}
	return policy, int64(end - start + 1), nil
}

// @Summary      Get scan status and results
// @Description  Retrieve a live snapshot of a scan task. Supply the UUID obtained from POST /scans and poll until the status is completed or failed.
// @Description  While the task runs, progress reports completed and total ports. Once completed, results lists every open port sorted by port with its service name and banner.
// @Tags         Scans
// @Produce      json
// @Param        id   path      string         true  "Scan Task ID (UUID v4)"
// @Success      200  {object}  ScanTask       "Current task snapshot"
// @Failure      400  {object}  ErrorResponse  "Malformed task identifier"
// @Failure      401  {object}  ErrorResponse  "Missing or incorrect API key"
// @Failure      404  {object}  ErrorResponse  "Task with the provided ID does not exist"
// @Failure      429  {object}  ErrorResponse  "Rate limit exceeded"
// @Failure      500  {object}  ErrorResponse  "Internal error when loading the task"
// @Security     ApiKeyAuth
// @Router       /scans/{id} [get]
func (s *Server) getScanHandler(c *gin.Context) {
	id := c.Param("id")
	if !uuidV4Pattern.MatchString(id) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Error: "invalid task id format"})
		return
	}
	task, err := s.store.GetTask(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, ErrorResponse{Error: "task not found"})
			return
		}
		s.logger.Error("failed to load task", "task_id", id, "error", err)
		c.JSON(http.StatusInternalServerError, ErrorResponse{Error: "failed to load task"})
		return
	}

	c.JSON(http.StatusOK, task)
}

// healthHandler reports whether the task store is reachable.
func (s *Server) healthHandler(c *gin.Context) {
	if err := s.store.Ping(c.Request.Context()); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func generateUUID() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	// Variant bits; version 4 UUID.
	b[6] = (b[6] & 0x0f) | 0x40
	b[8] = (b[8] & 0x3f) | 0x80
	return fmt.Sprintf("%08x-%04x-%04x-%04x-%012x", b[0:4], b[4:6], b[6:8], b[8:10], b[10:16]), nil
}
