// Package api is the HTTP boundary: a thin gin layer translating requests
// into Orchestrator/Store/TriggerManager calls, grounded on the teacher's
// controllers package (same middleware stack, same JSON envelope
// conventions) but stripped of every account/auth concern per SPEC_FULL
// Part D's non-goal.
package api

import (
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/patali/fluxgraph/internal/engine"
	"github.com/patali/fluxgraph/internal/middleware"
	"github.com/patali/fluxgraph/internal/queue"
	"github.com/patali/fluxgraph/internal/store"
	"github.com/patali/fluxgraph/internal/trigger"
	"github.com/patali/fluxgraph/internal/webhook"
)

// Dependencies are the collaborators the HTTP boundary needs. All are
// already-constructed singletons owned by cmd/server.
type Dependencies struct {
	Store           *store.Store
	Orchestrator    *engine.Orchestrator
	TriggerManager  *trigger.Manager
	WebhookRegistry *webhook.Registry
	QueueClient     *queue.Client
	IDFunc          func() string
}

// Server owns the gin engine and its dependencies.
type Server struct {
	deps Dependencies
}

func NewServer(deps Dependencies) *Server { return &Server{deps: deps} }

// Router builds the gin engine and registers every route.
func (s *Server) Router() *gin.Engine {
	router := gin.New()
	router.Use(gin.Logger())
	router.Use(middleware.Recovery())
	router.Use(middleware.CORS())
	router.Use(middleware.ErrorHandler())

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok", "timestamp": time.Now().UTC().Format(time.RFC3339)})
	})

	api := router.Group("/api")
	{
		s.registerWorkflowRoutes(api)

		api.GET("/executions/:id", s.getExecution)
		api.POST("/executions/:id/cancel", s.cancelExecution)
		api.POST("/interactions/:id/resume", s.resumeInteraction)

		s.registerRecoveryRoutes(api)
	}

	router.POST("/webhooks/:workflowId/*path", s.dispatchWebhook)

	return router
}

type startExecutionRequest struct {
	Input map[string]interface{} `json:"input"`
	Sync  bool                   `json:"sync"`
}

// startExecution creates an execution record and either runs it inline
// (sync=true, useful for request/response style callers) or durably
// enqueues it via River so it survives a process restart.
func (s *Server) startExecution(c *gin.Context) {
	workflowID := c.Param("id")

	var req startExecutionRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	executionID := s.deps.IDFunc()
	if err := s.deps.Store.CreateExecution(c.Request.Context(), executionID, workflowID, "api", "manual", 0, req.Input); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	if req.Sync {
		if err := s.deps.Orchestrator.Execute(c.Request.Context(), workflowID, executionID, "api", req.Input); err != nil {
			c.JSON(http.StatusUnprocessableEntity, gin.H{"execution_id": executionID, "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"execution_id": executionID, "status": "completed"})
		return
	}

	if err := s.deps.QueueClient.Enqueue(c.Request.Context(), workflowID, executionID, "api", "manual", req.Input); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"execution_id": executionID, "status": "queued"})
}

func (s *Server) getExecution(c *gin.Context) {
	id := c.Param("id")
	var exec store.WorkflowExecution
	if err := s.deps.Store.DB.WithContext(c.Request.Context()).First(&exec, "id = ?", id).Error; err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "execution not found"})
		return
	}
	c.JSON(http.StatusOK, exec)
}

func (s *Server) cancelExecution(c *gin.Context) {
	s.deps.Orchestrator.Cancel(c.Param("id"))
	c.JSON(http.StatusAccepted, gin.H{"status": "cancel requested"})
}

type resumeRequest struct {
	Action string                 `json:"action"`
	Form   map[string]interface{} `json:"form"`
}

// resumeInteraction implements §4.10's operator-driven resume: interaction
// id is opaque to this handler, the Orchestrator resolves it back to the
// live execution holding it.
func (s *Server) resumeInteraction(c *gin.Context) {
	var req resumeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	executionID := c.Query("execution_id")
	if executionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "execution_id query parameter is required"})
		return
	}

	if err := s.deps.Orchestrator.Resume(c.Request.Context(), executionID, c.Param("id"), req.Action, req.Form); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resumed"})
}

func (s *Server) activateWorkflow(c *gin.Context) {
	if err := s.deps.TriggerManager.Activate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "activated"})
}

func (s *Server) deactivateWorkflow(c *gin.Context) {
	if err := s.deps.TriggerManager.Deactivate(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "deactivated"})
}

// dispatchWebhook is the HTTP boundary for WebhookTriggerNode (§4.9): the
// signature travels in X-Signature, verified via HMAC-SHA256 over the raw
// body inside webhook.Registry.Dispatch.
func (s *Server) dispatchWebhook(c *gin.Context) {
	workflowID := c.Param("workflowId")
	path := c.Param("path")
	signature := c.GetHeader("X-Signature")

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "failed to read request body"})
		return
	}

	if err := s.deps.WebhookRegistry.Dispatch(c.Request.Context(), workflowID, path, signature, body); err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "triggered"})
}
