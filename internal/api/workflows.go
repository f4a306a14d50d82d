package api

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/patali/fluxgraph/internal/store"
)

func (s *Server) registerWorkflowRoutes(rg *gin.RouterGroup) {
	workflows := rg.Group("/workflows")
	workflows.GET("", s.listWorkflows)
	workflows.POST("", s.createWorkflow)
	workflows.GET("/:id", s.getWorkflow)
	workflows.PUT("/:id", s.updateWorkflow)
	workflows.DELETE("/:id", s.deleteWorkflow)
	workflows.GET("/:id/executions", s.listWorkflowExecutions)
	workflows.POST("/:id/executions", s.startExecution)
	workflows.POST("/:id/activate", s.activateWorkflow)
	workflows.POST("/:id/deactivate", s.deactivateWorkflow)
}

func (s *Server) listWorkflows(c *gin.Context) {
	workflows, err := s.deps.Store.ListWorkflows(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": workflows})
}

func (s *Server) createWorkflow(c *gin.Context) {
	var req store.CreateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workflow, err := s.deps.Store.CreateWorkflow(c.Request.Context(), req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, workflow)
}

func (s *Server) getWorkflow(c *gin.Context) {
	workflow, err := s.deps.Store.GetWorkflow(c.Request.Context(), c.Param("id"))
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, workflow)
}

type updateWorkflowRequest struct {
	Definition map[string]interface{} `json:"definition"`
	ChangeLog  string                 `json:"changeLog"`
}

func (s *Server) updateWorkflow(c *gin.Context) {
	var req updateWorkflowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	workflow, err := s.deps.Store.UpdateDefinition(c.Request.Context(), c.Param("id"), req.Definition, req.ChangeLog)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, workflow)
}

func (s *Server) deleteWorkflow(c *gin.Context) {
	if err := s.deps.Store.DeleteWorkflow(c.Request.Context(), c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusNoContent, nil)
}

func (s *Server) listWorkflowExecutions(c *gin.Context) {
	executions, err := s.deps.Store.ListExecutions(c.Request.Context(), c.Param("id"), 100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}
