package api

import (
	"net/http"

	"github.com/gin-gonic/gin"
)

// Recovery endpoints give an operator visibility into stuck executions
// and stuck async side effects, grounded on the teacher's
// RecoveryController — trimmed of the account-scoped listing since
// accounts are out of scope here (SPEC_FULL Part D).

func (s *Server) registerRecoveryRoutes(rg *gin.RouterGroup) {
	recovery := rg.Group("/recovery")
	recovery.GET("/failed-executions", s.listFailedExecutions)
	recovery.GET("/dead-letter", s.listDeadLetterMessages)
	recovery.POST("/dead-letter/:messageId/retry", s.retryDeadLetterMessage)
}

func (s *Server) listFailedExecutions(c *gin.Context) {
	executions, err := s.deps.Store.FailedExecutions(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"executions": executions})
}

func (s *Server) listDeadLetterMessages(c *gin.Context) {
	messages, err := s.deps.Store.DeadLetterMessages(100)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": messages})
}

func (s *Server) retryDeadLetterMessage(c *gin.Context) {
	if err := s.deps.Store.RetryDeadLetterMessage(c.Param("messageId")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "requeued"})
}
