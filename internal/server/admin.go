package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/artemis/flowmod/internal/topology"
)

// pauseAllRequest names the operator whose subtasks should pause, the
// same substring match the trigger engine itself performs.
type pauseAllRequest struct {
	OperatorName string `json:"operator_name" binding:"required"`
}

// pauseVertexRequest identifies a single vertex by id.
type pauseVertexRequest struct {
	VertexID string `json:"vertex_id" binding:"required"`
}

// migrateRequest names the task manager being drained.
type migrateRequest struct {
	TaskManagerID string `json:"task_manager_id" binding:"required"`
}

// PauseAll handles a request to pause every subtask of the named
// operator, used by the CLI's `modify pause` subcommand.
func (s *Server) PauseAll(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger engine not wired"})
		return
	}
	var req pauseAllRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	pm, err := s.trigger.PauseAll(c.Request.Context(), req.OperatorName)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, renderPending(pm))
}

// PauseVertex handles a request to pause a single vertex by id, which
// the restart engine then redeploys on a freshly allocated slot. The
// CLI's `modify rescale` subcommand reuses this: this engine has no
// separate parallelism-change operation, so rescaling a vertex means
// pausing it and letting the restart engine's own slot selection pick
// its replacement placement.
func (s *Server) PauseVertex(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger engine not wired"})
		return
	}
	var req pauseVertexRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	vertexID, err := topology.ParseID(req.VertexID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid vertex id"})
		return
	}
	pm, err := s.trigger.PauseVertex(c.Request.Context(), vertexID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, renderPending(pm))
}

// MigrateAllFrom handles a request to evacuate every subtask currently
// hosted on one task manager onto others, used by the CLI's
// `modify migrate` subcommand.
func (s *Server) MigrateAllFrom(c *gin.Context) {
	if s.trigger == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "trigger engine not wired"})
		return
	}
	var req migrateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	tmID, err := topology.ParseID(req.TaskManagerID)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid task manager id"})
		return
	}
	pm, err := s.trigger.MigrateAllFrom(c.Request.Context(), tmID)
	if err != nil {
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, renderPending(pm))
}

// Status reports a coarse operational summary, used by the CLI's
// `status` subcommand.
func (s *Server) Status(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"ready":   s.health.IsReady(),
		"healthy": s.health.IsHealthy(),
		"pending": len(s.registry.ListPending()),
	})
}
