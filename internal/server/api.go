package server

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/artemis/flowmod/internal/coordinator"
	"github.com/artemis/flowmod/internal/topology"
)

// ListModifications returns every pending modification, for the
// dashboard's live view.
func (s *Server) ListModifications(c *gin.Context) {
	pending := s.registry.ListPending()
	out := make([]gin.H, 0, len(pending))
	for _, pm := range pending {
		out = append(out, renderPending(pm))
	}
	c.JSON(http.StatusOK, gin.H{"modifications": out})
}

// GetModification looks up one modification by id, checking pending,
// completed, and failed in that order.
func (s *Server) GetModification(c *gin.Context) {
	raw := c.Param("id")
	n, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid modification id"})
		return
	}
	modID := topology.ModificationID(n)

	if pm, ok := s.registry.Pending(modID); ok {
		c.JSON(http.StatusOK, renderPending(pm))
		return
	}
	if cm, ok := s.registry.Completed(modID); ok {
		c.JSON(http.StatusOK, renderCompleted(cm))
		return
	}
	if pm, ok := s.registry.Failed(modID); ok {
		c.JSON(http.StatusOK, renderPending(pm))
		return
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "modification not found"})
}

func renderPending(pm *coordinator.PendingModification) gin.H {
	return gin.H{
		"mod_id":       pm.ModID,
		"job_id":       pm.JobID,
		"description":  pm.Description,
		"action":       pm.Action,
		"state":        pm.TerminalState().String(),
		"created_at":   pm.CreatedAt,
		"acknowledged": pm.AcknowledgedCount(),
		"expected":     pm.PendingCount(),
	}
}

func renderCompleted(cm *coordinator.CompletedModification) gin.H {
	return gin.H{
		"mod_id":       cm.ModID,
		"job_id":       cm.JobID,
		"description":  cm.Description,
		"action":       cm.Action,
		"state":        "COMPLETED",
		"created_at":   cm.CreatedAt,
		"completed_at": cm.CompletedAt,
		"duration":     cm.Duration.String(),
	}
}

// ListVertices returns the execution graph's job vertices in creation
// order, each with its subtasks' current state.
func (s *Server) ListVertices(c *gin.Context) {
	vertices := s.graph.VerticesInCreationOrder()
	out := make([]gin.H, 0, len(vertices))
	for _, jv := range vertices {
		subtasks := make([]gin.H, 0, len(jv.Subtasks))
		for _, sub := range jv.Subtasks {
			subtasks = append(subtasks, gin.H{
				"subtask_index":  sub.SubtaskIndex,
				"attempt_id":     sub.AttemptID,
				"attempt_number": sub.AttemptNumber,
				"state":          sub.State(),
			})
		}
		out = append(out, gin.H{
			"id":          jv.ID,
			"name":        jv.Name,
			"parallelism": jv.Parallelism,
			"subtasks":    subtasks,
		})
	}
	c.JSON(http.StatusOK, gin.H{"vertices": out})
}
