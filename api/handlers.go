package api

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/miniclaw/miniclaw/types"
)

func (s *Server) health(c *gin.Context) {
	respondOK(c, gin.H{
		"status": "healthy",
		"uptime": time.Since(s.started).String(),
	})
}

func (s *Server) listWorkflows(c *gin.Context) {
	names, err := s.recipes.List()
	if err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"workflows": names})
}

type submitRunRequest struct {
	Vars map[string]string `json:"vars"`
}

func (s *Server) submitRun(c *gin.Context) {
	recipe, err := s.recipes.Load(c.Param("name"))
	if err != nil {
		respondError(c, err)
		return
	}

	var req submitRunRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, types.NewError(types.ErrInvalidRequest, "request body is not valid JSON").WithCause(err))
			return
		}
	}

	// The run outlives this request; net/http cancels the request
	// context once the handler returns, so detach it.
	runID, err := s.runs.Submit(context.WithoutCancel(c.Request.Context()), recipe, req.Vars)
	if err != nil {
		respondError(c, err)
		return
	}
	s.logger.Info("run submitted",
		zap.String("run_id", runID),
		zap.String("recipe", recipe.Name),
	)
	respondCreated(c, gin.H{"run_id": runID})
}

func (s *Server) getRun(c *gin.Context) {
	runID := c.Param("id")
	if result, ok := s.runs.Status(runID); ok {
		respondOK(c, result)
		return
	}
	if s.archive != nil {
		result, ok, err := s.archive.Get(c.Request.Context(), runID)
		if err != nil {
			respondError(c, err)
			return
		}
		if ok {
			respondOK(c, result)
			return
		}
	}
	respondNotFound(c, "run not found")
}

func (s *Server) listRuns(c *gin.Context) {
	live := s.runs.Runs()
	out := gin.H{"live": live}
	if s.archive != nil {
		archived, err := s.archive.List(c.Request.Context(), 0)
		if err != nil {
			respondError(c, err)
			return
		}
		out["archived"] = archived
	}
	respondOK(c, out)
}

func (s *Server) cancelRun(c *gin.Context) {
	runID := c.Param("id")
	if !s.runs.Cancel(runID) {
		respondNotFound(c, "run not found or already finished")
		return
	}
	respondOK(c, gin.H{"run_id": runID, "cancelling": true})
}

func (s *Server) listApprovals(c *gin.Context) {
	if s.approvals == nil {
		respondOK(c, gin.H{"approvals": []any{}})
		return
	}
	respondOK(c, gin.H{"approvals": s.approvals.Pending()})
}

type approvalDecision struct {
	Approved *bool `json:"approved" binding:"required"`
}

func (s *Server) resolveApproval(c *gin.Context) {
	if s.approvals == nil {
		respondNotFound(c, "approvals not enabled")
		return
	}
	var decision approvalDecision
	if err := c.ShouldBindJSON(&decision); err != nil {
		respondError(c, types.NewError(types.ErrInvalidRequest, `body must be {"approved": true|false}`).WithCause(err))
		return
	}
	if err := s.approvals.Resolve(c.Param("id"), *decision.Approved); err != nil {
		respondError(c, err)
		return
	}
	respondOK(c, gin.H{"id": c.Param("id"), "approved": *decision.Approved})
}

func (s *Server) getUsage(c *gin.Context) {
	if s.usage == nil {
		respondOK(c, gin.H{"sessions": []any{}})
		return
	}
	respondOK(c, gin.H{"sessions": s.usage.Sessions()})
}
