package engine

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"procflow/runtime"
	"procflow/runtime/store"
)

// RegisterRoutes mounts the engine's HTTP surface on a gin engine.
func (e *Engine) RegisterRoutes(g *gin.Engine) {
	g.POST("/processes/:id/start", e.handleStart)
	g.GET("/instances/:id", e.handleGet)
	g.POST("/instances/:id/signal", e.handleSignalRequest)
	g.POST("/instances/:id/continue", e.handleContinue)
}

type startRequest struct {
	Input map[string]any `json:"input"`
	Sink  string         `json:"sink"`
}

func (e *Engine) handleStart(c *gin.Context) {
	var req startRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
			return
		}
	}

	wait := c.Query("wait") == "true"
	sinkID := req.Sink
	var outcomes <-chan runtime.ProcessOutcome
	if wait {
		sinkID, outcomes = e.sinks.AwaitNamed()
		defer e.sinks.Unregister(sinkID)
	}

	instanceID, err := e.StartProcess(c.Request.Context(), c.Param("id"), req.Input, sinkID)
	if err != nil {
		writeError(c, err)
		return
	}

	if !wait {
		c.JSON(http.StatusAccepted, gin.H{"instanceId": instanceID})
		return
	}

	select {
	case outcome := <-outcomes:
		status := http.StatusOK
		if !outcome.Success {
			status = http.StatusUnprocessableEntity
		}
		c.JSON(status, gin.H{"instanceId": instanceID, "outcome": outcome})
	case <-time.After(30 * time.Second):
		c.JSON(http.StatusAccepted, gin.H{"instanceId": instanceID, "message": "still running"})
	}
}

func (e *Engine) handleGet(c *gin.Context) {
	inst, err := e.FindInstance(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, inst)
}

type signalRequest struct {
	Type    runtime.SignalType `json:"type" binding:"required"`
	Payload any                `json:"payload"`
}

func (e *Engine) handleSignalRequest(c *gin.Context) {
	var req signalRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return
	}

	sig := runtime.Signal{Type: req.Type, Payload: req.Payload}
	if sig.FlowStatus() == runtime.FlowContinue && sig.Type != runtime.SignalResume {
		c.JSON(http.StatusBadRequest, gin.H{"message": "unknown signal type"})
		return
	}

	if err := e.SignalInstance(c.Request.Context(), c.Param("id"), sig); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instanceId": c.Param("id")})
}

type continueRequest struct {
	TaskID string `json:"taskId" binding:"required"`
}

func (e *Engine) handleContinue(c *gin.Context) {
	var req continueRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "invalid request body: " + err.Error()})
		return
	}

	if err := e.ContinueInstance(c.Request.Context(), c.Param("id"), req.TaskID); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"instanceId": c.Param("id")})
}

func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": err.Error()})
	case runtime.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"message": err.Error()})
	case isConflict(err):
		c.JSON(http.StatusConflict, gin.H{"message": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"message": err.Error()})
	}
}
