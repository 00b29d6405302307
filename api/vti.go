package api

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"example.com/damdoh/services/traceability/domain"
	"example.com/damdoh/services/traceability/handlers"
)

// Request envelope types accepted by POST /vti
const (
	requestCreateBatch = "createBatch"
	requestAddEvent    = "addEvent"
)

// vtiRequest is the envelope for ledger writes
type vtiRequest struct {
	Type      string          `json:"type"`
	BatchData json.RawMessage `json:"batchData"`
	EventData json.RawMessage `json:"eventData"`
}

// postVti dispatches ledger write requests by envelope type
func (s *Server) postVti(c *gin.Context) {
	var req vtiRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request body"})
		return
	}

	switch req.Type {
	case requestCreateBatch:
		var cmd handlers.RegisterBatchCommand
		if err := json.Unmarshal(req.BatchData, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid batchData payload"})
			return
		}

		batch, err := s.batchHandler.HandleRegisterBatch(c.Request.Context(), cmd)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "data": batch})

	case requestAddEvent:
		var cmd handlers.AppendEventCommand
		if err := json.Unmarshal(req.EventData, &cmd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid eventData payload"})
			return
		}

		event, err := s.batchHandler.HandleAppendEvent(c.Request.Context(), cmd)
		if err != nil {
			s.respondError(c, err)
			return
		}

		c.JSON(http.StatusOK, gin.H{"status": "success", "data": event})

	default:
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Invalid request type"})
	}
}

// getVti returns a batch and its ordered event history
func (s *Server) getVti(c *gin.Context) {
	batchID := c.Query("batchId")
	if batchID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "batchId query parameter is required"})
		return
	}

	history, err := s.batchHandler.HandleGetHistory(c.Request.Context(), batchID)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": history})
}

// respondError maps domain errors onto the wire contract. Anything outside
// the taxonomy is logged and returned as an opaque 500.
func (s *Server) respondError(c *gin.Context, err error) {
	switch {
	case domain.IsValidation(err):
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})

	case domain.IsNotFound(err):
		c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": err.Error()})

	default:
		log.Error().Err(err).Str("path", c.Request.URL.Path).Msg("Request failed")
		s.metrics.IncrementCounter("internal_errors")
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": "Internal server error"})
	}
}
