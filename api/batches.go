package api

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"example.com/damdoh/services/traceability/ledger"
)

const defaultListLimit = 50

// listBatches returns batch snapshots filtered by farm and status
func (s *Server) listBatches(c *gin.Context) {
	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "limit must be a positive integer"})
			return
		}
		limit = parsed
	}

	filter := ledger.BatchFilter{
		FarmID: c.Query("farmId"),
		Status: c.Query("status"),
		Limit:  limit,
	}

	batches, err := s.batchHandler.HandleListBatches(c.Request.Context(), filter)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": batches})
}

// getBatch returns a single batch snapshot
func (s *Server) getBatch(c *gin.Context) {
	history, err := s.batchHandler.HandleGetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": history.Batch})
}

// getBatchHistory is the REST-style alias for GET /vti
func (s *Server) getBatchHistory(c *gin.Context) {
	history, err := s.batchHandler.HandleGetHistory(c.Request.Context(), c.Param("id"))
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": history})
}

// searchBatches runs a free-text query against the search index
func (s *Server) searchBatches(c *gin.Context) {
	if s.searchClient == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "message": "Search is not configured"})
		return
	}

	query := c.Query("q")
	if query == "" {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "q query parameter is required"})
		return
	}

	size := 0
	if raw := c.Query("size"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "size must be a positive integer"})
			return
		}
		size = parsed
	}

	results, err := s.searchClient.SearchBatches(c.Request.Context(), query, size)
	if err != nil {
		s.respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "data": results})
}
