package api

import (
	"context"
	"errors"
	"net/http"
	"sort"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"runwrap/pkg/storage"
)

// listJobs handles GET /api/v1/jobs
func (s *Server) listJobs(c *gin.Context) {
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]interface{}, 0, len(names))
	for _, name := range names {
		out = append(out, s.jobs[name])
	}
	c.JSON(http.StatusOK, gin.H{"jobs": out})
}

// triggerJob handles POST /api/v1/jobs/:name/trigger. The run happens
// asynchronously; the response acknowledges the dispatch attempt.
func (s *Server) triggerJob(c *gin.Context) {
	name := c.Param("name")
	spec, ok := s.jobs[name]
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "unknown job"})
		return
	}

	go s.sched.Dispatch(context.Background(), spec)

	c.JSON(http.StatusAccepted, gin.H{
		"job":    name,
		"status": "dispatched",
	})
}

// listRuns handles GET /api/v1/runs?job=&limit=&offset=
func (s *Server) listRuns(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history is disabled"})
		return
	}

	limit := intQuery(c, "limit", 50)
	offset := intQuery(c, "offset", 0)

	runs, err := s.store.ListRuns(c.Request.Context(), c.Query("job"), limit, offset)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"runs": runs})
}

// getRun handles GET /api/v1/runs/:id
func (s *Server) getRun(c *gin.Context) {
	if s.store == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run history is disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	rec, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, rec)
}

// getRunLogs handles GET /api/v1/runs/:id/logs
func (s *Server) getRunLogs(c *gin.Context) {
	if s.store == nil || s.logs == nil {
		c.JSON(http.StatusNotImplemented, gin.H{"error": "run logs are disabled"})
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid run id"})
		return
	}

	rec, err := s.store.GetRun(c.Request.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "run not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if rec.LogURI == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "no output captured for this run"})
		return
	}

	data, err := s.logs.Retrieve(c.Request.Context(), rec.LogURI)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/plain; charset=utf-8", data)
}

func intQuery(c *gin.Context, key string, fallback int) int {
	if v, err := strconv.Atoi(c.Query(key)); err == nil && v >= 0 {
		return v
	}
	return fallback
}
