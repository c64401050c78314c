package main

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/gin-gonic/gin"

	"pantry-gpt/internal/scanerr"
)

// maxUploadSize bounds a single uploaded image.
const maxUploadSize = 20 << 20

// newRouter registers the API routes on a gin engine.
func newRouter(app *App, jobs *JobQueue) *gin.Engine {
	router := gin.Default()
	router.MaxMultipartMemory = maxUploadSize

	api := router.Group("/api")
	{
		api.POST("/scan", app.scanHandler)
		api.GET("/scans", app.getScansHandler)

		api.POST("/batches", submitBatchHandler(jobs))
		api.GET("/batches/:job_id", getBatchHandler(jobs))
		api.GET("/batches", getAllBatchesHandler(jobs))

		api.GET("/status", app.statusHandler)
	}
	return router
}

// errorStatus maps the error taxonomy onto HTTP status codes.
func errorStatus(err error) int {
	switch {
	case errors.Is(err, scanerr.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, scanerr.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, scanerr.ErrBudgetExceeded):
		return http.StatusPaymentRequired
	default:
		return http.StatusBadGateway
	}
}

// scanHandler handles the POST /api/scan endpoint
func (app *App) scanHandler(c *gin.Context) {
	file, header, err := c.Request.FormFile("image")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Missing image file"})
		return
	}
	defer file.Close()

	image, err := io.ReadAll(io.LimitReader(file, maxUploadSize+1))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Error reading upload: %v", err)})
		return
	}
	if len(image) > maxUploadSize {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "Image too large"})
		return
	}

	outcome, err := app.scanImage(c.Request.Context(), header.Filename, image)
	if err != nil {
		c.JSON(errorStatus(err), outcome)
		return
	}
	c.JSON(http.StatusOK, outcome)
}

// getScansHandler handles the GET /api/scans endpoint
func (app *App) getScansHandler(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid limit"})
			return
		}
		limit = n
	}

	records, err := GetScanRecords(app.Database.WithContext(c.Request.Context()), c.Query("status"), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to retrieve scan records"})
		log.Errorf("Failed to retrieve scan records: %v", err)
		return
	}
	c.JSON(http.StatusOK, records)
}

func submitBatchHandler(jobs *JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			Directory string `json:"directory" binding:"required"`
		}
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Invalid request payload: %v", err)})
			return
		}
		info, err := os.Stat(req.Directory)
		if err != nil || !info.IsDir() {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Directory not found"})
			return
		}

		job, err := jobs.Submit(req.Directory)
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
			return
		}
		c.JSON(http.StatusAccepted, gin.H{"job_id": job.ID})
	}
}

func getBatchHandler(jobs *JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, exists := jobs.store.getJob(c.Param("job_id"))
		if !exists {
			c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}

func getAllBatchesHandler(jobs *JobQueue) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, jobs.store.GetAllJobs())
	}
}

// statusHandler handles the GET /api/status endpoint
func (app *App) statusHandler(c *gin.Context) {
	ctx := c.Request.Context()
	c.JSON(http.StatusOK, gin.H{
		"cache":       app.Cache.Stats(),
		"rate_limits": app.Limiter.States(),
		"cost":        app.Guard.Snapshot(ctx),
	})
}
