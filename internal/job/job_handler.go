package job

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/pollq/common"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/middleware"
)

type JobHandler struct {
	service JobServiceInterface
}

func NewJobHandler(s JobServiceInterface) *JobHandler {
	return &JobHandler{service: s}
}

var _ JobHandlerInterface = (*JobHandler)(nil)

// Register mounts the admin routes on r.
func (h *JobHandler) Register(r gin.IRouter) {
	r.POST("/jobs", h.Create)
	r.GET("/jobs", h.List)
	r.DELETE("/jobs", h.Truncate)
	r.GET("/jobs/:id", h.Get)
	r.DELETE("/jobs/:id", h.Remove)
	r.POST("/jobs/:id/reset", h.Reset)

	r.POST("/types/:type/jobs", h.Add)
	r.POST("/failed/reset", h.ResetFailed)

	r.GET("/stats", h.Stats)
	r.GET("/pending", h.Pending)
	r.GET("/processes", h.Processes)
	r.DELETE("/processes/:pid", h.Terminate)
}

// Create handles HTTP requests for creating a new job.
// It validates and binds the request body, delegates business logic
// to the JobService, and returns HTTP 201 on successful creation.
func (h *JobHandler) Create(c *gin.Context) {
	var req dto.JobCreateDTO

	if !middleware.Bind(c, &req) {
		c.Abort()
		return
	}

	resp, err := h.service.CreateJob(c.Request.Context(), &req)
	if err != nil {
		c.Error(err)
		c.Abort()
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// Add enqueues a job of the path's type with that task's default payload.
func (h *JobHandler) Add(c *gin.Context) {
	resp, err := h.service.AddJob(c.Request.Context(), c.Param("type"))
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

func (h *JobHandler) Get(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	resp, err := h.service.GetJobByID(c.Request.Context(), id)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

// List handles GET /jobs. The type, group, status and limit query
// parameters narrow the result.
func (h *JobHandler) List(c *gin.Context) {
	filter := ListFilter{
		JobType: c.Query("type"),
		Group:   c.Query("group"),
		Status:  config.JobStatus(c.Query("status")),
	}

	if raw := c.Query("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			c.Error(common.Errf(http.StatusBadRequest, "invalid limit"))
			return
		}
		filter.Limit = limit
	}

	jobs, err := h.service.ListJobs(c.Request.Context(), filter)
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) Remove(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.service.RemoveJob(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) Reset(c *gin.Context) {
	id, ok := jobID(c)
	if !ok {
		return
	}

	if err := h.service.ResetJob(c.Request.Context(), id); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) ResetFailed(c *gin.Context) {
	n, err := h.service.ResetFailed(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"reset": n})
}

func (h *JobHandler) Truncate(c *gin.Context) {
	if err := h.service.Truncate(c.Request.Context()); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func (h *JobHandler) Stats(c *gin.Context) {
	stats, err := h.service.Stats(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, stats)
}

func (h *JobHandler) Pending(c *gin.Context) {
	jobs, err := h.service.PendingJobs(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, jobs)
}

func (h *JobHandler) Processes(c *gin.Context) {
	procs, err := h.service.Processes(c.Request.Context())
	if err != nil {
		c.Error(err)
		return
	}

	c.JSON(http.StatusOK, procs)
}

// Terminate removes a worker's registration and signals it when it runs
// on this host.
func (h *JobHandler) Terminate(c *gin.Context) {
	if err := h.service.TerminateProcess(c.Request.Context(), c.Param("pid")); err != nil {
		c.Error(err)
		return
	}

	c.Status(http.StatusNoContent)
}

func jobID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 0)
	if err != nil || id < 1 {
		c.Error(common.Errf(http.StatusBadRequest, "invalid ID"))
		return 0, false
	}
	return uint(id), true
}
