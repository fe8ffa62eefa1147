package job_test

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/joshu-sajeev/pollq/common"
	"github.com/joshu-sajeev/pollq/internal/config"
	"github.com/joshu-sajeev/pollq/internal/dto"
	"github.com/joshu-sajeev/pollq/internal/job"
	"github.com/joshu-sajeev/pollq/internal/mocks"
	"github.com/joshu-sajeev/pollq/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
)

func newRouter(svc job.JobServiceInterface) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.ErrorHandler())
	job.NewJobHandler(svc).Register(r)
	return r
}

func serve(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestJobHandler_Create(t *testing.T) {
	tests := []struct {
		name           string
		body           string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
	}{
		{
			name: "successful job creation",
			body: `{"type":"email","payload":{"to":"test@example.com","subject":"Test","body":"x"},"max_attempts":3}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.MatchedBy(func(req *dto.JobCreateDTO) bool {
					return req.Type == "email" && req.MaxAttempts == 3
				})).Return(&dto.JobResponseDTO{ID: 1, Type: "email"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:           "invalid request body JSON",
			body:           "{invalid json}",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "missing type",
			body:           `{"payload":{}}`,
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name:           "max attempts out of range",
			body:           `{"type":"email","max_attempts":1000}`,
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "invalid job type",
			body: `{"type":"nope","payload":{"test":true}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.Anything).
					Return(nil, common.NewAPIError(http.StatusBadRequest, "invalid job type", map[string]any{
						"provided": "nope",
						"allowed":  []string{"echo", "email"},
					}))
			},
			expectedStatus: http.StatusBadRequest,
		},
		{
			name: "database connection error",
			body: `{"type":"email","payload":{"test":true}}`,
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("CreateJob", mock.Anything, mock.Anything).
					Return(nil, common.Errf(http.StatusInternalServerError, "failed to add job to database"))
			},
			expectedStatus: http.StatusInternalServerError,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)

			w := serve(newRouter(mockService), http.MethodPost, "/jobs", tt.body)

			assert.Equal(t, tt.expectedStatus, w.Code, "Status code mismatch for test: %s", tt.name)
			mockService.AssertExpectations(t)
		})
	}
}

func TestJobHandler_Get(t *testing.T) {
	validJobResponse := &dto.JobResponseDTO{
		ID:          1,
		Type:        "email",
		Payload:     json.RawMessage(`{"to":"test@example.com"}`),
		Status:      config.JobStatusPending.String(),
		MaxAttempts: 4,
	}

	tests := []struct {
		name           string
		jobID          string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:  "successful fetch",
			jobID: "1",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("GetJobByID", mock.Anything, uint(1)).Return(validJobResponse, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"id":1,"type":"email","payload":{"to":"test@example.com"},"status":"pending","attempts":0,"max_attempts":4,"created_at":"0001-01-01T00:00:00Z","updated_at":"0001-01-01T00:00:00Z"}`,
		},
		{
			name:           "invalid ID param",
			jobID:          "abc",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
			expectedBody:   `{"error":"invalid ID"}`,
		},
		{
			name:  "job not found",
			jobID: "99",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("GetJobByID", mock.Anything, uint(99)).Return(nil, common.Errf(http.StatusNotFound, "job not found"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"job not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)

			w := serve(newRouter(mockService), http.MethodGet, "/jobs/"+tt.jobID, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.JSONEq(t, tt.expectedBody, w.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}

func TestJobHandler_List(t *testing.T) {
	tests := []struct {
		name           string
		query          string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
	}{
		{
			name:  "filters from query",
			query: "?type=email&group=mail&status=failed-terminal&limit=10",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("ListJobs", mock.Anything, job.ListFilter{
					JobType: "email",
					Group:   "mail",
					Status:  config.JobStatusFailedTerminal,
					Limit:   10,
				}).Return([]dto.JobResponseDTO{{ID: 1}}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:  "no filters",
			query: "",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("ListJobs", mock.Anything, job.ListFilter{}).Return([]dto.JobResponseDTO{}, nil)
			},
			expectedStatus: http.StatusOK,
		},
		{
			name:           "bad limit",
			query:          "?limit=-1",
			setupMock:      func(m *mocks.JobServiceMock) {},
			expectedStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)

			w := serve(newRouter(mockService), http.MethodGet, "/jobs"+tt.query, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			mockService.AssertExpectations(t)
		})
	}
}

func TestJobHandler_AdminRoutes(t *testing.T) {
	beat := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		method         string
		path           string
		setupMock      func(*mocks.JobServiceMock)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:   "add by type",
			method: http.MethodPost,
			path:   "/types/echo/jobs",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("AddJob", mock.Anything, "echo").Return(&dto.JobResponseDTO{ID: 5, Type: "echo"}, nil)
			},
			expectedStatus: http.StatusCreated,
		},
		{
			name:   "remove",
			method: http.MethodDelete,
			path:   "/jobs/5",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("RemoveJob", mock.Anything, uint(5)).Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "reset missing",
			method: http.MethodPost,
			path:   "/jobs/5/reset",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("ResetJob", mock.Anything, uint(5)).Return(common.Errf(http.StatusNotFound, "job not found"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"job not found"}`,
		},
		{
			name:   "reset failed",
			method: http.MethodPost,
			path:   "/failed/reset",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("ResetFailed", mock.Anything).Return(int64(3), nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"reset":3}`,
		},
		{
			name:   "truncate",
			method: http.MethodDelete,
			path:   "/jobs",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("Truncate", mock.Anything).Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "stats",
			method: http.MethodGet,
			path:   "/stats",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("Stats", mock.Anything).Return(&dto.QueueStatsDTO{
					Length:        2,
					Pending:       map[string]int64{"echo": 2},
					Types:         []dto.TypeStatsDTO{},
					Workers:       1,
					LastHeartbeat: &beat,
				}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"length":2,"pending":{"echo":2},"types":[],"workers":1,"last_heartbeat":"2024-03-01T12:00:00Z"}`,
		},
		{
			name:   "pending",
			method: http.MethodGet,
			path:   "/pending",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("PendingJobs", mock.Anything).Return([]dto.JobResponseDTO{}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `[]`,
		},
		{
			name:   "processes",
			method: http.MethodGet,
			path:   "/processes",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("Processes", mock.Anything).Return([]dto.ProcessDTO{{PID: "w-1", LastHeartbeat: beat, CreatedAt: beat, Alive: true}}, nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `[{"pid":"w-1","created_at":"2024-03-01T12:00:00Z","last_heartbeat":"2024-03-01T12:00:00Z","alive":true}]`,
		},
		{
			name:   "terminate",
			method: http.MethodDelete,
			path:   "/processes/w-1",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("TerminateProcess", mock.Anything, "w-1").Return(nil)
			},
			expectedStatus: http.StatusNoContent,
		},
		{
			name:   "terminate unknown",
			method: http.MethodDelete,
			path:   "/processes/w-2",
			setupMock: func(m *mocks.JobServiceMock) {
				m.On("TerminateProcess", mock.Anything, "w-2").Return(common.Errf(http.StatusNotFound, "worker not found"))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"error":"worker not found"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(mocks.JobServiceMock)
			tt.setupMock(mockService)

			w := serve(newRouter(mockService), tt.method, tt.path, "")

			assert.Equal(t, tt.expectedStatus, w.Code)
			if tt.expectedBody != "" {
				assert.JSONEq(t, tt.expectedBody, w.Body.String())
			}
			mockService.AssertExpectations(t)
		})
	}
}
