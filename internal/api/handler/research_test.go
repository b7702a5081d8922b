package handler

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/qs3c/research_go_server/internal/engine"
	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/pipeline"
	"github.com/qs3c/research_go_server/internal/pkg/broadcast"
	"github.com/qs3c/research_go_server/internal/pkg/evallog"
	"github.com/qs3c/research_go_server/internal/pkg/response"
	"github.com/qs3c/research_go_server/internal/repository"
	"github.com/qs3c/research_go_server/internal/testutil"
)

type handlerFixture struct {
	router *gin.Engine
	engine *engine.Engine
	repo   *repository.JobRepository
	logger *evallog.Logger
}

func setupResearchTest(t *testing.T, runners []*pipeline.StageRunner, opts engine.Options) *handlerFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := testutil.SetupTestDB(t)
	t.Cleanup(func() {
		testutil.CleanupTestDB(t, db)
	})
	repo := repository.NewJobRepository(db)

	logger := evallog.NewLogger(filepath.Join(t.TempDir(), "evals.jsonl"))
	b := broadcast.NewBroadcaster()
	eng := engine.New(pipeline.New(runners...), b, logger, repo, opts)
	t.Cleanup(eng.Stop)

	h := NewResearchHandler(eng, b, logger, repo)

	r := gin.New()
	r.GET("/health", h.Health)
	v1 := r.Group("/api/v1")
	{
		research := v1.Group("/research")
		{
			research.POST("/submit", h.Submit)
			research.GET("/jobs", h.List)
			research.GET("/status/:id", h.Status)
			research.GET("/stream/:id", h.Stream)
			research.POST("/cancel/:id", h.Cancel)
		}
		v1.GET("/stats", h.Stats)
	}

	return &handlerFixture{router: r, engine: eng, repo: repo, logger: logger}
}

// closeNotifyRecorder adds the http.CloseNotifier method gin's
// Context.Stream requires, which httptest.ResponseRecorder lacks.
type closeNotifyRecorder struct {
	*httptest.ResponseRecorder
	closed chan bool
}

func (c *closeNotifyRecorder) CloseNotify() <-chan bool { return c.closed }

func performRequest(r *gin.Engine, method, path string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		json.NewEncoder(&buf).Encode(body) //nolint:errcheck
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")

	w := httptest.NewRecorder()
	r.ServeHTTP(&closeNotifyRecorder{w, make(chan bool, 1)}, req)
	return w
}

func parseResponse(t *testing.T, w *httptest.ResponseRecorder) (int, string, json.RawMessage) {
	t.Helper()

	var resp struct {
		Code    int             `json:"code"`
		Message string          `json:"message"`
		Data    json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp.Code, resp.Message, resp.Data
}

func waitForJobState(t *testing.T, eng *engine.Engine, jobID string, state model.JobState) model.Job {
	t.Helper()

	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		job, err := eng.GetStatus(jobID)
		require.NoError(t, err)
		if job.State == state {
			return job
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("任务 %s 未进入 %s", jobID, state)
	return model.Job{}
}

func TestSubmit_Success(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "POST", "/api/v1/research/submit",
		gin.H{"query": "AI 行业趋势"})

	require.Equal(t, http.StatusOK, w.Code)
	code, message, data := parseResponse(t, w)
	assert.Equal(t, response.CodeSuccess, code)
	assert.Equal(t, "任务已提交", message)

	var body struct {
		JobID     string `json:"job_id"`
		Status    string `json:"status"`
		CreatedAt string `json:"created_at"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.NotEmpty(t, body.JobID)
	assert.NotEmpty(t, body.CreatedAt)

	waitForJobState(t, f.engine, body.JobID, model.StateCompleted)
}

func TestSubmit_MissingQuery(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "POST", "/api/v1/research/submit", gin.H{})

	require.Equal(t, http.StatusOK, w.Code)
	code, _, _ := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, code)
}

func TestSubmit_BlankQuery(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "POST", "/api/v1/research/submit",
		gin.H{"query": "   "})

	code, _, _ := parseResponse(t, w)
	assert.Equal(t, response.CodeParamError, code)
}

func TestSubmit_TooManyJobs(t *testing.T) {
	gate := make(chan struct{})
	f := setupResearchTest(t, testutil.StubRunners(testutil.WithGate(gate)),
		engine.Options{MaxConcurrentJobs: 1})

	w := performRequest(f.router, "POST", "/api/v1/research/submit",
		gin.H{"query": "first"})
	code, _, _ := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	w = performRequest(f.router, "POST", "/api/v1/research/submit",
		gin.H{"query": "second"})
	code, _, _ = parseResponse(t, w)
	assert.Equal(t, response.CodeTooManyJobs, code)
}

func TestStatus_NotFound(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "GET", "/api/v1/research/status/nonexistent", nil)

	require.Equal(t, http.StatusOK, w.Code)
	code, _, _ := parseResponse(t, w)
	assert.Equal(t, response.CodeResourceNotFound, code)
}

func TestStatus_CompletedJob(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	jobID, err := f.engine.Submit("status check")
	require.NoError(t, err)
	waitForJobState(t, f.engine, jobID, model.StateCompleted)

	w := performRequest(f.router, "GET", "/api/v1/research/status/"+jobID, nil)

	code, _, data := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	var body struct {
		JobID    string                `json:"job_id"`
		Status   string                `json:"status"`
		Progress int                   `json:"progress"`
		Data     *model.ResearchOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, jobID, body.JobID)
	assert.Equal(t, string(model.StateCompleted), body.Status)
	assert.Equal(t, 100, body.Progress)
	require.NotNil(t, body.Data)
	assert.Equal(t, "summary of status check", body.Data.Summary)
}

func TestCancel_NotFound(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "POST", "/api/v1/research/cancel/nonexistent", nil)

	code, _, _ := parseResponse(t, w)
	assert.Equal(t, response.CodeResourceNotFound, code)
}

func TestCancel_RunningJob(t *testing.T) {
	gate := make(chan struct{})
	f := setupResearchTest(t, testutil.StubRunners(testutil.WithGate(gate)), engine.Options{})

	jobID, err := f.engine.Submit("to cancel")
	require.NoError(t, err)

	w := performRequest(f.router, "POST", "/api/v1/research/cancel/"+jobID, nil)

	code, _, data := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	var body struct {
		Status string `json:"status"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	assert.Equal(t, string(model.StateCancelled), body.Status)
}

func TestStream_NotFound(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "GET", "/api/v1/research/stream/nonexistent", nil)

	code, _, _ := parseResponse(t, w)
	assert.Equal(t, response.CodeResourceNotFound, code)
}

func TestStream_TerminalJobEndsImmediately(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	jobID, err := f.engine.Submit("stream after done")
	require.NoError(t, err)
	waitForJobState(t, f.engine, jobID, model.StateCompleted)

	// 终态任务的话题已关闭，流立即结束
	w := performRequest(f.router, "GET", "/api/v1/research/stream/"+jobID, nil)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/event-stream", w.Header().Get("Content-Type"))
	assert.Empty(t, strings.TrimSpace(w.Body.String()))
}

func TestList_MergesLiveAndArchived(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	jobID, err := f.engine.Submit("listed job")
	require.NoError(t, err)
	waitForJobState(t, f.engine, jobID, model.StateCompleted)

	// 归档一条内存中已不存在的记录
	finished := time.Now()
	archived := model.Job{
		ID:         "archived-job",
		Query:      "archived query",
		State:      model.StateCompleted,
		CreatedAt:  finished.Add(-time.Hour),
		FinishedAt: &finished,
	}
	require.NoError(t, f.repo.Create(model.NewJobRecord(archived)))

	w := performRequest(f.router, "GET", "/api/v1/research/jobs", nil)

	code, _, data := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	var body struct {
		Total   int `json:"total"`
		Showing int `json:"showing"`
		Jobs    []struct {
			JobID  string `json:"job_id"`
			Status string `json:"status"`
			Query  string `json:"query"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(data, &body))

	// 内存任务已归档，列表里去重后只出现一次
	assert.Equal(t, 2, body.Total)
	require.Equal(t, 2, body.Showing)

	ids := map[string]int{}
	for _, item := range body.Jobs {
		ids[item.JobID]++
	}
	assert.Equal(t, 1, ids[jobID])
	assert.Equal(t, 1, ids["archived-job"])
}

func TestList_TotalCountsBeyondPage(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	// 归档数量超过分页大小
	for i := 0; i < 5; i++ {
		finished := time.Now().Add(-time.Duration(i) * time.Minute)
		job := model.Job{
			ID:         fmt.Sprintf("archived-%d", i),
			Query:      "archived query",
			State:      model.StateCompleted,
			CreatedAt:  finished.Add(-time.Minute),
			FinishedAt: &finished,
		}
		require.NoError(t, f.repo.Create(model.NewJobRecord(job)))
	}

	w := performRequest(f.router, "GET", "/api/v1/research/jobs?limit=2", nil)

	code, _, data := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	var body struct {
		Total   int `json:"total"`
		Showing int `json:"showing"`
	}
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, 5, body.Total, "总数按归档全量计，不受分页影响")
	assert.Equal(t, 2, body.Showing)
}

func TestList_TruncatesLongQuery(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	long := strings.Repeat("x", 300)
	jobID, err := f.engine.Submit(long)
	require.NoError(t, err)
	waitForJobState(t, f.engine, jobID, model.StateCompleted)

	w := performRequest(f.router, "GET", "/api/v1/research/jobs", nil)

	_, _, data := parseResponse(t, w)
	var body struct {
		Jobs []struct {
			Query string `json:"query"`
		} `json:"jobs"`
	}
	require.NoError(t, json.Unmarshal(data, &body))
	require.NotEmpty(t, body.Jobs)
	assert.Len(t, body.Jobs[0].Query, 100)
}

func TestStats_ReflectsCompletedJobs(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	jobID, err := f.engine.Submit("stats job")
	require.NoError(t, err)
	waitForJobState(t, f.engine, jobID, model.StateCompleted)

	w := performRequest(f.router, "GET", "/api/v1/stats", nil)

	code, _, data := parseResponse(t, w)
	require.Equal(t, response.CodeSuccess, code)

	var body struct {
		TotalQueries      int     `json:"total_queries"`
		SuccessfulQueries int     `json:"successful_queries"`
		AverageScore      float64 `json:"average_score"`
		HighestScore      int     `json:"highest_score"`
		LowestScore       int     `json:"lowest_score"`
		ActiveJobs        int     `json:"active_jobs"`
	}
	require.NoError(t, json.Unmarshal(data, &body))

	assert.Equal(t, 1, body.TotalQueries)
	assert.Equal(t, 1, body.SuccessfulQueries)
	assert.Equal(t, 8.0, body.AverageScore)
	assert.Equal(t, 8, body.HighestScore)
	assert.Equal(t, 8, body.LowestScore)
	assert.Equal(t, 0, body.ActiveJobs)
}

func TestHealth(t *testing.T) {
	f := setupResearchTest(t, testutil.StubRunners(), engine.Options{})

	w := performRequest(f.router, "GET", "/health", nil)

	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "operational", body["status"])
}
