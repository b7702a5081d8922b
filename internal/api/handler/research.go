package handler

import (
	"errors"
	"io"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/qs3c/research_go_server/internal/engine"
	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/model/dto"
	"github.com/qs3c/research_go_server/internal/pkg/broadcast"
	"github.com/qs3c/research_go_server/internal/pkg/evallog"
	"github.com/qs3c/research_go_server/internal/pkg/response"
	"github.com/qs3c/research_go_server/internal/repository"
)

type ResearchHandler struct {
	engine      *engine.Engine
	broadcaster *broadcast.Broadcaster
	evalLogger  *evallog.Logger
	jobRepo     *repository.JobRepository
}

func NewResearchHandler(
	eng *engine.Engine,
	broadcaster *broadcast.Broadcaster,
	evalLogger *evallog.Logger,
	jobRepo *repository.JobRepository,
) *ResearchHandler {
	return &ResearchHandler{
		engine:      eng,
		broadcaster: broadcaster,
		evalLogger:  evalLogger,
		jobRepo:     jobRepo,
	}
}

// Submit 提交研究任务，立即返回任务 ID
// POST /api/v1/research/submit
func (h *ResearchHandler) Submit(c *gin.Context) {
	var req dto.SubmitResearchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.ParamError(c, err.Error())
		return
	}

	jobID, err := h.engine.Submit(req.Query)
	if err != nil {
		switch {
		case errors.Is(err, engine.ErrEmptyQuery):
			response.ParamError(c, err.Error())
		case errors.Is(err, engine.ErrTooManyJobs):
			response.TooManyJobsError(c, err.Error())
		default:
			response.ServerError(c, "")
		}
		return
	}

	snap, err := h.engine.GetStatus(jobID)
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.SuccessWithMessage(c, "任务已提交", dto.SubmitResearchResponse{
		JobID:     jobID,
		Status:    string(snap.State),
		Message:   "Research job submitted. Poll /research/status/{job_id} for progress.",
		CreatedAt: snap.CreatedAt.Format(time.RFC3339),
	})
}

// Status 查询任务状态快照
// GET /api/v1/research/status/:id
func (h *ResearchHandler) Status(c *gin.Context) {
	snap, err := h.engine.GetStatus(c.Param("id"))
	if err != nil {
		response.NotFoundError(c, err.Error())
		return
	}

	response.Success(c, snap)
}

// Cancel 取消任务，幂等
// POST /api/v1/research/cancel/:id
func (h *ResearchHandler) Cancel(c *gin.Context) {
	snap, err := h.engine.Cancel(c.Param("id"))
	if err != nil {
		response.NotFoundError(c, err.Error())
		return
	}

	response.Success(c, snap)
}

// Stream 以 SSE 推送任务的进度事件，终态事件后连接结束。
// 订阅只从当前时间点开始，不回放历史事件。
// GET /api/v1/research/stream/:id
func (h *ResearchHandler) Stream(c *gin.Context) {
	jobID := c.Param("id")
	if _, err := h.engine.GetStatus(jobID); err != nil {
		response.NotFoundError(c, err.Error())
		return
	}

	events, cancel := h.broadcaster.Subscribe(jobID)
	defer cancel()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case ev, ok := <-events:
			if !ok {
				return false
			}
			c.SSEvent("message", ev)
			return true
		case <-c.Request.Context().Done():
			return false
		}
	})
}

// List 最近的任务列表：内存中的实时任务加上归档记录
// GET /api/v1/research/jobs
func (h *ResearchHandler) List(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	if limit < 1 || limit > 200 {
		limit = 50
	}

	live := h.engine.Snapshots()

	seen := make(map[string]struct{}, len(live))
	items := make([]dto.JobListItem, 0, limit)
	for _, job := range live {
		seen[job.ID] = struct{}{}
		items = append(items, liveListItem(job))
	}

	total := len(live)
	if h.jobRepo != nil {
		archivedTotal, err := h.jobRepo.Count()
		if err != nil {
			response.ServerError(c, "")
			return
		}

		// 终态的内存任务已经归档，总数按归档全量加非终态的内存任务计
		total = int(archivedTotal)
		for _, job := range live {
			if !job.State.Terminal() {
				total++
			}
		}

		recs, err := h.jobRepo.ListRecent(limit)
		if err != nil {
			response.ServerError(c, "")
			return
		}
		for _, rec := range recs {
			if _, ok := seen[rec.JobID]; ok {
				continue
			}
			items = append(items, archivedListItem(rec))
		}
	}

	if len(items) > limit {
		items = items[:limit]
	}

	response.Success(c, dto.JobListResponse{
		Total:   total,
		Showing: len(items),
		Jobs:    items,
	})
}

// Stats 评估日志统计
// GET /api/v1/stats
func (h *ResearchHandler) Stats(c *gin.Context) {
	stats, err := h.evalLogger.Stats()
	if err != nil {
		response.ServerError(c, "")
		return
	}

	response.Success(c, dto.StatsResponse{
		TotalRuns:      stats.TotalRuns,
		SuccessfulRuns: stats.SuccessfulRuns,
		AverageScore:   stats.AverageScore,
		HighestScore:   stats.MaxScore,
		LowestScore:    stats.MinScore,
		ActiveJobs:     h.engine.ActiveJobs(),
	})
}

// Health 健康检查
// GET /health
func (h *ResearchHandler) Health(c *gin.Context) {
	c.JSON(200, gin.H{
		"status": "operational",
		"stages": model.StageOrder,
		"features": gin.H{
			"background_jobs": true,
			"streaming":       "SSE + WebSocket",
			"eval_logging":    "JSONL",
			"quality_scoring": "1-10 scale",
		},
	})
}

func liveListItem(job model.Job) dto.JobListItem {
	item := dto.JobListItem{
		JobID:     job.ID,
		Status:    string(job.State),
		Query:     truncateQuery(job.Query),
		CreatedAt: job.CreatedAt.Format(time.RFC3339),
	}
	if job.FinishedAt != nil {
		item.FinishedAt = job.FinishedAt.Format(time.RFC3339)
	}
	return item
}

func archivedListItem(rec *model.JobRecord) dto.JobListItem {
	return dto.JobListItem{
		JobID:      rec.JobID,
		Status:     rec.State,
		Query:      truncateQuery(rec.Query),
		CreatedAt:  rec.CreatedAt.Format(time.RFC3339),
		FinishedAt: rec.FinishedAt.Format(time.RFC3339),
	}
}

// truncateQuery 列表里只展示前 100 个字符
func truncateQuery(query string) string {
	runes := []rune(query)
	if len(runes) <= 100 {
		return query
	}
	return string(runes[:100])
}
