package engine

import (
	"context"
	"errors"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/pipeline"
	"github.com/qs3c/research_go_server/internal/pkg/broadcast"
	"github.com/qs3c/research_go_server/internal/pkg/evallog"
	"github.com/qs3c/research_go_server/internal/repository"
)

var (
	ErrJobNotFound = errors.New("任务不存在")
	ErrEmptyQuery  = errors.New("查询内容不能为空")
	ErrTooManyJobs = errors.New("并发任务数已达上限")
)

type Options struct {
	MaxConcurrentJobs int           // 0 表示不限制
	Retention         time.Duration // 终态任务在内存中的保留时间
	JanitorInterval   time.Duration
}

// jobEntry 单个任务的持有结构。job 字段只在持有 mu 时读写，
// 对外全部返回值拷贝。
type jobEntry struct {
	mu     sync.Mutex
	job    model.Job
	cancel context.CancelFunc
}

// Engine 任务引擎：创建任务、后台执行、状态流转、取消和归档。
// 提交方从不等待任何阶段执行。
type Engine struct {
	mu     sync.RWMutex
	jobs   map[string]*jobEntry
	active int // 非终态任务数

	pipeline    *pipeline.Pipeline
	broadcaster *broadcast.Broadcaster
	evalLogger  *evallog.Logger
	jobRepo     *repository.JobRepository // 可为 nil（不归档）

	opts     Options
	stopCh   chan struct{}
	stopOnce sync.Once
}

func New(
	p *pipeline.Pipeline,
	b *broadcast.Broadcaster,
	l *evallog.Logger,
	jobRepo *repository.JobRepository,
	opts Options,
) *Engine {
	if opts.Retention <= 0 {
		opts.Retention = time.Hour
	}
	if opts.JanitorInterval <= 0 {
		opts.JanitorInterval = time.Minute
	}
	return &Engine{
		jobs:        make(map[string]*jobEntry),
		pipeline:    p,
		broadcaster: b,
		evalLogger:  l,
		jobRepo:     jobRepo,
		opts:        opts,
		stopCh:      make(chan struct{}),
	}
}

// Start 启动终态任务清理循环
func (e *Engine) Start() {
	go e.runJanitor()
	log.Println("Job engine started")
}

// Stop 停止引擎，可重复调用。所有未完成的任务被取消，不留无主任务。
func (e *Engine) Stop() {
	e.stopOnce.Do(func() {
		close(e.stopCh)

		e.mu.RLock()
		ids := make([]string, 0, len(e.jobs))
		for id := range e.jobs {
			ids = append(ids, id)
		}
		e.mu.RUnlock()

		for _, id := range ids {
			e.Cancel(id) //nolint:errcheck // 终态任务取消是空操作
		}
		log.Println("Job engine stopped")
	})
}

// Submit 创建任务并立即返回任务 ID，流水线在独立 goroutine 中执行
func (e *Engine) Submit(query string) (string, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return "", ErrEmptyQuery
	}

	e.mu.Lock()
	if e.opts.MaxConcurrentJobs > 0 && e.active >= e.opts.MaxConcurrentJobs {
		e.mu.Unlock()
		return "", ErrTooManyJobs
	}

	entry := &jobEntry{
		job: model.Job{
			ID:        uuid.NewString(),
			Query:     query,
			State:     model.StateQueued,
			CreatedAt: time.Now(),
		},
	}
	ctx, cancel := context.WithCancel(context.Background())
	entry.cancel = cancel

	e.jobs[entry.job.ID] = entry
	e.active++
	e.mu.Unlock()

	e.broadcaster.Open(entry.job.ID)

	go e.run(ctx, entry)

	log.Printf("Job %s: submitted", entry.job.ID)
	return entry.job.ID, nil
}

// GetStatus 返回任务快照
func (e *Engine) GetStatus(jobID string) (model.Job, error) {
	entry := e.entry(jobID)
	if entry == nil {
		return model.Job{}, ErrJobNotFound
	}

	entry.mu.Lock()
	defer entry.mu.Unlock()
	return entry.job, nil
}

// Cancel 取消任务。幂等：已终态的任务返回当前快照，不产生第二条评估记录。
func (e *Engine) Cancel(jobID string) (model.Job, error) {
	entry := e.entry(jobID)
	if entry == nil {
		return model.Job{}, ErrJobNotFound
	}

	entry.mu.Lock()
	if entry.job.State.Terminal() {
		snap := entry.job
		entry.mu.Unlock()
		return snap, nil
	}
	entry.mu.Unlock()

	// queued 的任务直接进入 cancelled，不会经过 running；
	// running 的任务先标记终态，正在执行的阶段结果随后被丢弃
	e.finish(entry, func(j *model.Job) {
		j.State = model.StateCancelled
	})

	return e.GetStatus(jobID)
}

// Snapshots 内存中所有任务的快照，按创建时间倒序
func (e *Engine) Snapshots() []model.Job {
	e.mu.RLock()
	entries := make([]*jobEntry, 0, len(e.jobs))
	for _, entry := range e.jobs {
		entries = append(entries, entry)
	}
	e.mu.RUnlock()

	jobs := make([]model.Job, 0, len(entries))
	for _, entry := range entries {
		entry.mu.Lock()
		jobs = append(jobs, entry.job)
		entry.mu.Unlock()
	}

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	return jobs
}

// ActiveJobs 当前非终态任务数
func (e *Engine) ActiveJobs() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.active
}

func (e *Engine) entry(jobID string) *jobEntry {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.jobs[jobID]
}

// run 在独立 goroutine 中驱动整条流水线
func (e *Engine) run(ctx context.Context, entry *jobEntry) {
	entry.mu.Lock()
	if entry.job.State != model.StateQueued {
		// 排队期间已被取消
		entry.mu.Unlock()
		return
	}
	entry.job.State = model.StateRunning
	jobID := entry.job.ID
	query := entry.job.Query
	entry.mu.Unlock()

	result, err := e.pipeline.Execute(ctx, jobID, query, e)

	switch {
	case err == nil:
		e.finish(entry, func(j *model.Job) {
			j.State = model.StateCompleted
			j.Result = result
			j.Progress = 100
		})
	case errors.Is(err, context.Canceled):
		// Cancel 已把任务标记为 cancelled，这里只是丢弃结果
		e.finish(entry, func(j *model.Job) {
			j.State = model.StateCancelled
		})
	default:
		e.finish(entry, func(j *model.Job) {
			j.State = model.StateFailed
			j.Error = err.Error()
		})
	}
}

// finish 执行终态流转，每个任务恰好一次：
// 写评估记录、归档、推送终态事件、关闭事件话题。
func (e *Engine) finish(entry *jobEntry, mutate func(*model.Job)) {
	entry.mu.Lock()
	if entry.job.State.Terminal() {
		entry.mu.Unlock()
		return
	}
	mutate(&entry.job)
	now := time.Now()
	entry.job.FinishedAt = &now
	entry.job.CurrentStage = ""
	snapshot := entry.job
	entry.mu.Unlock()

	entry.cancel()

	e.mu.Lock()
	e.active--
	e.mu.Unlock()

	e.appendEval(snapshot)
	e.archive(snapshot)
	e.publishTerminal(snapshot)
	e.broadcaster.CloseTopic(snapshot.ID)

	log.Printf("Job %s: %s", snapshot.ID, snapshot.State)
}

// appendEval 写评估记录。写失败只上报日志，不影响任务结果。
func (e *Engine) appendEval(job model.Job) {
	rec := &evallog.Record{
		Timestamp: *job.FinishedAt,
		Query:     job.Query,
	}
	rec.DurationMillis = job.FinishedAt.Sub(job.CreatedAt).Milliseconds()

	if job.State == model.StateCompleted && job.Result != nil {
		eval := job.Result.Evaluation
		rec.Outcome = evallog.OutcomeSuccess
		rec.Score = eval.Score
		rec.Feedback = eval.Feedback
		rec.HallucinationCheck = eval.HallucinationCheck
		rec.Recommendations = eval.Recommendations
	} else {
		rec.Outcome = evallog.OutcomeFailure
		if job.State == model.StateCancelled {
			rec.Feedback = "job cancelled"
		} else {
			rec.Feedback = job.Error
		}
	}

	if err := e.evalLogger.Append(rec); err != nil {
		log.Printf("Job %s: failed to append eval record: %v", job.ID, err)
	}
}

// archive 终态任务归档。失败同样只上报日志。
func (e *Engine) archive(job model.Job) {
	if e.jobRepo == nil {
		return
	}
	if err := e.jobRepo.Create(model.NewJobRecord(job)); err != nil {
		log.Printf("Job %s: failed to archive: %v", job.ID, err)
	}
}

func (e *Engine) publishTerminal(job model.Job) {
	switch job.State {
	case model.StateCompleted:
		e.broadcaster.Publish(model.ProgressEvent{
			JobID:     job.ID,
			Kind:      model.EventJobCompleted,
			Message:   "研究完成",
			Progress:  100,
			Timestamp: *job.FinishedAt,
		})
	case model.StateFailed:
		e.broadcaster.Publish(model.ProgressEvent{
			JobID:     job.ID,
			Kind:      model.EventJobFailed,
			Message:   job.Error,
			Progress:  job.Progress,
			Timestamp: *job.FinishedAt,
		})
	}
	// cancelled 没有对应的事件类型，订阅通道由话题关闭结束
}

// StageStarted 实现 pipeline.Observer
func (e *Engine) StageStarted(jobID, stage string) {
	entry := e.entry(jobID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	if entry.job.State != model.StateRunning {
		entry.mu.Unlock()
		return
	}
	entry.job.CurrentStage = stage
	progress := entry.job.Progress
	entry.mu.Unlock()

	e.broadcaster.Publish(model.ProgressEvent{
		JobID:     jobID,
		Stage:     stage,
		Kind:      model.EventStageStarted,
		Message:   model.StageMessages[stage],
		Progress:  progress,
		Timestamp: time.Now(),
	})
}

// StageCompleted 实现 pipeline.Observer，进度只增不减
func (e *Engine) StageCompleted(jobID, stage string, progress int) {
	entry := e.entry(jobID)
	if entry == nil {
		return
	}

	entry.mu.Lock()
	if entry.job.State == model.StateRunning && progress > entry.job.Progress {
		entry.job.Progress = progress
	}
	entry.mu.Unlock()

	e.broadcaster.Publish(model.ProgressEvent{
		JobID:     jobID,
		Stage:     stage,
		Kind:      model.EventStageCompleted,
		Progress:  progress,
		Timestamp: time.Now(),
	})
}

// runJanitor 定期清理过了保留窗口的终态任务
func (e *Engine) runJanitor() {
	ticker := time.NewTicker(e.opts.JanitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.evictExpired()
		}
	}
}

func (e *Engine) evictExpired() {
	cutoff := time.Now().Add(-e.opts.Retention)

	e.mu.Lock()
	defer e.mu.Unlock()

	evicted := 0
	for id, entry := range e.jobs {
		entry.mu.Lock()
		expired := entry.job.State.Terminal() && entry.job.FinishedAt != nil && entry.job.FinishedAt.Before(cutoff)
		entry.mu.Unlock()

		if expired {
			delete(e.jobs, id)
			evicted++
		}
	}

	if evicted > 0 {
		log.Printf("Evicted %d expired jobs", evicted)
	}
}
