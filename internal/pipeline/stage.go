package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/qs3c/research_go_server/internal/model"
)

// Accumulator 在阶段之间传递的中间状态。
// 每个阶段返回一份新的拷贝，不修改输入。
type Accumulator struct {
	Sources    string
	Facts      []model.FactItem
	Opinions   []model.OpinionItem
	Conflicts  []model.ConflictingData
	Summary    string
	Citations  []string
	Evaluation *model.Evaluation
}

// StageFunc 单个研究阶段的实现，输入上一阶段的累积结果
type StageFunc func(ctx context.Context, query string, acc Accumulator) (Accumulator, error)

// StageTimeoutError 阶段超时
type StageTimeoutError struct {
	Stage   string
	Timeout time.Duration
}

func (e *StageTimeoutError) Error() string {
	return fmt.Sprintf("stage %s timed out after %s", e.Stage, e.Timeout)
}

// StageFailureError 阶段本身执行失败
type StageFailureError struct {
	Stage string
	Err   error
}

func (e *StageFailureError) Error() string {
	return fmt.Sprintf("stage %s failed: %v", e.Stage, e.Err)
}

func (e *StageFailureError) Unwrap() error {
	return e.Err
}

// StageRunner 包装单个阶段调用，负责超时控制和错误归一化。
// 不做重试，失败直接向上传递。
type StageRunner struct {
	name    string
	timeout time.Duration
	fn      StageFunc
}

func NewStageRunner(name string, timeout time.Duration, fn StageFunc) *StageRunner {
	return &StageRunner{
		name:    name,
		timeout: timeout,
		fn:      fn,
	}
}

func (r *StageRunner) Name() string {
	return r.name
}

// Run 执行阶段调用。超时或取消后放弃等待：
// 底层调用收到取消信号，若不配合则在后台跑完，结果被丢弃。
func (r *StageRunner) Run(ctx context.Context, query string, acc Accumulator) (Accumulator, error) {
	stageCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	type stageResult struct {
		acc Accumulator
		err error
	}

	// 缓冲为 1，被放弃的调用结束时不会阻塞
	done := make(chan stageResult, 1)

	go func() {
		out, err := r.fn(stageCtx, query, acc)
		done <- stageResult{acc: out, err: err}
	}()

	select {
	case res := <-done:
		if res.err == nil {
			return res.acc, nil
		}
		if ctx.Err() != nil {
			return acc, ctx.Err()
		}
		if stageCtx.Err() == context.DeadlineExceeded {
			return acc, &StageTimeoutError{Stage: r.name, Timeout: r.timeout}
		}
		return acc, &StageFailureError{Stage: r.name, Err: res.err}
	case <-stageCtx.Done():
		if ctx.Err() != nil {
			return acc, ctx.Err()
		}
		return acc, &StageTimeoutError{Stage: r.name, Timeout: r.timeout}
	}
}
