package testutil

import (
	"context"
	"errors"
	"time"

	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/pipeline"
)

// StubConfig 测试用研究阶段的行为配置
type StubConfig struct {
	Delay   time.Duration // 每个阶段的模拟耗时
	FailAt  string        // 指定阶段返回错误
	Gate    chan struct{} // 非 nil 时每个阶段开始前等待一次放行
	Timeout time.Duration // StageRunner 超时
}

// WithDelay 设置每个阶段的模拟耗时
func WithDelay(d time.Duration) func(*StubConfig) {
	return func(c *StubConfig) {
		c.Delay = d
	}
}

// WithFailAt 指定失败的阶段
func WithFailAt(stage string) func(*StubConfig) {
	return func(c *StubConfig) {
		c.FailAt = stage
	}
}

// WithGate 每个阶段开始前等待放行信号
func WithGate(gate chan struct{}) func(*StubConfig) {
	return func(c *StubConfig) {
		c.Gate = gate
	}
}

// WithStageTimeout 设置 StageRunner 超时
func WithStageTimeout(d time.Duration) func(*StubConfig) {
	return func(c *StubConfig) {
		c.Timeout = d
	}
}

// StubRunners 构造四个确定性的研究阶段，不访问任何外部服务
func StubRunners(opts ...func(*StubConfig)) []*pipeline.StageRunner {
	cfg := &StubConfig{
		Timeout: 5 * time.Second,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	runners := make([]*pipeline.StageRunner, 0, len(model.StageOrder))
	for _, name := range model.StageOrder {
		runners = append(runners, pipeline.NewStageRunner(name, cfg.Timeout, stubStage(cfg, name)))
	}
	return runners
}

func stubStage(cfg *StubConfig, name string) pipeline.StageFunc {
	return func(ctx context.Context, query string, acc pipeline.Accumulator) (pipeline.Accumulator, error) {
		if cfg.Gate != nil {
			select {
			case <-cfg.Gate:
			case <-ctx.Done():
				return acc, ctx.Err()
			}
		}

		if cfg.Delay > 0 {
			select {
			case <-time.After(cfg.Delay):
			case <-ctx.Done():
				return acc, ctx.Err()
			}
		}

		if cfg.FailAt == name {
			return acc, errors.New("stub stage error")
		}

		switch name {
		case model.StageGather:
			acc.Sources = "Title: Example\nURL: https://example.com/a\nContent: " + query
		case model.StageClassify:
			acc.Facts = []model.FactItem{
				{Claim: "fact about " + query, Sources: []string{"https://example.com/a"}, Confidence: "High"},
			}
			acc.Opinions = []model.OpinionItem{
				{Claim: "opinion about " + query, Sources: []string{"https://example.com/a"}, Perspective: "analyst"},
			}
		case model.StageSynthesize:
			acc.Summary = "summary of " + query
			acc.Citations = []string{"https://example.com/a"}
		case model.StageAudit:
			acc.Evaluation = &model.Evaluation{
				Score:              8,
				Feedback:           "solid sourcing",
				HallucinationCheck: "no hallucinations detected",
				Recommendations:    []string{"broaden sources", "add recent data", "verify statistics"},
			}
		}
		return acc, nil
	}
}
