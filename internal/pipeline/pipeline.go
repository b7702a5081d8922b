package pipeline

import (
	"context"
	"log"

	"github.com/qs3c/research_go_server/internal/model"
)

// Observer 接收阶段边界通知。由 engine 实现：
// 更新任务记录并向订阅者推送进度事件。
type Observer interface {
	StageStarted(jobID, stage string)
	StageCompleted(jobID, stage string, progress int)
}

// Pipeline 按固定顺序执行四个研究阶段，把每个阶段的输出
// 作为下一阶段的输入。第一个失败的阶段终止整条流水线。
type Pipeline struct {
	runners []*StageRunner
}

func New(runners ...*StageRunner) *Pipeline {
	return &Pipeline{runners: runners}
}

// Execute 运行整条流水线。取消检查发生在每个阶段边界，
// 取消延迟最多为一个阶段的执行时间。
func (p *Pipeline) Execute(ctx context.Context, jobID, query string, obs Observer) (*model.ResearchOutput, error) {
	acc := Accumulator{}

	for _, runner := range p.runners {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		obs.StageStarted(jobID, runner.Name())
		log.Printf("Job %s: stage %s started", jobID, runner.Name())

		next, err := runner.Run(ctx, query, acc)
		if err != nil {
			return nil, err
		}
		acc = next

		obs.StageCompleted(jobID, runner.Name(), model.StageProgress[runner.Name()])
		log.Printf("Job %s: stage %s completed", jobID, runner.Name())
	}

	return assemble(acc), nil
}

// assemble 把累积结果组装成最终输出
func assemble(acc Accumulator) *model.ResearchOutput {
	out := &model.ResearchOutput{
		Summary:         acc.Summary,
		FactsTable:      acc.Facts,
		OpinionsTable:   acc.Opinions,
		ConflictingData: acc.Conflicts,
		CitationsList:   acc.Citations,
	}
	if acc.Evaluation != nil {
		out.Evaluation = *acc.Evaluation
	}
	return out
}
