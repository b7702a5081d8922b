package research

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/qs3c/research_go_server/internal/model"
	"github.com/qs3c/research_go_server/internal/pipeline"
)

// StageSet 四个研究阶段的具体实现。
// 阶段内容对 pipeline 是不透明的，这里只负责调外部服务。
type StageSet struct {
	search *SearchClient
	llm    *LLMClient
}

func NewStageSet(search *SearchClient, llm *LLMClient) *StageSet {
	return &StageSet{
		search: search,
		llm:    llm,
	}
}

// Runners 按固定顺序构造四个 StageRunner
func (s *StageSet) Runners(timeout time.Duration) []*pipeline.StageRunner {
	return []*pipeline.StageRunner{
		pipeline.NewStageRunner(model.StageGather, timeout, s.Gather),
		pipeline.NewStageRunner(model.StageClassify, timeout, s.Classify),
		pipeline.NewStageRunner(model.StageSynthesize, timeout, s.Synthesize),
		pipeline.NewStageRunner(model.StageAudit, timeout, s.Audit),
	}
}

// Gather 搜索第一手资料并整理成资料块
func (s *StageSet) Gather(ctx context.Context, query string, acc pipeline.Accumulator) (pipeline.Accumulator, error) {
	results, err := s.search.Search(ctx, query)
	if err != nil {
		return acc, err
	}
	if len(results) == 0 {
		return acc, fmt.Errorf("no search results for query")
	}

	acc.Sources = FormatSources(results)
	return acc, nil
}

// FormatSources 把搜索结果整理成给后续阶段的资料块
func FormatSources(results []SearchResult) string {
	blocks := make([]string, 0, len(results))
	for _, r := range results {
		blocks = append(blocks, fmt.Sprintf("Title: %s\nURL: %s\nContent: %s\n", r.Title, r.URL, r.Content))
	}
	return strings.Join(blocks, "\n---\n")
}

const classifySystem = `You are an expert at distinguishing facts from opinions.
Analyze the research data provided and categorize every claim.
For facts: include verifiable claims with sources and a confidence level (High/Medium/Low).
For opinions: include subjective claims with sources and perspective type.
Identify any conflicting data or contradictory claims.
Be rigorous and objective in your categorization.
Respond with a single JSON object: {"facts_table": [{"claim", "sources", "confidence"}], "opinions_table": [{"claim", "sources", "perspective"}], "conflicting_data": [{"topic", "conflicting_claims", "sources"}]}.`

type classifyOutput struct {
	Facts     []model.FactItem        `json:"facts_table"`
	Opinions  []model.OpinionItem     `json:"opinions_table"`
	Conflicts []model.ConflictingData `json:"conflicting_data"`
}

// Classify 区分事实与观点，标记矛盾信息
func (s *StageSet) Classify(ctx context.Context, query string, acc pipeline.Accumulator) (pipeline.Accumulator, error) {
	user := fmt.Sprintf("Research query: %s\n\nSources:\n%s", query, acc.Sources)

	var out classifyOutput
	if err := s.llm.CompletionJSON(ctx, classifySystem, user, &out); err != nil {
		return acc, err
	}

	acc.Facts = out.Facts
	acc.Opinions = out.Opinions
	acc.Conflicts = out.Conflicts
	return acc, nil
}

const synthesizeSystem = `You are a skilled research synthesizer who creates clear, scannable reports.
Write a concise executive summary (2-3 paragraphs) of the research.
Highlight any conflicting data or uncertainties.
Include a comprehensive citations list with all source URLs.
Maintain objectivity and acknowledge limitations.
Respond with a single JSON object: {"summary": "...", "citations_list": ["url", ...]}.`

type synthesizeOutput struct {
	Summary   string   `json:"summary"`
	Citations []string `json:"citations_list"`
}

// Synthesize 撰写报告摘要并产出引用列表
func (s *StageSet) Synthesize(ctx context.Context, query string, acc pipeline.Accumulator) (pipeline.Accumulator, error) {
	user := fmt.Sprintf("Research query: %s\n\nSources:\n%s\n\nFacts: %s\n\nOpinions: %s",
		query, acc.Sources, formatClaims(acc.Facts), formatOpinions(acc.Opinions))

	var out synthesizeOutput
	if err := s.llm.CompletionJSON(ctx, synthesizeSystem, user, &out); err != nil {
		return acc, err
	}

	acc.Summary = out.Summary
	acc.Citations = out.Citations
	return acc, nil
}

const auditSystem = `You are a rigorous academic auditor evaluating research quality.
Grade the research report on a scale of 1-10 based on:
- accuracy and credibility of sources
- clarity of fact vs opinion distinction
- completeness of coverage
- identification of conflicting data
- quality of citations
Check for potential hallucinations or unsupported claims.
Provide specific, actionable feedback and at least 3 recommendations.
Respond with a single JSON object: {"score": 1-10, "feedback": "...", "hallucination_check": "...", "recommendations": ["...", "...", "..."]}.`

// Audit 质量审计，输出 1-10 评分和改进建议
func (s *StageSet) Audit(ctx context.Context, query string, acc pipeline.Accumulator) (pipeline.Accumulator, error) {
	user := fmt.Sprintf("Research query: %s\n\nSummary:\n%s\n\nCitations: %s\n\nFacts: %s",
		query, acc.Summary, strings.Join(acc.Citations, ", "), formatClaims(acc.Facts))

	var eval model.Evaluation
	if err := s.llm.CompletionJSON(ctx, auditSystem, user, &eval); err != nil {
		return acc, err
	}

	if eval.Score < 1 {
		eval.Score = 1
	}
	if eval.Score > 10 {
		eval.Score = 10
	}

	acc.Evaluation = &eval
	return acc, nil
}

func formatClaims(facts []model.FactItem) string {
	lines := make([]string, 0, len(facts))
	for _, f := range facts {
		lines = append(lines, fmt.Sprintf("- %s (%s)", f.Claim, f.Confidence))
	}
	return strings.Join(lines, "\n")
}

func formatOpinions(opinions []model.OpinionItem) string {
	lines := make([]string, 0, len(opinions))
	for _, o := range opinions {
		lines = append(lines, fmt.Sprintf("- %s (%s)", o.Claim, o.Perspective))
	}
	return strings.Join(lines, "\n")
}
