package model

// FactItem 可验证的事实条目
type FactItem struct {
	Claim      string   `json:"claim"`
	Sources    []string `json:"sources"`
	Confidence string   `json:"confidence"` // High, Medium, Low
}

// OpinionItem 主观观点条目
type OpinionItem struct {
	Claim       string   `json:"claim"`
	Sources     []string `json:"sources"`
	Perspective string   `json:"perspective"`
}

// ConflictingData 相互矛盾的信息
type ConflictingData struct {
	Topic             string   `json:"topic"`
	ConflictingClaims []string `json:"conflicting_claims"`
	Sources           []string `json:"sources"`
}

// Evaluation 质量审计结果，1-10 评分
type Evaluation struct {
	Score              int      `json:"score"`
	Feedback           string   `json:"feedback"`
	HallucinationCheck string   `json:"hallucination_check"`
	Recommendations    []string `json:"recommendations"`
}

// ResearchOutput 研究流水线的最终结构化输出
type ResearchOutput struct {
	Summary         string            `json:"summary"`
	FactsTable      []FactItem        `json:"facts_table"`
	OpinionsTable   []OpinionItem     `json:"opinions_table"`
	ConflictingData []ConflictingData `json:"conflicting_data"`
	CitationsList   []string          `json:"citations_list"`
	Evaluation      Evaluation        `json:"professor_eval_score"`
}
