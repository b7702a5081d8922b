package dto

// SubmitResearchRequest 提交研究请求
type SubmitResearchRequest struct {
	Query string `json:"query" binding:"required,max=2000"`
}

// SubmitResearchResponse 提交研究响应
type SubmitResearchResponse struct {
	JobID     string `json:"job_id"`
	Status    string `json:"status"`
	Message   string `json:"message"`
	CreatedAt string `json:"created_at"`
}

// JobListItem 任务列表项
type JobListItem struct {
	JobID      string `json:"job_id"`
	Status     string `json:"status"`
	Query      string `json:"query"`
	CreatedAt  string `json:"created_at"`
	FinishedAt string `json:"completed_at,omitempty"`
}

// JobListResponse 任务列表响应
type JobListResponse struct {
	Total   int           `json:"total"`
	Showing int           `json:"showing"`
	Jobs    []JobListItem `json:"jobs"`
}

// StatsResponse 评估统计响应
type StatsResponse struct {
	TotalRuns      int     `json:"total_queries"`
	SuccessfulRuns int     `json:"successful_queries"`
	AverageScore   float64 `json:"average_score"`
	HighestScore   int     `json:"highest_score"`
	LowestScore    int     `json:"lowest_score"`
	ActiveJobs     int     `json:"active_jobs"`
}
