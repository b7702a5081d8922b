package model

import (
	"encoding/json"
	"time"
)

// JobRecord 终态任务的归档记录。
// 内存中的 Job 过了保留窗口会被清理，列表查询靠这张表。
type JobRecord struct {
	ID             int64     `gorm:"primaryKey" json:"id"`
	JobID          string    `gorm:"size:36;uniqueIndex;not null" json:"job_id"`
	Query          string    `gorm:"type:text;not null" json:"query"`
	State          string    `gorm:"size:20;not null;index" json:"status"`
	ErrorMessage   string    `gorm:"type:text" json:"error_message,omitempty"`
	ResultJSON     string    `gorm:"type:text" json:"-"`
	CreatedAt      time.Time `gorm:"index" json:"created_at"`
	FinishedAt     time.Time `json:"completed_at"`
	ElapsedSeconds int       `json:"elapsed_seconds"`
}

func (JobRecord) TableName() string {
	return "research_jobs"
}

// NewJobRecord 从终态 Job 快照构造归档记录
func NewJobRecord(job Job) *JobRecord {
	rec := &JobRecord{
		JobID:        job.ID,
		Query:        job.Query,
		State:        string(job.State),
		ErrorMessage: job.Error,
		CreatedAt:    job.CreatedAt,
	}

	if job.FinishedAt != nil {
		rec.FinishedAt = *job.FinishedAt
		rec.ElapsedSeconds = int(job.FinishedAt.Sub(job.CreatedAt).Seconds())
	}

	if job.Result != nil {
		if data, err := json.Marshal(job.Result); err == nil {
			rec.ResultJSON = string(data)
		}
	}

	return rec
}

// Result 反序列化归档的研究结果，失败或无结果时返回 nil
func (r *JobRecord) Result() *ResearchOutput {
	if r.ResultJSON == "" {
		return nil
	}
	var out ResearchOutput
	if err := json.Unmarshal([]byte(r.ResultJSON), &out); err != nil {
		return nil
	}
	return &out
}
