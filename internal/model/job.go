package model

import (
	"time"
)

type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
	StateCancelled JobState = "cancelled"
)

// Terminal 是否为终态
func (s JobState) Terminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// Job 一次研究请求的完整生命周期记录。
// 仅由 engine 持有并修改，对外暴露的都是值拷贝快照。
type Job struct {
	ID           string          `json:"job_id"`
	Query        string          `json:"query"`
	State        JobState        `json:"status"`
	CurrentStage string          `json:"current_stage,omitempty"`
	Progress     int             `json:"progress"`
	Result       *ResearchOutput `json:"data,omitempty"`
	Error        string          `json:"error,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	FinishedAt   *time.Time      `json:"completed_at,omitempty"`
}
