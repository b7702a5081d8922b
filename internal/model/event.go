package model

import (
	"time"
)

type EventKind string

const (
	EventStageStarted   EventKind = "stage_started"
	EventStageCompleted EventKind = "stage_completed"
	EventJobCompleted   EventKind = "job_completed"
	EventJobFailed      EventKind = "job_failed"
)

// ProgressEvent 进度事件，只推送不落盘
type ProgressEvent struct {
	JobID     string    `json:"job_id"`
	Stage     string    `json:"stage,omitempty"`
	Kind      EventKind `json:"type"`
	Message   string    `json:"message,omitempty"`
	Progress  int       `json:"progress"`
	Timestamp time.Time `json:"timestamp"`
}

// 四个研究阶段，固定顺序
const (
	StageGather     = "gather"
	StageClassify   = "classify"
	StageSynthesize = "synthesize"
	StageAudit      = "audit"
)

// StageOrder 阶段执行顺序
var StageOrder = []string{StageGather, StageClassify, StageSynthesize, StageAudit}

// 阶段完成后对应的进度百分比
var StageProgress = map[string]int{
	StageGather:     25,
	StageClassify:   50,
	StageSynthesize: 75,
	StageAudit:      100,
}

// 阶段对应的消息
var StageMessages = map[string]string{
	StageGather:     "正在搜索第一手资料",
	StageClassify:   "正在区分事实与观点",
	StageSynthesize: "正在撰写研究报告",
	StageAudit:      "正在进行质量审计",
}
