package evallog

import (
	"bufio"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync"
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Record 一次终态任务的评估记录，追加写入，从不修改
type Record struct {
	Timestamp          time.Time `json:"timestamp"`
	Query              string    `json:"query"`
	Outcome            Outcome   `json:"outcome"`
	Score              int       `json:"professor_score,omitempty"`
	Feedback           string    `json:"professor_feedback,omitempty"`
	HallucinationCheck string    `json:"hallucination_check,omitempty"`
	Recommendations    []string  `json:"recommendations,omitempty"`
	DurationMillis     int64     `json:"duration_ms"`
}

// Stats 扫描全部记录得到的聚合统计
type Stats struct {
	TotalRuns      int
	SuccessfulRuns int
	AverageScore   float64 // SuccessfulRuns 为 0 时无意义，保持 0
	MaxScore       int
	MinScore       int
}

// Logger 评估日志，每行一个 JSON 对象。
// 写失败由调用方当作运维问题上报，不影响任务结果。
type Logger struct {
	mu   sync.Mutex
	path string
}

func NewLogger(path string) *Logger {
	return &Logger{path: path}
}

// Append 追加一条评估记录
func (l *Logger) Append(rec *Record) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal eval record: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("failed to open eval log: %w", err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to write eval record: %w", err)
	}
	return nil
}

// Stats 扫描日志文件计算统计。文件不存在按空日志处理，坏行跳过。
func (l *Logger) Stats() (*Stats, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	stats := &Stats{}

	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return stats, nil
		}
		return nil, fmt.Errorf("failed to open eval log: %w", err)
	}
	defer f.Close()

	scoreSum := 0
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		var rec Record
		if err := json.Unmarshal(scanner.Bytes(), &rec); err != nil {
			continue // 忽略坏行
		}

		stats.TotalRuns++
		if rec.Outcome != OutcomeSuccess {
			continue
		}

		stats.SuccessfulRuns++
		scoreSum += rec.Score
		if stats.SuccessfulRuns == 1 || rec.Score > stats.MaxScore {
			stats.MaxScore = rec.Score
		}
		if stats.SuccessfulRuns == 1 || rec.Score < stats.MinScore {
			stats.MinScore = rec.Score
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan eval log: %w", err)
	}

	if stats.SuccessfulRuns > 0 {
		avg := float64(scoreSum) / float64(stats.SuccessfulRuns)
		stats.AverageScore = math.Round(avg*100) / 100
	}

	return stats, nil
}
