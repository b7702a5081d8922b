package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/qs3c/research_go_server/internal/model"
)

var ErrRecordNotFound = errors.New("归档记录不存在")

// JobRepository 终态任务归档仓库
type JobRepository struct {
	db *gorm.DB
}

func NewJobRepository(db *gorm.DB) *JobRepository {
	return &JobRepository{db: db}
}

func (r *JobRepository) Create(rec *model.JobRecord) error {
	return r.db.Create(rec).Error
}

func (r *JobRepository) GetByJobID(jobID string) (*model.JobRecord, error) {
	var rec model.JobRecord
	err := r.db.Where("job_id = ?", jobID).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrRecordNotFound
		}
		return nil, err
	}
	return &rec, nil
}

// ListRecent 按创建时间倒序取最近的归档记录
func (r *JobRepository) ListRecent(limit int) ([]*model.JobRecord, error) {
	var recs []*model.JobRecord
	err := r.db.Order("created_at DESC").
		Limit(limit).
		Find(&recs).Error
	return recs, err
}

// CountByState 按终态统计归档数量
func (r *JobRepository) CountByState(state string) (int64, error) {
	var count int64
	err := r.db.Model(&model.JobRecord{}).Where("state = ?", state).Count(&count).Error
	return count, err
}

func (r *JobRepository) Count() (int64, error) {
	var count int64
	err := r.db.Model(&model.JobRecord{}).Count(&count).Error
	return count, err
}
