package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type SamplingRepository struct {
	db *gorm.DB
}

func NewSamplingRepository(db *gorm.DB) *SamplingRepository {
	return &SamplingRepository{db: db}
}

func (r *SamplingRepository) Create(result *model.SamplingResult) error {
	return r.db.Create(result).Error
}

// LatestByRun 每次 run（或重试）产出一条，取最新
func (r *SamplingRepository) LatestByRun(runID int64) (*model.SamplingResult, error) {
	var result model.SamplingResult
	err := r.db.Where("run_id = ?", runID).
		Order("created_at DESC, id DESC").
		First(&result).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &result, nil
}

func (r *SamplingRepository) DeleteByRunIDs(runIDs []int64) error {
	if len(runIDs) == 0 {
		return nil
	}
	return r.db.Where("run_id IN ?", runIDs).Delete(&model.SamplingResult{}).Error
}
