package repository

import (
	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type WorkUnitRepository struct {
	db *gorm.DB
}

func NewWorkUnitRepository(db *gorm.DB) *WorkUnitRepository {
	return &WorkUnitRepository{db: db}
}

func (r *WorkUnitRepository) BatchCreate(units []*model.WorkUnit) error {
	if len(units) == 0 {
		return nil
	}
	return r.db.Create(&units).Error
}

func (r *WorkUnitRepository) ListByRun(runID int64) ([]*model.WorkUnit, error) {
	var units []*model.WorkUnit
	err := r.db.Where("run_id = ?", runID).Order("repo_id ASC, start_at ASC").Find(&units).Error
	return units, err
}

func (r *WorkUnitRepository) ListSampledByRun(runID int64) ([]*model.WorkUnit, error) {
	var units []*model.WorkUnit
	err := r.db.Where("run_id = ? AND is_sampled = ?", runID, true).
		Order("impact_score DESC").
		Find(&units).Error
	return units, err
}

func (r *WorkUnitRepository) CountByRun(runID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.WorkUnit{}).Where("run_id = ?", runID).Count(&count).Error
	return count, err
}

func (r *WorkUnitRepository) CountSampledByRun(runID int64) (int64, error) {
	var count int64
	err := r.db.Model(&model.WorkUnit{}).
		Where("run_id = ? AND is_sampled = ?", runID, true).
		Count(&count).Error
	return count, err
}

// MarkSampled 写回采样标记和原因
func (r *WorkUnitRepository) MarkSampled(id int64, reason, category string) error {
	return r.db.Model(&model.WorkUnit{}).Where("id = ?", id).Updates(map[string]interface{}{
		"is_sampled":        true,
		"sampling_reason":   reason,
		"sampling_category": category,
	}).Error
}

// ClearSampling 重新采样前清除旧标记
func (r *WorkUnitRepository) ClearSampling(runID int64) error {
	return r.db.Model(&model.WorkUnit{}).Where("run_id = ?", runID).Updates(map[string]interface{}{
		"is_sampled":        false,
		"sampling_reason":   "",
		"sampling_category": "",
	}).Error
}

func (r *WorkUnitRepository) DeleteByRun(runID int64) error {
	return r.db.Where("run_id = ?", runID).Delete(&model.WorkUnit{}).Error
}

// DeleteByRunIDs 级联清理（FULL_RESTART）
func (r *WorkUnitRepository) DeleteByRunIDs(runIDs []int64) error {
	if len(runIDs) == 0 {
		return nil
	}
	return r.db.Where("run_id IN ?", runIDs).Delete(&model.WorkUnit{}).Error
}
