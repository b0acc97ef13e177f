package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type ReportRepository struct {
	db *gorm.DB
}

func NewReportRepository(db *gorm.DB) *ReportRepository {
	return &ReportRepository{db: db}
}

func (r *ReportRepository) Create(report *model.FinalReport) error {
	return r.db.Create(report).Error
}

func (r *ReportRepository) LatestByRun(runID int64) (*model.FinalReport, error) {
	var report model.FinalReport
	err := r.db.Where("run_id = ?", runID).
		Order("created_at DESC, id DESC").
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

// LatestByScope 去年总结作为 Stage 4 的可选输入
func (r *ReportRepository) LatestByScope(org, username string, year int) (*model.FinalReport, error) {
	var report model.FinalReport
	err := r.db.Where("org = ? AND username = ? AND year = ?", org, username, year).
		Order("created_at DESC, id DESC").
		First(&report).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &report, nil
}

func (r *ReportRepository) DeleteByRunIDs(runIDs []int64) error {
	if len(runIDs) == 0 {
		return nil
	}
	return r.db.Where("run_id IN ?", runIDs).Delete(&model.FinalReport{}).Error
}

func (r *ReportRepository) DeleteByScope(org, username string, year int) error {
	return r.db.Where("org = ? AND username = ? AND year = ?", org, username, year).
		Delete(&model.FinalReport{}).Error
}
