package repository

import (
	"errors"

	"gorm.io/gorm"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type StageRepository struct {
	db *gorm.DB
}

func NewStageRepository(db *gorm.DB) *StageRepository {
	return &StageRepository{db: db}
}

// Create 阶段结果只追加，修正以新行落库
func (r *StageRepository) Create(result *model.StageResult) error {
	return r.db.Create(result).Error
}

// Latest 取某主体某阶段的当前结果（created_at 最新，平局按 id）
func (r *StageRepository) Latest(subjectType string, subjectID int64, stage int) (*model.StageResult, error) {
	var result model.StageResult
	err := r.db.Where("subject_type = ? AND subject_id = ? AND stage = ?",
		subjectType, subjectID, stage).
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

// LatestStage1ByRun 取 run 内每个 WorkUnit 的当前 Stage 1 结果
func (r *StageRepository) LatestStage1ByRun(runID int64) (map[int64]*model.StageResult, error) {
	var rows []*model.StageResult
	err := r.db.Where("run_id = ? AND stage = ? AND subject_type = ?",
		runID, model.StageCodeQuality, model.SubjectWorkUnit).
		Order("created_at ASC, id ASC").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}

	// 升序遍历后留下的即为各主体最新一条
	latest := make(map[int64]*model.StageResult, len(rows))
	for _, row := range rows {
		latest[row.SubjectID] = row
	}
	return latest, nil
}

func (r *StageRepository) DeleteByRunIDs(runIDs []int64) error {
	if len(runIDs) == 0 {
		return nil
	}
	return r.db.Where("run_id IN ?", runIDs).Delete(&model.StageResult{}).Error
}
