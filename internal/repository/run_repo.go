package repository

import (
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type RunRepository struct {
	db *gorm.DB
}

func NewRunRepository(db *gorm.DB) *RunRepository {
	return &RunRepository{db: db}
}

func (r *RunRepository) Create(run *model.AnalysisRun) error {
	return r.db.Create(run).Error
}

func (r *RunRepository) GetByID(id int64) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := r.db.Where("id = ?", id).First(&run).Error
	if err != nil {
		return nil, err
	}
	return &run, nil
}

// List 分页列表，status 为空时不过滤
func (r *RunRepository) List(page, pageSize int, status string) ([]*model.AnalysisRun, int64, error) {
	query := r.db.Model(&model.AnalysisRun{})
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var runs []*model.AnalysisRun
	err := query.Order("created_at DESC").
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Find(&runs).Error
	return runs, total, err
}

func (r *RunRepository) Update(run *model.AnalysisRun) error {
	return r.db.Save(run).Error
}

func (r *RunRepository) UpdateStatus(id int64, status string) error {
	return r.db.Model(&model.AnalysisRun{}).Where("id = ?", id).Update("status", status).Error
}

// UpdateProgress 对最新进度做 read-modify-write。
// 行锁内读取最新快照再合并，避免并发仓库扫描互相覆盖。
// SQLite 不支持 SELECT FOR UPDATE，事务串行化已经足够。
func (r *RunRepository) UpdateProgress(id int64, mutate func(*model.RunProgress)) (*model.RunProgress, error) {
	var result model.RunProgress
	err := r.db.Transaction(func(tx *gorm.DB) error {
		query := tx.Where("id = ?", id)
		if tx.Dialector.Name() == "mysql" {
			query = query.Clauses(clause.Locking{Strength: "UPDATE"})
		}
		var run model.AnalysisRun
		if err := query.First(&run).Error; err != nil {
			return err
		}

		mutate(&run.Progress)
		result = run.Progress

		return tx.Model(&model.AnalysisRun{}).Where("id = ?", id).
			Update("progress", run.Progress).Error
	})
	if err != nil {
		return nil, err
	}
	return &result, nil
}

// SetFailed 置失败态并记录错误
func (r *RunRepository) SetFailed(id int64, message string) error {
	return r.db.Model(&model.AnalysisRun{}).Where("id = ?", id).Updates(map[string]interface{}{
		"status":    model.RunStatusFailed,
		"error_msg": message,
	}).Error
}

func (r *RunRepository) Delete(id int64) error {
	return r.db.Delete(&model.AnalysisRun{}, id).Error
}

// ActiveRunIDs 仍处于进行中状态的 run，worker 重启后由巡检任务收尾
func (r *RunRepository) ActiveRunIDs() ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.AnalysisRun{}).
		Where("status IN ?", []string{
			model.RunStatusScanningRepos,
			model.RunStatusScanning,
			model.RunStatusBuildingUnits,
			model.RunStatusReviewing,
			model.RunStatusFinalizing,
		}).
		Pluck("id", &ids).Error
	return ids, err
}

// ActiveByScope 同 (org, user, year) 下未到终态的 run，用于创建前查重
func (r *RunRepository) ActiveByScope(org, username string, year int) (*model.AnalysisRun, error) {
	var run model.AnalysisRun
	err := r.db.
		Where("org = ? AND username = ? AND year = ?", org, username, year).
		Where("status NOT IN ?", []string{
			model.RunStatusDone,
			model.RunStatusFailed,
			model.RunStatusCancelled,
		}).
		First(&run).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &run, nil
}

// StaleActiveRuns 进行中但长时间没有任何更新的 run，视为进程异常退出的遗留
func (r *RunRepository) StaleActiveRuns(olderThan time.Duration) ([]*model.AnalysisRun, error) {
	var runs []*model.AnalysisRun
	err := r.db.
		Where("status IN ?", []string{
			model.RunStatusScanningRepos,
			model.RunStatusScanning,
			model.RunStatusBuildingUnits,
			model.RunStatusReviewing,
			model.RunStatusFinalizing,
		}).
		Where("updated_at < ?", time.Now().Add(-olderThan)).
		Find(&runs).Error
	return runs, err
}

// RunIDsByScope 同 (org, user, year) 下的全部 run id，用于级联清理
func (r *RunRepository) RunIDsByScope(org, username string, year int) ([]int64, error) {
	var ids []int64
	err := r.db.Model(&model.AnalysisRun{}).
		Where("org = ? AND username = ? AND year = ?", org, username, year).
		Pluck("id", &ids).Error
	return ids, err
}
