package repository

import (
	"sort"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type CommitRepository struct {
	db *gorm.DB
}

func NewCommitRepository(db *gorm.DB) *CommitRepository {
	return &CommitRepository{db: db}
}

// BatchUpsert 按 (repo_id, sha) 幂等写入，重复抓取覆盖统计字段但不会丢行
func (r *CommitRepository) BatchUpsert(commits []*model.Commit) error {
	if len(commits) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "repo_id"}, {Name: "sha"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"message", "committed_at", "additions", "deletions", "files",
		}),
	}).Create(&commits).Error
}

// ListByRepoUserYear 按提交时间升序返回，聚类引擎的输入
func (r *CommitRepository) ListByRepoUserYear(repoID int64, username string, year int) ([]*model.Commit, error) {
	start, end := yearRange(year)
	var commits []*model.Commit
	err := r.db.Where("repo_id = ? AND author = ? AND committed_at >= ? AND committed_at < ?",
		repoID, username, start, end).
		Order("committed_at ASC").
		Find(&commits).Error
	return commits, err
}

// CountByRepoUserYear 断点续跑判定用：已有提交的仓库视为扫描完成
func (r *CommitRepository) CountByRepoUserYear(repoID int64, username string, year int) (int64, error) {
	start, end := yearRange(year)
	var count int64
	err := r.db.Model(&model.Commit{}).
		Where("repo_id = ? AND author = ? AND committed_at >= ? AND committed_at < ?",
			repoID, username, start, end).
		Count(&count).Error
	return count, err
}

func (r *CommitRepository) CountByScope(org, username string, year int) (int64, error) {
	start, end := yearRange(year)
	var count int64
	err := r.db.Model(&model.Commit{}).
		Where("org = ? AND author = ? AND committed_at >= ? AND committed_at < ?",
			org, username, start, end).
		Count(&count).Error
	return count, err
}

// DeleteByRepoUserYear RETRY 模式下重扫前清掉失败仓库的旧数据
func (r *CommitRepository) DeleteByRepoUserYear(repoID int64, username string, year int) error {
	start, end := yearRange(year)
	return r.db.Where("repo_id = ? AND author = ? AND committed_at >= ? AND committed_at < ?",
		repoID, username, start, end).
		Delete(&model.Commit{}).Error
}

// DeleteByScope FULL_RESTART 模式下按 (org, user, year) 全量清理
func (r *CommitRepository) DeleteByScope(org, username string, year int) error {
	start, end := yearRange(year)
	return r.db.Where("org = ? AND author = ? AND committed_at >= ? AND committed_at < ?",
		org, username, start, end).
		Delete(&model.Commit{}).Error
}

// MostChangedPaths 仓库近 months 个月内变更最频繁的文件，热点加分用
func (r *CommitRepository) MostChangedPaths(repoID int64, months, limit int) ([]string, error) {
	since := time.Now().AddDate(0, -months, 0)
	var commits []*model.Commit
	err := r.db.Select("files").
		Where("repo_id = ? AND committed_at >= ?", repoID, since).
		Find(&commits).Error
	if err != nil {
		return nil, err
	}

	freq := make(map[string]int)
	for _, c := range commits {
		for _, f := range c.Files {
			freq[f.Path]++
		}
	}

	paths := make([]string, 0, len(freq))
	for p := range freq {
		paths = append(paths, p)
	}
	// 频次相同的按路径排序，保证热点集合可复现
	sort.Slice(paths, func(i, j int) bool {
		if freq[paths[i]] != freq[paths[j]] {
			return freq[paths[i]] > freq[paths[j]]
		}
		return paths[i] < paths[j]
	})
	if len(paths) > limit {
		paths = paths[:limit]
	}
	return paths, nil
}

func yearRange(year int) (time.Time, time.Time) {
	start := time.Date(year, 1, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}
