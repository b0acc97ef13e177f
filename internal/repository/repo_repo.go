package repository

import (
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/coolwithyou/review_go_server/internal/model"
)

type RepoRepository struct {
	db *gorm.DB
}

func NewRepoRepository(db *gorm.DB) *RepoRepository {
	return &RepoRepository{db: db}
}

// UpsertAll 按 (org, name) 幂等写入仓库清单
func (r *RepoRepository) UpsertAll(repos []*model.Repository) error {
	if len(repos) == 0 {
		return nil
	}
	return r.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "org"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"full_name", "default_branch", "archived", "pushed_at",
		}),
	}).Create(&repos).Error
}

func (r *RepoRepository) ListByOrg(org string) ([]*model.Repository, error) {
	var repos []*model.Repository
	err := r.db.Where("org = ?", org).Order("name ASC").Find(&repos).Error
	return repos, err
}

func (r *RepoRepository) GetByID(id int64) (*model.Repository, error) {
	var repo model.Repository
	err := r.db.Where("id = ?", id).First(&repo).Error
	if err != nil {
		return nil, err
	}
	return &repo, nil
}
