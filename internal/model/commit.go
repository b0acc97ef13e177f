package model

import (
	"time"
)

// Repository 组织下的一个仓库
type Repository struct {
	ID            int64      `gorm:"primaryKey" json:"id"`
	Org           string     `gorm:"size:100;not null;uniqueIndex:idx_org_name" json:"org"`
	Name          string     `gorm:"size:200;not null;uniqueIndex:idx_org_name" json:"name"`
	FullName      string     `gorm:"size:300;not null" json:"full_name"`
	DefaultBranch string     `gorm:"size:100" json:"default_branch"`
	Archived      bool       `gorm:"default:false" json:"archived"`
	PushedAt      *time.Time `json:"pushed_at,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

func (Repository) TableName() string {
	return "repositories"
}

// Commit 抓取后不可变的提交事实。(repo_id, sha) 唯一，重复抓取走幂等 upsert。
type Commit struct {
	ID          int64          `gorm:"primaryKey" json:"id"`
	RepoID      int64          `gorm:"not null;uniqueIndex:idx_repo_sha" json:"repo_id"`
	SHA         string         `gorm:"size:64;not null;uniqueIndex:idx_repo_sha" json:"sha"`
	Org         string         `gorm:"size:100;not null;index" json:"org"`
	Author      string         `gorm:"size:100;not null;index" json:"author"`
	Message     string         `gorm:"type:text" json:"message"`
	CommittedAt time.Time      `gorm:"not null;index" json:"committed_at"`
	Additions   int            `json:"additions"`
	Deletions   int            `json:"deletions"`
	Files       FileChangeList `gorm:"type:json" json:"files"`
	CreatedAt   time.Time      `json:"created_at"`
}

func (Commit) TableName() string {
	return "commits"
}
