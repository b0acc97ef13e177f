package worker

import (
	"context"
	"fmt"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/github"
	"github.com/coolwithyou/review_go_server/internal/pkg/pubsub"
	"github.com/coolwithyou/review_go_server/internal/repository"
)

// Scanner 按组织拉取仓库和提交明细并落库。
// 仓库之间并发扫描，单仓库失败只标记该仓库，不影响其他仓库。
type Scanner struct {
	gh              *github.Client
	runRepo         *repository.RunRepository
	repoRepo        *repository.RepoRepository
	commitRepo      *repository.CommitRepository
	publisher       *pubsub.Publisher
	cfg             config.ScannerConfig
	includeArchived bool
}

func NewScanner(
	gh *github.Client,
	runRepo *repository.RunRepository,
	repoRepo *repository.RepoRepository,
	commitRepo *repository.CommitRepository,
	publisher *pubsub.Publisher,
	cfg config.ScannerConfig,
	includeArchived bool,
) *Scanner {
	return &Scanner{
		gh:              gh,
		runRepo:         runRepo,
		repoRepo:        repoRepo,
		commitRepo:      commitRepo,
		publisher:       publisher,
		cfg:             cfg,
		includeArchived: includeArchived,
	}
}

// SyncRepos 拉取组织仓库列表并 upsert，返回带数据库 ID 的仓库集合
func (s *Scanner) SyncRepos(ctx context.Context, run *model.AnalysisRun) ([]*model.Repository, error) {
	ghRepos, err := s.gh.ListRepos(ctx, run.Org, s.includeArchived)
	if err != nil {
		return nil, fmt.Errorf("list repos for %s: %w", run.Org, err)
	}

	repos := make([]*model.Repository, 0, len(ghRepos))
	for _, gr := range ghRepos {
		repos = append(repos, &model.Repository{
			Org:           run.Org,
			Name:          gr.Name,
			FullName:      gr.FullName,
			DefaultBranch: gr.DefaultBranch,
			Archived:      gr.Archived,
			PushedAt:      gr.PushedAt,
		})
	}
	if err := s.repoRepo.UpsertAll(repos); err != nil {
		return nil, fmt.Errorf("upsert repos: %w", err)
	}

	// upsert 后重新查询拿到主键
	stored, err := s.repoRepo.ListByOrg(run.Org)
	if err != nil {
		return nil, fmt.Errorf("reload repos: %w", err)
	}
	return stored, nil
}

// ScanAll 并发扫描所有待处理仓库的提交。
// progress 里已标记 done 的仓库跳过（断点续扫）。
func (s *Scanner) ScanAll(ctx context.Context, run *model.AnalysisRun, repos []*model.Repository) error {
	pending := make([]*model.Repository, 0, len(repos))
	for _, repo := range repos {
		if rp, ok := run.Progress.Repos[repo.FullName]; ok && rp.Status == model.RepoStatusDone {
			continue
		}
		pending = append(pending, repo)
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].FullName < pending[j].FullName })

	concurrency := s.cfg.RepoConcurrency
	if concurrency <= 0 {
		concurrency = 5
	}

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(concurrency))

	for _, repo := range pending {
		repo := repo
		if err := sem.Acquire(gctx, 1); err != nil {
			break
		}
		g.Go(func() error {
			defer sem.Release(1)
			s.scanRepoWithRetry(gctx, run, repo)
			return gctx.Err()
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// scanRepoWithRetry 单仓库扫描，首次失败后最多重试 maxRetries 次，
// 退避 2s/4s/6s 递增。只有暂时性错误才重试，其余错误立即标记失败。
func (s *Scanner) scanRepoWithRetry(ctx context.Context, run *model.AnalysisRun, repo *model.Repository) {
	maxRetries := s.cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = 3
	}

	s.updateRepoProgress(ctx, run, repo.FullName, func(rp *model.RepoProgress) {
		rp.Status = model.RepoStatusScanning
		rp.Error = ""
	})

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			backoff := time.Duration(attempt) * 2 * time.Second
			log.Printf("Run %d: retry %d/%d for %s after %v", run.ID, attempt, maxRetries, repo.FullName, backoff)
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
		}

		count, detailFailures, err := s.scanRepo(ctx, run, repo)
		if err == nil {
			status := model.RepoStatusDone
			if detailFailures > 0 {
				status = model.RepoStatusPartial
			}
			s.updateRepoProgress(ctx, run, repo.FullName, func(rp *model.RepoProgress) {
				rp.Status = status
				rp.CommitCount = count
				if rp.Users == nil {
					rp.Users = make(map[string]model.UserScanState)
				}
				rp.Users[run.Username] = model.UserScanState{Status: status, CommitCount: count}
			})
			return
		}

		lastErr = err
		if ctx.Err() != nil {
			return
		}
		if !github.IsTransient(err) {
			break
		}
		log.Printf("Run %d: transient error scanning %s: %v", run.ID, repo.FullName, err)
	}

	log.Printf("Run %d: repo %s failed: %v", run.ID, repo.FullName, lastErr)
	s.updateRepoProgress(ctx, run, repo.FullName, func(rp *model.RepoProgress) {
		rp.Status = model.RepoStatusFailed
		rp.Error = lastErr.Error()
	})
}

// scanRepo 拉取一个仓库内目标用户的年度提交，补全文件明细后批量落库。
// 返回落库的提交数和明细拉取失败数。
func (s *Scanner) scanRepo(ctx context.Context, run *model.AnalysisRun, repo *model.Repository) (int, int, error) {
	since := time.Date(run.Year, 1, 1, 0, 0, 0, 0, time.UTC)
	until := time.Date(run.Year+1, 1, 1, 0, 0, 0, 0, time.UTC)

	refs, err := s.gh.ListCommits(ctx, repo.FullName, run.Username, since, until)
	if err != nil {
		return 0, 0, fmt.Errorf("list commits: %w", err)
	}
	if len(refs) == 0 {
		return 0, 0, nil
	}

	detailConcurrency := s.cfg.DetailConcurrency
	if detailConcurrency <= 0 {
		detailConcurrency = 10
	}

	var mu sync.Mutex
	commits := make([]*model.Commit, 0, len(refs))
	detailFailures := 0

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(detailConcurrency)
	for _, ref := range refs {
		ref := ref
		g.Go(func() error {
			detail, err := s.gh.GetCommitDetail(gctx, repo.FullName, ref.SHA)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				// 明细拉不到时退回列表接口的数据，文件列表为空
				if gctx.Err() != nil {
					return gctx.Err()
				}
				log.Printf("Run %d: detail fetch failed for %s@%s: %v", run.ID, repo.FullName, ref.SHA, err)
				detailFailures++
				commits = append(commits, &model.Commit{
					RepoID:      repo.ID,
					SHA:         ref.SHA,
					Org:         run.Org,
					Author:      run.Username,
					Message:     ref.Message,
					CommittedAt: ref.Date,
				})
				return nil
			}

			files := make(model.FileChangeList, 0, len(detail.Files))
			for _, f := range detail.Files {
				files = append(files, model.FileChange{
					Path:      f.Filename,
					Additions: f.Additions,
					Deletions: f.Deletions,
					Status:    f.Status,
				})
			}
			commits = append(commits, &model.Commit{
				RepoID:      repo.ID,
				SHA:         detail.SHA,
				Org:         run.Org,
				Author:      run.Username,
				Message:     detail.Message,
				CommittedAt: detail.Date,
				Additions:   detail.Additions,
				Deletions:   detail.Deletions,
				Files:       files,
			})
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return 0, 0, err
	}

	batchSize := s.cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	for start := 0; start < len(commits); start += batchSize {
		end := start + batchSize
		if end > len(commits) {
			end = len(commits)
		}
		if err := s.commitRepo.BatchUpsert(commits[start:end]); err != nil {
			return 0, 0, fmt.Errorf("upsert commits: %w", err)
		}
	}

	return len(commits), detailFailures, nil
}

// updateRepoProgress read-modify-write 更新单仓库进度并推送
func (s *Scanner) updateRepoProgress(ctx context.Context, run *model.AnalysisRun, fullName string, mutate func(*model.RepoProgress)) {
	progress, err := s.runRepo.UpdateProgress(run.ID, func(p *model.RunProgress) {
		mutate(p.Repo(fullName))

		completed, failed := 0, 0
		for _, rp := range p.Repos {
			switch rp.Status {
			case model.RepoStatusDone, model.RepoStatusPartial:
				completed++
			case model.RepoStatusFailed:
				failed++
			}
		}
		p.Completed = completed
		p.Failed = failed
		p.CurrentRepo = fullName
	})
	if err != nil {
		log.Printf("Run %d: failed to update progress for %s: %v", run.ID, fullName, err)
		return
	}

	s.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
		RunID:       run.ID,
		Status:      run.Status,
		Phase:       pubsub.PhaseScanning,
		CurrentRepo: fullName,
		Message:     fmt.Sprintf("已扫描 %d/%d 个仓库", progress.Completed, progress.Total),
	})
}
