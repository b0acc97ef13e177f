package worker

import (
	"context"
	"log"
	"time"

	"github.com/coolwithyou/review_go_server/internal/model"
	"github.com/coolwithyou/review_go_server/internal/pkg/pubsub"
	"github.com/coolwithyou/review_go_server/internal/repository"
)

const (
	janitorInterval = 5 * time.Minute
	// 进行中的 run 每个阶段都会频繁更新进度，
	// 超过这个时间没动静基本可以断定 worker 进程死了
	staleThreshold = 30 * time.Minute
)

// Janitor 后台巡检：把僵死的 run 标记为失败，用户可以选择 RESUME 续跑
type Janitor struct {
	runRepo   *repository.RunRepository
	publisher *pubsub.Publisher
}

// NewJanitor 创建巡检器
func NewJanitor(runRepo *repository.RunRepository, publisher *pubsub.Publisher) *Janitor {
	return &Janitor{runRepo: runRepo, publisher: publisher}
}

// Start 启动巡检循环
func (j *Janitor) Start(ctx context.Context) {
	// 启动后先执行一次
	j.run(ctx)

	ticker := time.NewTicker(janitorInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("Janitor stopped")
			return
		case <-ticker.C:
			j.run(ctx)
		}
	}
}

func (j *Janitor) run(ctx context.Context) {
	runs, err := j.runRepo.StaleActiveRuns(staleThreshold)
	if err != nil {
		log.Printf("Janitor: failed to query stale runs: %v", err)
		return
	}
	if len(runs) == 0 {
		return
	}

	log.Printf("Janitor: found %d stale runs", len(runs))
	for _, run := range runs {
		if err := j.runRepo.SetFailed(run.ID, "任务长时间无进展，已标记失败，可选择恢复模式重试"); err != nil {
			log.Printf("Janitor: failed to mark run %d: %v", run.ID, err)
			continue
		}
		j.publisher.PublishProgress(ctx, &pubsub.ProgressMessage{
			RunID:  run.ID,
			Status: model.RunStatusFailed,
			Error:  "任务长时间无进展，已标记失败",
		})
		log.Printf("Janitor: marked stale run %d as failed (stuck in %s)", run.ID, run.Status)
	}
}
