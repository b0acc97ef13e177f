package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/analyzer/sampling"
	"github.com/coolwithyou/review_go_server/internal/analyzer/stages"
	"github.com/coolwithyou/review_go_server/internal/database"
	"github.com/coolwithyou/review_go_server/internal/pkg/github"
	"github.com/coolwithyou/review_go_server/internal/pkg/llm"
	"github.com/coolwithyou/review_go_server/internal/pkg/oss"
	"github.com/coolwithyou/review_go_server/internal/pkg/pubsub"
	"github.com/coolwithyou/review_go_server/internal/pkg/queue"
	"github.com/coolwithyou/review_go_server/internal/repository"
	"github.com/coolwithyou/review_go_server/internal/worker"
)

func main() {
	// 加载配置
	cfg, err := config.Load("config.yaml")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库
	db, err := database.NewMySQL(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	// 初始化 Redis
	rdb, err := database.NewRedis(&cfg.Redis)
	if err != nil {
		log.Fatalf("Failed to connect redis: %v", err)
	}
	log.Println("Redis connected")

	// 初始化 OSS（可选，未配置时报告落盘本地）
	var ossClient *oss.Client
	if cfg.OSS.Endpoint != "" && cfg.OSS.AccessKeyID != "" {
		ossClient, err = oss.NewClient(&cfg.OSS)
		if err != nil {
			log.Printf("Warning: Failed to init OSS client: %v", err)
		} else {
			log.Println("OSS client initialized")
		}
	}

	// 初始化 Queue 和 Pub/Sub
	runQueue := queue.NewQueue(rdb, cfg.Queue.RunQueue)
	publisher := pubsub.NewPublisher(rdb)

	// 初始化 Repository
	runRepo := repository.NewRunRepository(db)
	repoRepo := repository.NewRepoRepository(db)
	commitRepo := repository.NewCommitRepository(db)
	unitRepo := repository.NewWorkUnitRepository(db)
	stageRepo := repository.NewStageRepository(db)
	samplingRepo := repository.NewSamplingRepository(db)
	reportRepo := repository.NewReportRepository(db)

	// 外部客户端
	ghClient := github.NewClient(&cfg.GitHub)
	llmClient := llm.NewClient(&cfg.LLM)

	// 流水线组件
	scanner := worker.NewScanner(ghClient, runRepo, repoRepo, commitRepo, publisher,
		cfg.Analysis.Scanner, cfg.GitHub.IncludeArchived)
	resumer := worker.NewResumeController(runRepo, commitRepo, unitRepo, stageRepo, samplingRepo, reportRepo)
	sampler := sampling.New(llmClient, cfg.Analysis.Sampling)
	engine := stages.NewEngine(llmClient, ghClient, cfg.Analysis.Stage1, cfg.LLM)

	processor := worker.NewProcessor(
		runRepo, repoRepo, commitRepo, unitRepo, stageRepo, samplingRepo, reportRepo,
		scanner, resumer, sampler, engine,
		runQueue, publisher, ossClient, cfg,
	)

	// 创建 context 用于优雅关闭
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 监听退出信号
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()
	}()

	// 后台巡检僵死任务
	janitor := worker.NewJanitor(runRepo, publisher)
	go janitor.Start(ctx)

	maxWorkers := cfg.Queue.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 1
	}
	log.Printf("Worker started, max workers: %d", maxWorkers)

	var wg sync.WaitGroup
	for i := 0; i < maxWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					log.Printf("Worker %d shutting down", workerID)
					return
				default:
					msg, err := runQueue.Pop(ctx, 5*time.Second)
					if err != nil {
						if ctx.Err() != nil {
							return
						}
						log.Printf("Worker %d: failed to pop message: %v", workerID, err)
						continue
					}
					if msg == nil {
						continue // 超时，继续等待
					}

					log.Printf("Worker %d: processing run %d", workerID, msg.RunID)
					if err := processor.Process(ctx, msg); err != nil {
						log.Printf("Worker %d: run %d failed: %v", workerID, msg.RunID, err)
					}
				}
			}
		}(i)
	}

	wg.Wait()
	log.Println("Worker shutdown complete")
}
