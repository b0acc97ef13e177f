package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/coolwithyou/review_go_server/config"
	"github.com/coolwithyou/review_go_server/internal/api"
	"github.com/coolwithyou/review_go_server/internal/api/handler"
	"github.com/coolwithyou/review_go_server/internal/database"
	"github.com/coolwithyou/review_go_server/internal/pkg/pubsub"
	"github.com/coolwithyou/review_go_server/internal/pkg/queue"
	"github.com/coolwithyou/review_go_server/internal/pkg/ws"
	"github.com/coolwithyou/review_go_server/internal/repository"
	"github.com/coolwithyou/review_go_server/internal/service"
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

	// 初始化 Queue
	runQueue := queue.NewQueue(rdb, cfg.Queue.RunQueue)

	// 初始化 WebSocket Hub
	wsHub := ws.NewHub()

	// 初始化 Repository
	runRepo := repository.NewRunRepository(db)
	commitRepo := repository.NewCommitRepository(db)
	unitRepo := repository.NewWorkUnitRepository(db)
	stageRepo := repository.NewStageRepository(db)
	samplingRepo := repository.NewSamplingRepository(db)
	reportRepo := repository.NewReportRepository(db)

	// 初始化 Service
	runService := service.NewRunService(runRepo, commitRepo, unitRepo, stageRepo, samplingRepo, reportRepo, runQueue, cfg)

	// 初始化 Handler
	runHandler := handler.NewRunHandler(runService)
	websocketHandler := handler.NewWebSocketHandler(wsHub, cfg.JWT.Secret)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 订阅 worker 的进度推送，转发给对应 run 的 WebSocket 订阅者
	subscriber := pubsub.NewSubscriber(rdb)
	go func() {
		err := subscriber.Subscribe(ctx, func(msg *pubsub.ProgressMessage) {
			wsHub.SendToRun(msg.RunID, &ws.Message{Type: msg.Type, Data: msg})
		})
		if err != nil && ctx.Err() == nil {
			log.Printf("Progress subscription stopped: %v", err)
		}
	}()
	log.Println("Progress relay started")

	// 初始化 Router
	router := api.NewRouter(runHandler, websocketHandler, cfg)
	engine := router.Setup()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{Addr: addr, Handler: engine}

	// 监听退出信号，优雅关闭
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		log.Println("Received shutdown signal")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	log.Printf("Server starting on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Failed to start server: %v", err)
	}
	log.Println("Server shutdown complete")
}
