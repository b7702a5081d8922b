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

	"github.com/joho/godotenv"

	"github.com/qs3c/research_go_server/config"
	"github.com/qs3c/research_go_server/internal/api"
	"github.com/qs3c/research_go_server/internal/api/handler"
	"github.com/qs3c/research_go_server/internal/database"
	"github.com/qs3c/research_go_server/internal/engine"
	"github.com/qs3c/research_go_server/internal/pipeline"
	"github.com/qs3c/research_go_server/internal/pkg/broadcast"
	"github.com/qs3c/research_go_server/internal/pkg/evallog"
	"github.com/qs3c/research_go_server/internal/repository"
	"github.com/qs3c/research_go_server/internal/research"
)

func main() {
	// .env 里放 API Key，不提交到 git
	if err := godotenv.Load(); err == nil {
		log.Println("Loaded .env")
	}

	// 加载配置
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// 初始化数据库（任务归档）
	db, err := database.New(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect database: %v", err)
	}
	log.Println("Database connected")

	jobRepo := repository.NewJobRepository(db)

	// 评估日志
	evalLogger := evallog.NewLogger(cfg.Eval.LogFile)

	// 事件广播
	broadcaster := broadcast.NewBroadcaster()

	// 研究阶段：Tavily 搜索 + LLM 分析
	searchClient := research.NewSearchClient(cfg.Research.TavilyAPIKey, cfg.Research.TavilyBaseURL, cfg.Research.MaxResults)
	llmClient := research.NewLLMClient(cfg.Research.OpenAIAPIKey, cfg.Research.OpenAIBaseURL, cfg.Research.Model)
	stages := research.NewStageSet(searchClient, llmClient)

	stageTimeout := time.Duration(cfg.Stage.TimeoutSeconds) * time.Second
	pipe := pipeline.New(stages.Runners(stageTimeout)...)

	// 任务引擎
	eng := engine.New(pipe, broadcaster, evalLogger, jobRepo, engine.Options{
		MaxConcurrentJobs: cfg.Engine.MaxConcurrentJobs,
		Retention:         time.Duration(cfg.Engine.RetentionMinutes) * time.Minute,
		JanitorInterval:   time.Duration(cfg.Engine.JanitorSeconds) * time.Second,
	})
	eng.Start()

	// 初始化 Handler 和 Router
	researchHandler := handler.NewResearchHandler(eng, broadcaster, evalLogger, jobRepo)
	websocketHandler := handler.NewWebSocketHandler(eng, broadcaster)
	router := api.NewRouter(researchHandler, websocketHandler, cfg)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router.Setup(),
	}

	go func() {
		log.Printf("Server starting on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// 优雅退出：先停 HTTP，再取消所有未完成任务
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutdown signal received")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server shutdown failed: %v", err)
	}

	eng.Stop()
	log.Println("Server exited")
}
