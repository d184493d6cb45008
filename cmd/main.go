package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/app/server"
	glog "github.com/cloudwego/hertz/pkg/common/hlog"
	hertzadapter "github.com/hertz-contrib/logger/zerolog"
	hertztracing "github.com/hertz-contrib/obs-opentelemetry/tracing"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/analysis"
	"github.com/xiaodongyu/Job-fit-engine/internal/api/handler"
	"github.com/xiaodongyu/Job-fit-engine/internal/api/router"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/extraction"
	applogger "github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/parser"
	"github.com/xiaodongyu/Job-fit-engine/internal/pipeline"
	"github.com/xiaodongyu/Job-fit-engine/internal/ratelimit"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

func main() {
	// .env里通常放GEMINI_API_KEY，文件不存在不算错
	_ = godotenv.Load()

	var configPath string
	var samplePath string
	pflag.StringVarP(&configPath, "config", "c", "", "配置文件路径，留空时按默认位置查找")
	pflag.StringVar(&samplePath, "create-sample-config", "", "生成示例配置文件到指定路径后退出")
	pflag.Parse()

	if samplePath != "" {
		if err := config.CreateSampleConfig(samplePath); err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		return
	}

	// 1. 加载配置
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		glog.Fatalf("加载配置失败: %v", err)
	}

	// 2. 初始化日志：业务日志走zerolog，hertz框架日志通过适配器走同一出口
	applogger.Init(applogger.Config{
		Level:        cfg.Logger.Level,
		Format:       cfg.Logger.Format,
		TimeFormat:   cfg.Logger.TimeFormat,
		ReportCaller: cfg.Logger.ReportCaller,
	})
	glog.SetLogger(hertzadapter.From(applogger.Logger))
	glog.SetLevel(hlogLevel(cfg.Logger.Level))
	glog.Info("配置加载成功")

	ctx := context.Background()

	// 3. 初始化链路追踪
	shutdownTracing, err := tracing.InitProvider(ctx, tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		Endpoint:    cfg.Tracing.Endpoint,
		ServiceName: cfg.Tracing.ServiceName,
		SampleRatio: cfg.Tracing.SampleRatio,
	})
	if err != nil {
		glog.Fatalf("初始化链路追踪失败: %v", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			glog.Warnf("链路追踪关闭失败: %v", err)
		}
	}()

	// 4. Gemini客户端：embedding和生成各一个，生成侧套QPM限流
	embedder, err := parser.NewGeminiEmbedder(cfg.Gemini.APIKey, cfg.Gemini.Embedding)
	if err != nil {
		glog.Fatalf("初始化Gemini Embedder失败: %v", err)
	}

	var modelOpts []agent.GeminiModelOption
	if cfg.Extractor.Temperature > 0 {
		modelOpts = append(modelOpts, agent.WithTemperature(cfg.Extractor.Temperature))
	}
	if cfg.Extractor.MaxTokens > 0 {
		modelOpts = append(modelOpts, agent.WithMaxTokens(cfg.Extractor.MaxTokens))
	}
	chatModel, err := agent.NewGeminiChatModel(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.APIURL, modelOpts...)
	if err != nil {
		glog.Fatalf("初始化Gemini聊天模型失败: %v", err)
	}
	limitedModel := ratelimit.NewLimitedChatModel(chatModel, cfg.Gemini.QPM)

	gen, err := agent.NewGenerator(limitedModel, cfg.Extractor)
	if err != nil {
		glog.Fatalf("初始化结构化生成器失败: %v", err)
	}

	// 5. 会话存储与向量索引
	store, err := session.NewStore(cfg.Data.Dir)
	if err != nil {
		glog.Fatalf("初始化会话存储失败: %v", err)
	}
	index, err := vecindex.NewManager(cfg.Data.Dir, embedder,
		vecindex.WithChunking(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap))
	if err != nil {
		glog.Fatalf("初始化向量索引失败: %v", err)
	}

	// 6. 简历处理管线
	clusterer, err := cluster.NewClusterer(gen)
	if err != nil {
		glog.Fatalf("初始化聚类器失败: %v", err)
	}
	pipe, err := pipeline.NewService(store, extraction.NewExtractor(gen), index, clusterer, cfg.Pipeline)
	if err != nil {
		glog.Fatalf("初始化处理管线失败: %v", err)
	}
	glog.Infof("处理管线启动成功，工作协程数: %d", cfg.Pipeline.Workers)

	// 7. 上传解析、JD抓取和分析服务
	files, err := parser.NewFileParser(ctx)
	if err != nil {
		glog.Fatalf("初始化文件解析器失败: %v", err)
	}
	fetcher := parser.NewLinkedInFetcher(
		parser.WithFetchTimeout(time.Duration(cfg.Fetch.TimeoutSeconds)*time.Second),
		parser.WithFetchQPM(cfg.Fetch.QPM),
	)
	svc, err := analysis.NewService(index, store, gen, clusterer, pipe, fetcher,
		analysis.WithTopK(cfg.Pipeline.TopK))
	if err != nil {
		glog.Fatalf("初始化分析服务失败: %v", err)
	}

	// 8. HTTP服务器：otel server tracer + 访问日志 + 路由
	tracer, tracerCfg := hertztracing.NewServerTracer()
	h := server.New(
		server.WithHostPorts(cfg.Server.Address),
		server.WithHandleMethodNotAllowed(true),
		tracer,
	)
	h.Use(hertztracing.ServerMiddleware(tracerCfg))
	h.Use(func(c context.Context, ctx *app.RequestContext) {
		glog.CtxInfof(c, "Request: %s %s", string(ctx.Method()), string(ctx.Path()))
		ctx.Next(c)
		glog.CtxInfof(c, "Response: status %d", ctx.Response.StatusCode())
	})

	router.RegisterRoutes(h, cfg.Server.AdminToken,
		handler.NewResumeHandler(pipe, store, index, files),
		handler.NewAnalysisHandler(svc),
		handler.NewJDHandler(index))
	glog.Infof("HTTP服务器启动中，监听地址: %s", cfg.Server.Address)

	go func() {
		if err := h.Run(); err != nil {
			glog.Fatalf("启动HTTP服务器失败: %v", err)
		}
	}()

	// 9. 等待终止信号后优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	glog.Info("接收到终止信号，正在优雅退出...")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := h.Shutdown(shutdownCtx); err != nil {
		glog.Errorf("服务器关闭失败: %v", err)
	}
	pipe.Close()
	glog.Info("优雅退出完成")
}

// hlogLevel 把配置里的日志级别映射到hertz的hlog级别
func hlogLevel(level string) glog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return glog.LevelDebug
	case "warn":
		return glog.LevelWarn
	case "error":
		return glog.LevelError
	default:
		return glog.LevelInfo
	}
}
