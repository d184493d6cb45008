// matchcheck 离线跑一次"单简历对单JD"的按簇匹配，不经过HTTP层。
// 直接在进程内组装解析、抽取、索引、分析全链路，用于排查匹配效果。
//
// 用法:
//
//	go run ./cmd/matchcheck -resume resume.pdf -jd jd.pdf
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/analysis"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/extraction"
	applogger "github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/parser"
	"github.com/xiaodongyu/Job-fit-engine/internal/pipeline"
	"github.com/xiaodongyu/Job-fit-engine/internal/ratelimit"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

// 命令行参数定义
var (
	resumeFile = flag.String("resume", "", "简历文件路径，支持.pdf/.txt (必填)")
	jdFile     = flag.String("jd", "", "JD文件路径，支持.pdf/.txt (必填)")
	configPath = flag.String("config", "", "配置文件路径，留空则用默认值加环境变量")
	maxLen     = flag.Int("maxlen", 120, "证据文本显示的最大字符数，设为-1显示全部")
	showDebug  = flag.Bool("debug", true, "打印检索调试信息")
)

func main() {
	flag.Parse()

	if *resumeFile == "" || *jdFile == "" {
		fmt.Println("错误: 必须同时提供 -resume 和 -jd 文件路径。")
		flag.Usage()
		os.Exit(1)
	}

	if err := run(); err != nil {
		fmt.Printf("错误: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// .env里通常放GEMINI_API_KEY，文件不存在不算错
	_ = godotenv.Load()

	ctx := context.Background()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}

	// 进度走stdout，组件日志压到warn以免刷屏
	applogger.Init(applogger.Config{Level: "warn", Format: cfg.Logger.Format})

	files, err := parser.NewFileParser(ctx)
	if err != nil {
		return fmt.Errorf("创建文件解析器失败: %w", err)
	}

	resumeText, err := readDocument(ctx, files, *resumeFile)
	if err != nil {
		return fmt.Errorf("读取简历失败: %w", err)
	}
	jdText, err := readDocument(ctx, files, *jdFile)
	if err != nil {
		return fmt.Errorf("读取JD失败: %w", err)
	}
	fmt.Printf("简历: %s (%d 字符)\n", *resumeFile, len(resumeText))
	fmt.Printf("JD:   %s (%d 字符)\n", *jdFile, len(jdText))

	// 组装与服务进程相同的处理链路
	embedder, err := parser.NewGeminiEmbedder(cfg.Gemini.APIKey, cfg.Gemini.Embedding)
	if err != nil {
		return fmt.Errorf("创建嵌入器失败: %w", err)
	}
	chatModel, err := agent.NewGeminiChatModel(cfg.Gemini.APIKey, cfg.Gemini.Model, cfg.Gemini.APIURL)
	if err != nil {
		return fmt.Errorf("创建聊天模型失败: %w", err)
	}
	gen, err := agent.NewGenerator(ratelimit.NewLimitedChatModel(chatModel, cfg.Gemini.QPM), cfg.Extractor)
	if err != nil {
		return fmt.Errorf("创建生成器失败: %w", err)
	}

	store, err := session.NewStore(cfg.Data.Dir)
	if err != nil {
		return fmt.Errorf("创建会话存储失败: %w", err)
	}
	index, err := vecindex.NewManager(cfg.Data.Dir, embedder,
		vecindex.WithChunking(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap))
	if err != nil {
		return fmt.Errorf("创建向量索引失败: %w", err)
	}
	clusterer, err := cluster.NewClusterer(gen)
	if err != nil {
		return fmt.Errorf("创建聚类器失败: %w", err)
	}
	pipe, err := pipeline.NewService(store, extraction.NewExtractor(gen), index, clusterer, cfg.Pipeline)
	if err != nil {
		return fmt.Errorf("创建处理管线失败: %w", err)
	}
	defer pipe.Close()
	svc, err := analysis.NewService(index, store, gen, clusterer, pipe, nil,
		analysis.WithTopK(cfg.Pipeline.TopK))
	if err != nil {
		return fmt.Errorf("创建分析服务失败: %w", err)
	}

	sessionID := fmt.Sprintf("single_match_%s", strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	fmt.Printf("会话: %s\n\n", sessionID)

	// 提交简历并等待管线跑完
	fmt.Println("开始处理简历...")
	start := time.Now()
	jobID, err := pipe.Submit(sessionID, resumeText)
	if err != nil {
		return fmt.Errorf("提交简历失败: %w", err)
	}
	rec, err := waitReady(pipe, jobID, 3*time.Minute)
	if err != nil {
		return err
	}
	fmt.Printf("处理完成! 耗时: %v (%s)\n", time.Since(start), rec.Detail)

	out, err := svc.MatchByCluster(ctx, &types.MatchRequest{
		SessionID: sessionID,
		JDText:    jdText,
		Debug:     *showDebug,
	})
	if err != nil {
		return fmt.Errorf("按簇匹配失败: %w", err)
	}

	if out.Debug != nil {
		fmt.Println("\n===== 检索调试信息 =====")
		for _, c := range out.Debug.Clusters {
			fmt.Printf("  %s (%s): %d items\n", c.ClusterID, c.ClusterLabel, c.ItemsCount)
			fmt.Printf("    query: %s\n", truncate(c.Query))
		}
	}

	fmt.Println("\n===== 匹配结果 =====")
	if out.OverallMatchPct != nil {
		fmt.Printf("overall_match_pct: %.3f\n", *out.OverallMatchPct)
	} else {
		fmt.Println("overall_match_pct: null")
	}
	fmt.Println("\ncluster_matches:")
	for _, m := range out.ClusterMatches {
		fmt.Printf("  %s: %.3f  (resume chunks: %d, jd chunks: %d)\n",
			m.Cluster, m.MatchPct, len(m.Evidence.ResumeChunks), len(m.Evidence.JDChunks))
		for _, ch := range m.Evidence.ResumeChunks {
			fmt.Printf("    - [%s] %s\n", ch.ChunkID, truncate(ch.Text))
		}
	}
	return nil
}

// waitReady 轮询任务状态直到终态，与HTTP客户端轮询/resume/status等价
func waitReady(pipe *pipeline.Service, jobID string, timeout time.Duration) (types.JobRecord, error) {
	deadline := time.Now().Add(timeout)
	for {
		rec := pipe.GetStatus(jobID)
		if rec.Status.Terminal() {
			if rec.Status == types.StatusError {
				return rec, fmt.Errorf("简历处理失败: %s", rec.Detail)
			}
			return rec, nil
		}
		if time.Now().After(deadline) {
			return rec, fmt.Errorf("等待简历处理超时 (%v)，最后状态: %s", timeout, rec.Status)
		}
		time.Sleep(500 * time.Millisecond)
	}
}

// readDocument 读取并解析一个.pdf或.txt文档为纯文本
func readDocument(ctx context.Context, files *parser.FileParser, path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("无法获取文件的绝对路径: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("无法读取文件: %w", err)
	}
	return files.ExtractText(ctx, filepath.Base(abs), data)
}

func truncate(s string) string {
	s = strings.ReplaceAll(s, "\n", " ")
	if *maxLen >= 0 && len(s) > *maxLen {
		return s[:*maxLen] + "..."
	}
	return s
}
