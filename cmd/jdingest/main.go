package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	applogger "github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/parser"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

// 命令行参数定义
var (
	configPath = pflag.StringP("config", "c", "", "配置文件路径，留空时按默认位置查找")
	corpusDir  = pflag.String("dir", "", "JD语料目录，须包含jd_index.json清单 (必填)")
)

// manifestEntry jd_index.json清单里的一条语料记录
type manifestEntry struct {
	JDID      string `json:"jd_id"`
	PDFFile   string `json:"pdf_file"`
	Role      string `json:"role"`
	Seniority string `json:"seniority"`
}

type manifest struct {
	Items []manifestEntry `json:"items"`
}

func main() {
	_ = godotenv.Load()
	pflag.Parse()

	if *corpusDir == "" {
		fmt.Fprintln(os.Stderr, "错误: 必须通过 --dir 指定JD语料目录")
		pflag.Usage()
		os.Exit(1)
	}

	if err := run(*configPath, *corpusDir); err != nil {
		fmt.Fprintf(os.Stderr, "ERROR: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, dir string) error {
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return fmt.Errorf("加载配置失败: %w", err)
	}
	// 进度走stdout，组件日志压到warn以免刷屏
	applogger.Init(applogger.Config{Level: "warn", Format: cfg.Logger.Format})

	ctx := context.Background()

	data, err := os.ReadFile(filepath.Join(dir, "jd_index.json"))
	if err != nil {
		return fmt.Errorf("读取清单失败: %w", err)
	}
	var m manifest
	if err := json.Unmarshal(data, &m); err != nil {
		return fmt.Errorf("解析清单失败: %w", err)
	}

	files, err := parser.NewFileParser(ctx)
	if err != nil {
		return fmt.Errorf("初始化文件解析器失败: %w", err)
	}
	embedder, err := parser.NewGeminiEmbedder(cfg.Gemini.APIKey, cfg.Gemini.Embedding)
	if err != nil {
		return fmt.Errorf("初始化Gemini Embedder失败: %w", err)
	}
	index, err := vecindex.NewManager(cfg.Data.Dir, embedder,
		vecindex.WithChunking(cfg.Pipeline.ChunkSize, cfg.Pipeline.ChunkOverlap))
	if err != nil {
		return fmt.Errorf("初始化向量索引失败: %w", err)
	}

	var items []types.JDItem
	for _, entry := range m.Items {
		if entry.PDFFile == "" {
			continue
		}
		pdfPath := filepath.Join(dir, entry.PDFFile)
		raw, err := os.ReadFile(pdfPath)
		if err != nil {
			fmt.Printf("WARNING: PDF not found: %s\n", pdfPath)
			continue
		}
		text, err := files.ExtractText(ctx, entry.PDFFile, raw)
		if err != nil || strings.TrimSpace(text) == "" {
			fmt.Printf("WARNING: No text extracted from %s\n", entry.PDFFile)
			continue
		}

		title := entry.JDID
		if title == "" {
			title = entry.PDFFile
		}
		role := entry.Role
		if role == "" {
			role = "MLE"
		}
		level := strings.ToLower(entry.Seniority)
		if level == "" {
			level = "senior"
		}
		items = append(items, types.JDItem{
			Title: title,
			Role:  types.RoleType(role),
			Level: types.LevelType(level),
			Text:  text,
		})
		fmt.Printf("Prepared: %s (%s, %s)\n", title, role, level)
	}

	if len(items) == 0 {
		return fmt.Errorf("no JDs to ingest")
	}

	fmt.Printf("\nIngesting %d JDs...\n", len(items))
	count, err := index.IngestJDs(ctx, items)
	if err != nil {
		return fmt.Errorf("JD入库失败: %w", err)
	}
	fmt.Printf("SUCCESS: Ingested %d chunks from %d JDs\n", count, len(items))
	return nil
}
