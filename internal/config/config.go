package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config 应用程序配置
type Config struct {
	Gemini struct {
		APIKey     string            `yaml:"api_key"`
		APIURL     string            `yaml:"api_url"` // API基础地址，如 https://generativelanguage.googleapis.com/v1beta
		Model      string            `yaml:"model"`
		QPM        int               `yaml:"qpm"`         // 生成调用每分钟上限
		TaskModels map[string]string `yaml:"task_models"` // 任务专用模型
		Embedding  EmbeddingConfig   `yaml:"embedding"`   // Embedding specific config
	} `yaml:"gemini"`

	// 服务器配置
	Server ServerConfig `yaml:"server"`

	// 管线配置：切片、检索、并发
	Pipeline PipelineConfig `yaml:"pipeline"`

	// 外部页面抓取配置
	Fetch FetchConfig `yaml:"fetch"`

	// 数据目录配置
	Data DataConfig `yaml:"data"`

	// 结构化抽取器配置
	Extractor ExtractorConfig `yaml:"extractor"`

	// 日志配置
	Logger LoggerConfig `yaml:"logger"`

	// 链路追踪配置
	Tracing TracingConfig `yaml:"tracing"`
}

// EmbeddingConfig Gemini Embedding specific configuration
type EmbeddingConfig struct {
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	BaseURL    string `yaml:"base_url"`
	QPM        int    `yaml:"qpm"` // 每分钟请求数限制
}

// ServerConfig 定义服务器配置
type ServerConfig struct {
	Address    string `yaml:"address"`     // 例如 ":8080" or "0.0.0.0:8080"
	AdminToken string `yaml:"admin_token"` // JD入库接口的Bearer令牌，为空时不鉴权
}

// PipelineConfig 简历处理管线配置
type PipelineConfig struct {
	ChunkSize     int `yaml:"chunk_size"`      // 滑动窗口切片长度
	ChunkOverlap  int `yaml:"chunk_overlap"`   // 滑动窗口重叠长度
	TopK          int `yaml:"top_k"`           // 检索返回数量
	Workers       int `yaml:"workers"`         // 后台工作协程数
	BlockMaxChars int `yaml:"block_max_chars"` // 结构化块切片最大长度
	BlockOverlap  int `yaml:"block_overlap"`   // 结构化块正文重叠长度
}

// DataConfig 数据目录配置
type DataConfig struct {
	Dir string `yaml:"dir"` // 索引和会话文件的根目录
}

// FetchConfig 职位页面抓取配置
type FetchConfig struct {
	TimeoutSeconds int `yaml:"timeout_seconds"` // 单次抓取超时(秒)
	QPM            int `yaml:"qpm"`             // 每分钟抓取上限
}

// ExtractorConfig 定义结构化抽取的生成调用配置
type ExtractorConfig struct {
	Temperature       float64 `yaml:"temperature"`
	MaxTokens         int     `yaml:"maxTokens"`
	ExtractionTimeout string  `yaml:"extractionTimeout"` // 抽取超时，例如 "60s"
	MaxRetries        int     `yaml:"maxRetries"`        // 最大重试次数
	RetryWaitSeconds  int     `yaml:"retryWaitSeconds"`  // 重试等待时间(秒)
}

// LoggerConfig 日志配置
type LoggerConfig struct {
	Level        string `yaml:"level"`         // debug, info, warn, error
	Format       string `yaml:"format"`        // json, pretty
	TimeFormat   string `yaml:"time_format"`   // 时间格式
	ReportCaller bool   `yaml:"report_caller"` // 是否报告调用位置
}

// TracingConfig 链路追踪配置
type TracingConfig struct {
	Enabled     bool    `yaml:"enabled"`
	Endpoint    string  `yaml:"endpoint"` // OTLP gRPC collector 地址
	ServiceName string  `yaml:"service_name"`
	SampleRatio float64 `yaml:"sample_ratio"`
}

// LoadConfig 从文件加载配置
func LoadConfig(configPath string) (*Config, error) {
	// 如果未指定配置文件路径，则尝试在默认位置查找
	if configPath == "" {
		searchPaths := []string{
			"config.yaml",
			"./config.yaml",
			"../config.yaml",
			"../../config.yaml",
			filepath.Join(os.Getenv("HOME"), ".jobfit", "config.yaml"),
		}

		// 获取当前可执行文件路径
		execPath, err := os.Executable()
		if err == nil {
			execDir := filepath.Dir(execPath)
			searchPaths = append(searchPaths, filepath.Join(execDir, "config.yaml"))
			searchPaths = append(searchPaths, filepath.Join(execDir, "..", "config.yaml"))
		}

		for _, path := range searchPaths {
			if _, err := os.Stat(path); err == nil {
				configPath = path
				break
			}
		}

		// 仍找不到时：测试环境返回默认配置，否则回退到默认路径
		if configPath == "" {
			if inTestEnv() {
				return createDefaultConfig(), nil
			}
			configPath = "config.yaml"
		}
	}

	// 检查文件是否存在
	if _, err := os.Stat(configPath); err != nil {
		if inTestEnv() {
			return createDefaultConfig(), nil
		}
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	// 读取配置文件
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	// 解析配置文件
	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyEnvOverrides(&config)
	applyDefaults(&config)

	return &config, nil
}

// LoadConfigFromFileOnly 从文件加载配置，不从环境变量覆盖
func LoadConfigFromFileOnly(configPath string) (*Config, error) {
	if configPath == "" {
		return nil, fmt.Errorf("必须提供配置文件路径")
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, fmt.Errorf("配置文件不存在: %s", configPath)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}

	applyDefaults(&config)

	return &config, nil
}

// inTestEnv 检测是否在测试环境中运行
func inTestEnv() bool {
	for _, arg := range os.Args {
		if strings.Contains(arg, "test") {
			return true
		}
	}
	if workDir, err := os.Getwd(); err == nil {
		if strings.Contains(workDir, "tmp") && strings.Contains(workDir, "test") {
			return true
		}
	}
	return false
}

// applyEnvOverrides 从环境变量覆盖配置（如果存在）
func applyEnvOverrides(config *Config) {
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		config.Gemini.APIKey = envKey
	}
	if envURL := os.Getenv("GEMINI_API_URL"); envURL != "" {
		config.Gemini.APIURL = envURL
	}
	if envModel := os.Getenv("GEMINI_GEN_MODEL"); envModel != "" {
		config.Gemini.Model = envModel
	}
	if envModel := os.Getenv("GEMINI_EMBED_MODEL"); envModel != "" {
		config.Gemini.Embedding.Model = envModel
	}
	if envToken := os.Getenv("JOBFIT_ADMIN_TOKEN"); envToken != "" {
		config.Server.AdminToken = envToken
	}
	if envDir := os.Getenv("JOBFIT_DATA_DIR"); envDir != "" {
		config.Data.Dir = envDir
	}
}

// applyDefaults 填充缺省值
func applyDefaults(config *Config) {
	if config.Server.Address == "" {
		config.Server.Address = ":8080"
	}
	if config.Gemini.APIURL == "" {
		config.Gemini.APIURL = "https://generativelanguage.googleapis.com/v1beta"
	}
	if config.Gemini.Model == "" {
		config.Gemini.Model = "gemini-2.0-flash"
	}
	if config.Gemini.Embedding.Model == "" {
		config.Gemini.Embedding.Model = "gemini-embedding-001"
	}
	if config.Gemini.Embedding.Dimensions == 0 {
		config.Gemini.Embedding.Dimensions = 3072
	}
	if config.Gemini.Embedding.BaseURL == "" {
		config.Gemini.Embedding.BaseURL = config.Gemini.APIURL
	}
	if config.Gemini.Embedding.QPM == 0 {
		config.Gemini.Embedding.QPM = 600
	}
	if config.Gemini.QPM == 0 {
		config.Gemini.QPM = 60
	}
	if config.Fetch.TimeoutSeconds == 0 {
		config.Fetch.TimeoutSeconds = 15
	}
	if config.Fetch.QPM == 0 {
		config.Fetch.QPM = 30
	}
	if config.Pipeline.ChunkSize == 0 {
		config.Pipeline.ChunkSize = 800
	}
	if config.Pipeline.ChunkOverlap == 0 {
		config.Pipeline.ChunkOverlap = 120
	}
	if config.Pipeline.TopK == 0 {
		config.Pipeline.TopK = 6
	}
	if config.Pipeline.Workers == 0 {
		config.Pipeline.Workers = 2
	}
	if config.Pipeline.BlockMaxChars == 0 {
		config.Pipeline.BlockMaxChars = 1200
	}
	if config.Pipeline.BlockOverlap == 0 {
		config.Pipeline.BlockOverlap = 150
	}
	if config.Data.Dir == "" {
		config.Data.Dir = "data"
	}
	if config.Extractor.ExtractionTimeout == "" {
		config.Extractor.ExtractionTimeout = "60s"
	}
	if config.Extractor.MaxRetries == 0 {
		config.Extractor.MaxRetries = 3
	}
	if config.Extractor.RetryWaitSeconds == 0 {
		config.Extractor.RetryWaitSeconds = 2
	}
	if config.Logger.Level == "" {
		config.Logger.Level = "info"
	}
	if config.Logger.Format == "" {
		config.Logger.Format = "json"
	}
	if config.Tracing.ServiceName == "" {
		config.Tracing.ServiceName = "jobfit"
	}
}

// 创建一个默认配置，用于测试环境
func createDefaultConfig() *Config {
	config := &Config{}

	config.Gemini.APIURL = "https://generativelanguage.googleapis.com/v1beta"
	config.Gemini.Model = "gemini-2.0-flash"
	config.Gemini.Embedding.Model = "gemini-embedding-001"
	config.Gemini.Embedding.Dimensions = 3072
	config.Gemini.Embedding.QPM = 600

	// 获取环境变量
	if envKey := os.Getenv("GEMINI_API_KEY"); envKey != "" {
		config.Gemini.APIKey = envKey
	} else {
		config.Gemini.APIKey = "test_api_key"
	}

	// 日志默认配置
	config.Logger.Level = "info"
	config.Logger.Format = "pretty" // 开发环境默认使用美化输出
	config.Logger.TimeFormat = "2006-01-02 15:04:05"
	config.Logger.ReportCaller = true

	applyDefaults(config)

	return config
}

// CreateSampleConfig 创建一个示例配置文件
func CreateSampleConfig(filePath string) error {
	// 检查文件是否已存在
	if _, err := os.Stat(filePath); err == nil {
		return fmt.Errorf("文件 '%s' 已存在，不会覆盖", filePath)
	}

	config := createDefaultConfig()

	data, err := yaml.Marshal(config)
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	err = os.WriteFile(filePath, data, 0644)
	if err != nil {
		return fmt.Errorf("写入示例配置文件 '%s' 失败: %w", filePath, err)
	}

	fmt.Printf("示例配置文件已创建: %s\n", filePath)
	return nil
}

// GetModelForTask 根据任务名称获取合适的模型
// 如果任务专用模型存在则返回专用模型，否则返回默认模型
func (c *Config) GetModelForTask(taskName string) string {
	if c.Gemini.TaskModels != nil {
		if model, ok := c.Gemini.TaskModels[taskName]; ok && model != "" {
			return model
		}
	}
	return c.Gemini.Model
}

// GetDuration utility to parse duration strings from config
func GetDuration(durationStr string, defaultDuration time.Duration) time.Duration {
	if durationStr == "" {
		return defaultDuration
	}
	d, err := time.ParseDuration(durationStr)
	if err != nil {
		return defaultDuration
	}
	return d
}
