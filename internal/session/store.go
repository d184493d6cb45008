package session

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// StructuredArtifact resume_structured.json的持久化形态：结构化简历
// 和本次抽取的降级链trace
type StructuredArtifact struct {
	Structured *types.StructuredResume `json:"structured"`
	Trace      *types.ExtractionTrace  `json:"trace,omitempty"`
}

// blocksArtifact resume_blocks.json的形态，分段pass的调试产物
type blocksArtifact struct {
	Blocks []types.SegmentedBlock `json:"blocks"`
}

// Store 会话产物的磁盘存取。文件名是稳定契约，其他协作方会直接读
// 这些文件排查问题。索引对(resume.index/resume_meta.json)由向量索引
// 管理器独占写入，这里只提供路径和存在性探测。
type Store struct {
	dataDir string
	logger  zerolog.Logger
}

// NewStore 创建会话存储并准备目录
func NewStore(dataDir string) (*Store, error) {
	if dataDir == "" {
		dataDir = "data"
	}
	if err := os.MkdirAll(filepath.Join(dataDir, constants.SessionsDirName), 0755); err != nil {
		return nil, fmt.Errorf("创建会话目录失败: %w", err)
	}
	return &Store{
		dataDir: dataDir,
		logger:  logger.Logger.With().Str("component", "session_store").Logger(),
	}, nil
}

// Dir 会话目录路径
func (s *Store) Dir(sessionID string) string {
	return filepath.Join(s.dataDir, constants.SessionsDirName, sessionID)
}

func (s *Store) rawPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), constants.RawTextFile)
}

func (s *Store) structuredPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), constants.StructuredFile)
}

func (s *Store) clustersPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), constants.ClustersFile)
}

func (s *Store) blocksPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), constants.BlocksFile)
}

// IndexPath 会话索引文件路径
func (s *Store) IndexPath(sessionID string) string {
	return filepath.Join(s.Dir(sessionID), constants.IndexFile)
}

// IndexExists 会话索引是否已落盘，是重启后唯一可靠的就绪信号
func (s *Store) IndexExists(sessionID string) bool {
	info, err := os.Stat(s.IndexPath(sessionID))
	return err == nil && !info.IsDir()
}

// SaveRawText 保存合并后的简历原文
func (s *Store) SaveRawText(sessionID, text string) error {
	if err := writeFileAtomic(s.rawPath(sessionID), []byte(text)); err != nil {
		return fmt.Errorf("保存简历原文失败: %w", err)
	}
	return nil
}

// LoadRawText 读取简历原文，不存在时返回NotFoundError
func (s *Store) LoadRawText(sessionID string) (string, error) {
	data, err := os.ReadFile(s.rawPath(sessionID))
	if os.IsNotExist(err) {
		return "", types.NewNotFoundError("resume raw text", sessionID)
	}
	if err != nil {
		return "", fmt.Errorf("读取简历原文失败: %w", err)
	}
	return string(data), nil
}

// HasRawText 会话是否已有简历原文，追加材料前的前置检查
func (s *Store) HasRawText(sessionID string) bool {
	info, err := os.Stat(s.rawPath(sessionID))
	return err == nil && !info.IsDir()
}

// SaveStructured 保存结构化简历和抽取trace
func (s *Store) SaveStructured(sessionID string, artifact *StructuredArtifact) error {
	return s.saveJSON(s.structuredPath(sessionID), artifact, "结构化简历")
}

// LoadStructured 读取结构化简历，不存在时返回NotFoundError
func (s *Store) LoadStructured(sessionID string) (*StructuredArtifact, error) {
	var artifact StructuredArtifact
	if err := s.loadJSON(s.structuredPath(sessionID), &artifact, "structured resume", sessionID); err != nil {
		return nil, err
	}
	return &artifact, nil
}

// SaveClusters 保存聚类产物
func (s *Store) SaveClusters(sessionID string, result *types.ClusterResult) error {
	return s.saveJSON(s.clustersPath(sessionID), result, "聚类结果")
}

// LoadClusters 读取聚类产物，不存在时返回NotFoundError
func (s *Store) LoadClusters(sessionID string) (*types.ClusterResult, error) {
	var result types.ClusterResult
	if err := s.loadJSON(s.clustersPath(sessionID), &result, "cluster result", sessionID); err != nil {
		return nil, err
	}
	return &result, nil
}

// SaveBlocks 保存分段pass的块，仅用于调试。没有块时写空数组，
// 让读文件的一方不用区分null和[]。
func (s *Store) SaveBlocks(sessionID string, blocks []types.SegmentedBlock) error {
	if blocks == nil {
		blocks = []types.SegmentedBlock{}
	}
	return s.saveJSON(s.blocksPath(sessionID), blocksArtifact{Blocks: blocks}, "分段块")
}

func (s *Store) saveJSON(path string, v any, what string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化%s失败: %w", what, err)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return fmt.Errorf("写入%s失败: %w", what, err)
	}
	return nil
}

func (s *Store) loadJSON(path string, v any, resource, sessionID string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return types.NewNotFoundError(resource, sessionID)
	}
	if err != nil {
		return fmt.Errorf("读取%s失败: %w", resource, err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解析%s失败: %w", resource, err)
	}
	return nil
}

// writeFileAtomic 临时文件加重命名的原子写
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".artifact-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}
