package vecindex

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaodongyu/Job-fit-engine/internal/chunking"
	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// 向量索引专用tracer
var indexTracer = otel.Tracer("jobfit/vecindex")

// Searcher 检索接口，供分析服务和HTTP层使用
type Searcher interface {
	// SearchGlobal 在全局JD索引中检索，可按目标岗位过滤
	SearchGlobal(ctx context.Context, query string, role types.RoleType, topK int) ([]types.EvidenceChunk, error)

	// SearchSession 在某个会话的简历索引中检索
	SearchSession(ctx context.Context, sessionID, query string, topK int, sourceLabel string) ([]types.EvidenceChunk, error)

	// SearchAdHoc 对一段临时JD文本建立内存索引并检索，不落盘
	SearchAdHoc(ctx context.Context, jdText, query string, topK int) ([]types.EvidenceChunk, error)

	// AllSessionChunks 返回会话的全部chunk元数据
	AllSessionChunks(sessionID string) ([]types.Chunk, error)
}

// 确保Manager实现了Searcher接口
var _ Searcher = (*Manager)(nil)

// Manager 管理磁盘上的JD全局索引和各会话的简历索引。
// 索引文件和元数据文件成对出现，数量始终对齐；写入走临时文件
// 加重命名，读取方不会看到半写状态。
type Manager struct {
	dataDir      string
	embedder     embedding.Embedder
	chunkSize    int
	chunkOverlap int

	// 串行化JD索引的读-改-写，检索只读不加锁
	mu sync.Mutex
}

// ManagerOption 定义Manager构造函数选项
type ManagerOption func(*Manager)

// WithChunking 设置JD入库时的滑动窗口参数
func WithChunking(size, overlap int) ManagerOption {
	return func(m *Manager) {
		m.chunkSize = size
		m.chunkOverlap = overlap
	}
}

// NewManager 创建索引管理器并准备数据目录
func NewManager(dataDir string, embedder embedding.Embedder, opts ...ManagerOption) (*Manager, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder不能为空")
	}
	if dataDir == "" {
		dataDir = "data"
	}

	m := &Manager{
		dataDir:      dataDir,
		embedder:     embedder,
		chunkSize:    constants.DefaultChunkSize,
		chunkOverlap: constants.DefaultChunkOverlap,
	}
	for _, opt := range opts {
		opt(m)
	}

	if err := os.MkdirAll(filepath.Join(dataDir, constants.SessionsDirName), 0755); err != nil {
		return nil, fmt.Errorf("创建数据目录失败: %w", err)
	}
	return m, nil
}

func (m *Manager) jdIndexPath() string {
	return filepath.Join(m.dataDir, constants.JDIndexFile)
}

func (m *Manager) jdMetaPath() string {
	return filepath.Join(m.dataDir, constants.JDMetaFile)
}

func (m *Manager) sessionDir(sessionID string) string {
	return filepath.Join(m.dataDir, constants.SessionsDirName, sessionID)
}

func (m *Manager) sessionIndexPath(sessionID string) string {
	return filepath.Join(m.sessionDir(sessionID), constants.IndexFile)
}

func (m *Manager) sessionMetaPath(sessionID string) string {
	return filepath.Join(m.sessionDir(sessionID), constants.ChunkMetaFile)
}

// IngestJDs 把一批岗位描述切片、向量化并追加进全局JD索引。
// 返回新增的chunk数。已有索引保持不动，只追加。
func (m *Manager) IngestJDs(ctx context.Context, items []types.JDItem) (int, error) {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.IngestJDs",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.Int("jd.items", len(items)))

	var texts []string
	var metas []types.Chunk
	for _, item := range items {
		pieces := chunking.SlidingWindow(item.Text, m.chunkSize, m.chunkOverlap)
		if len(pieces) == 0 {
			continue
		}
		docID := strings.TrimSpace(item.Title)
		if docID == "" {
			docID = "unknown"
		}
		batchID := shortHex()
		for i, piece := range pieces {
			metas = append(metas, types.Chunk{
				ChunkID:    fmt.Sprintf("jd_%s_%s_%s_%d", item.Role, item.Level, batchID, i),
				Text:       piece,
				SourceType: types.SourceJD,
				DocID:      docID,
				Role:       item.Role,
				Level:      item.Level,
				Title:      item.Title,
			})
			texts = append(texts, piece)
		}
	}
	if len(texts) == 0 {
		return 0, nil
	}

	vecs, err := m.embedTexts(ctx, texts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	index, existing, err := m.loadIndexAndMeta(m.jdIndexPath(), m.jdMetaPath())
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return 0, err
	}
	if index == nil {
		index, err = NewFlatIndex(len(vecs[0]))
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
			return 0, err
		}
	}
	if err := index.Add(vecs); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return 0, fmt.Errorf("追加JD向量失败: %w", err)
	}

	merged := append(existing, metas...)
	if err := m.saveIndexAndMeta(index, merged, m.jdIndexPath(), m.jdMetaPath()); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		return 0, err
	}

	span.SetAttributes(
		attribute.Int("jd.chunks_added", len(metas)),
		attribute.Int("jd.total_chunks", index.Ntotal()),
	)
	return len(metas), nil
}

// JDChunkCount 全局JD索引中的chunk总数，索引不存在时为0
func (m *Manager) JDChunkCount() int {
	index, _, err := m.loadIndexAndMeta(m.jdIndexPath(), m.jdMetaPath())
	if err != nil || index == nil {
		return 0
	}
	return index.Ntotal()
}

// BuildStage 标记BuildSessionIndex内部推进到的阶段，供进度回调使用
type BuildStage string

const (
	// StageEmbedding 正在向量化chunk文本
	StageEmbedding BuildStage = "embedding"
	// StageIndexing 正在构建并落盘索引
	StageIndexing BuildStage = "indexing"
)

// BuildOption 定义BuildSessionIndex的单次调用选项
type BuildOption func(*buildConfig)

type buildConfig struct {
	progress func(stage BuildStage)
}

// WithBuildProgress 注册阶段回调，每进入一个阶段调用一次
func WithBuildProgress(fn func(stage BuildStage)) BuildOption {
	return func(c *buildConfig) {
		c.progress = fn
	}
}

// BuildSessionIndex 为会话全量重建简历索引：向量化所有chunk并
// 覆盖写入索引和元数据文件。
func (m *Manager) BuildSessionIndex(ctx context.Context, sessionID string, chunks []types.Chunk, opts ...BuildOption) error {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.BuildSessionIndex",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("resume.chunks", len(chunks)),
	)

	var cfg buildConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	notify := func(stage BuildStage) {
		if cfg.progress != nil {
			cfg.progress(stage)
		}
	}

	if len(chunks) == 0 {
		err := fmt.Errorf("会话%s没有可索引的chunk", sessionID)
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return err
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	notify(StageEmbedding)
	vecs, err := m.embedTexts(ctx, texts)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return err
	}

	notify(StageIndexing)
	index, err := NewFlatIndex(len(vecs[0]))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return err
	}
	if err := index.Add(vecs); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return fmt.Errorf("写入简历向量失败: %w", err)
	}

	if err := m.saveIndexAndMeta(index, chunks, m.sessionIndexPath(sessionID), m.sessionMetaPath(sessionID)); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		return err
	}
	return nil
}

// SearchGlobal 在全局JD索引中检索。带岗位过滤时先多取再过滤，
// 以免过滤后结果不足。索引不存在时返回空结果而非错误。
func (m *Manager) SearchGlobal(ctx context.Context, query string, role types.RoleType, topK int) ([]types.EvidenceChunk, error) {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.SearchGlobal",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("query", tracing.SafeQueryText(query)),
		attribute.String("role_filter", string(role)),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		topK = constants.DefaultTopK
	}

	index, metas, err := m.loadIndexAndMeta(m.jdIndexPath(), m.jdMetaPath())
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}
	if index == nil || index.Ntotal() == 0 {
		return nil, nil
	}

	qv, err := m.embedQuery(ctx, query)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	// 过滤会丢弃部分命中，先按3倍取
	fetchK := topK
	if role != "" {
		fetchK = topK * 3
	}
	if fetchK > index.Ntotal() {
		fetchK = index.Ntotal()
	}

	scores, ids, err := index.Search(qv, fetchK)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	var results []types.EvidenceChunk
	for i, id := range ids {
		meta := metas[id]
		if role != "" && meta.Role != role {
			continue
		}
		results = append(results, types.EvidenceChunk{
			ChunkID: meta.ChunkID,
			Text:    meta.Text,
			Source:  string(types.SourceJD),
			Score:   float64(scores[i]),
		})
		if len(results) >= topK {
			break
		}
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// SearchSession 在会话的简历索引中检索。sourceLabel非空时覆盖
// 元数据中的source_type（JD侧临时会话会用到）。
func (m *Manager) SearchSession(ctx context.Context, sessionID, query string, topK int, sourceLabel string) ([]types.EvidenceChunk, error) {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.SearchSession",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.String("query", tracing.SafeQueryText(query)),
		attribute.Int("top_k", topK),
	)

	if topK <= 0 {
		topK = constants.DefaultTopK
	}

	index, metas, err := m.loadIndexAndMeta(m.sessionIndexPath(sessionID), m.sessionMetaPath(sessionID))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}
	if index == nil || index.Ntotal() == 0 {
		return nil, nil
	}

	qv, err := m.embedQuery(ctx, query)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	k := topK
	if k > index.Ntotal() {
		k = index.Ntotal()
	}
	scores, ids, err := index.Search(qv, k)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	results := make([]types.EvidenceChunk, 0, len(ids))
	for i, id := range ids {
		meta := metas[id]
		label := sourceLabel
		if label == "" {
			label = string(meta.SourceType)
			if label == "" {
				label = string(types.SourceResume)
			}
		}
		results = append(results, types.EvidenceChunk{
			ChunkID: meta.ChunkID,
			Text:    meta.Text,
			Source:  label,
			Score:   float64(scores[i]),
		})
	}

	span.SetAttributes(attribute.Int("results", len(results)))
	return results, nil
}

// SearchAdHoc 对一段粘贴的JD文本做一次性检索：在内存中切片、
// 向量化、建索引，chunk id形如 temp_jd_{下标}。
func (m *Manager) SearchAdHoc(ctx context.Context, jdText, query string, topK int) ([]types.EvidenceChunk, error) {
	ctx, span := indexTracer.Start(ctx, "VectorIndex.SearchAdHoc",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("query", tracing.SafeQueryText(query)))

	if topK <= 0 {
		topK = constants.DefaultTopK
	}

	pieces := chunking.SlidingWindow(jdText, m.chunkSize, m.chunkOverlap)
	if len(pieces) == 0 {
		return nil, nil
	}
	span.SetAttributes(attribute.Int("jd.chunks", len(pieces)))

	vecs, err := m.embedTexts(ctx, pieces)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	qv, err := m.embedQuery(ctx, query)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	index, err := NewFlatIndex(len(vecs[0]))
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}
	if err := index.Add(vecs); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	k := topK
	if k > index.Ntotal() {
		k = index.Ntotal()
	}
	scores, ids, err := index.Search(qv, k)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, err
	}

	results := make([]types.EvidenceChunk, 0, len(ids))
	for i, id := range ids {
		results = append(results, types.EvidenceChunk{
			ChunkID: fmt.Sprintf("temp_jd_%d", id),
			Text:    pieces[id],
			Source:  string(types.SourceJD),
			Score:   float64(scores[i]),
		})
	}
	return results, nil
}

// AllSessionChunks 返回会话的全部chunk元数据，文件不存在时返回空表
func (m *Manager) AllSessionChunks(sessionID string) ([]types.Chunk, error) {
	data, err := os.ReadFile(m.sessionMetaPath(sessionID))
	if err != nil {
		if os.IsNotExist(err) {
			return []types.Chunk{}, nil
		}
		return nil, fmt.Errorf("读取会话chunk元数据失败: %w", err)
	}
	var metas []types.Chunk
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, fmt.Errorf("解析会话chunk元数据失败: %w", err)
	}
	return metas, nil
}

// SessionIndexExists 会话索引文件是否已持久化
func (m *Manager) SessionIndexExists(sessionID string) bool {
	_, err := os.Stat(m.sessionIndexPath(sessionID))
	return err == nil
}

// embedTexts 调用embedding服务并转成float32向量
func (m *Manager) embedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	vecs, err := m.embedder.EmbedStrings(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedding调用失败: %w", err)
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("embedding数量不匹配: 期望%d, 实际%d", len(texts), len(vecs))
	}
	out := make([][]float32, len(vecs))
	for i, v := range vecs {
		row := make([]float32, len(v))
		for j, x := range v {
			row[j] = float32(x)
		}
		out[i] = row
	}
	return out, nil
}

func (m *Manager) embedQuery(ctx context.Context, query string) ([]float32, error) {
	vecs, err := m.embedTexts(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// loadIndexAndMeta 成对加载索引与元数据；任一文件缺失视为索引
// 不存在，返回(nil, nil, nil)。数量不对齐视为损坏。
func (m *Manager) loadIndexAndMeta(indexPath, metaPath string) (*FlatIndex, []types.Chunk, error) {
	if _, err := os.Stat(indexPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("检查索引文件失败: %w", err)
	}
	if _, err := os.Stat(metaPath); err != nil {
		if os.IsNotExist(err) {
			return nil, nil, nil
		}
		return nil, nil, fmt.Errorf("检查元数据文件失败: %w", err)
	}

	index, err := LoadFlatIndex(indexPath)
	if err != nil {
		return nil, nil, err
	}

	data, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, nil, fmt.Errorf("读取元数据文件失败: %w", err)
	}
	var metas []types.Chunk
	if err := json.Unmarshal(data, &metas); err != nil {
		return nil, nil, fmt.Errorf("解析元数据文件失败: %w", err)
	}

	if index.Ntotal() != len(metas) {
		return nil, nil, fmt.Errorf("索引与元数据数量不一致: %d != %d", index.Ntotal(), len(metas))
	}
	return index, metas, nil
}

// saveIndexAndMeta 成对持久化索引与元数据
func (m *Manager) saveIndexAndMeta(index *FlatIndex, metas []types.Chunk, indexPath, metaPath string) error {
	if index.Ntotal() != len(metas) {
		return fmt.Errorf("索引与元数据数量不一致: %d != %d", index.Ntotal(), len(metas))
	}
	if err := index.Save(indexPath); err != nil {
		return err
	}
	data, err := json.Marshal(metas)
	if err != nil {
		return fmt.Errorf("序列化元数据失败: %w", err)
	}
	if err := writeFileAtomic(metaPath, data); err != nil {
		return fmt.Errorf("写入元数据文件失败: %w", err)
	}
	return nil
}

// writeFileAtomic 临时文件加重命名的原子写
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, ".meta-*")
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

// shortHex 生成8位十六进制批次标识
func shortHex() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
