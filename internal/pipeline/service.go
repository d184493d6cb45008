// Package pipeline 编排简历处理管线：解析、结构化抽取、切片、嵌入、
// 建索引、岗位族聚类。状态机 parsing → chunking → embedding → indexing
// → ready，error可从任意阶段进入。
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/gofrs/uuid/v5"
	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaodongyu/Job-fit-engine/internal/chunking"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/extraction"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

var pipelineTracer = otel.Tracer("jobfit/pipeline")

// 状态detail是对外契约，轮询方按字面展示
const (
	detailParsing  = "Processing uploaded content..."
	detailChunking = "Splitting text into chunks..."
	detailNoText   = "No text content found"
	detailIndexing = "Building search index..."
	detailUnknown  = "Unknown upload_id"
)

// Service 管线编排器。状态表和会话锁表都只存在内存里，进程重启后
// 在途任务的状态丢失，就绪性要靠IsReady从磁盘判断。
type Service struct {
	store     *session.Store
	extractor *extraction.Extractor
	index     *vecindex.Manager
	clusterer *cluster.Clusterer
	cfg       config.PipelineConfig
	pool      *ants.Pool
	logger    zerolog.Logger

	jobsMu sync.RWMutex
	jobs   map[string]*types.JobRecord

	// locksMu只护锁表的增删，不护会话临界区本身
	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// NewService 创建管线编排器。clusterer可以为nil，此时跳过聚类阶段。
func NewService(store *session.Store, extractor *extraction.Extractor, index *vecindex.Manager, clusterer *cluster.Clusterer, cfg config.PipelineConfig) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("会话存储不能为空")
	}
	if extractor == nil {
		return nil, fmt.Errorf("结构化抽取器不能为空")
	}
	if index == nil {
		return nil, fmt.Errorf("向量索引管理器不能为空")
	}

	workers := cfg.Workers
	if workers <= 0 {
		workers = constants.DefaultWorkers
	}
	pool, err := ants.NewPool(workers)
	if err != nil {
		return nil, fmt.Errorf("创建工作池失败: %w", err)
	}

	return &Service{
		store:     store,
		extractor: extractor,
		index:     index,
		clusterer: clusterer,
		cfg:       cfg,
		pool:      pool,
		logger:    logger.Logger.With().Str("component", "pipeline").Logger(),
		jobs:      make(map[string]*types.JobRecord),
		locks:     make(map[string]*sync.Mutex),
	}, nil
}

// Close 释放工作池，之后不能再提交任务
func (s *Service) Close() {
	if s.pool != nil {
		s.pool.Release()
	}
}

// Submit 提交一次简历处理，立即返回任务ID，进度靠GetStatus轮询
func (s *Service) Submit(sessionID, text string) (string, error) {
	uuidV7, err := uuid.NewV7()
	if err != nil {
		return "", fmt.Errorf("生成任务ID失败: %w", err)
	}
	jobID := uuidV7.String()

	s.jobsMu.Lock()
	s.jobs[jobID] = &types.JobRecord{
		Status:    types.StatusParsing,
		Detail:    detailParsing,
		SessionID: sessionID,
	}
	s.jobsMu.Unlock()

	// 池满时Submit会阻塞等空位，包一层goroutine让提交方立即返回，
	// 超量任务在这里排队而不是无界并发
	go func() {
		if err := s.pool.Submit(func() { s.run(jobID, sessionID, text) }); err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("任务入池失败")
			s.setStatus(jobID, types.StatusError, fmt.Sprintf("failed to schedule job: %v", err))
		}
	}()

	s.logger.Info().
		Str("job_id", jobID).
		Str("session_id", sessionID).
		Int("text_len", len(text)).
		Msg("简历处理任务已提交")
	return jobID, nil
}

// SubmitAddMaterials 把补充材料拼到已有简历原文后面重跑整条管线。
// 会话没有原文时快速失败，不会排进工作池。
func (s *Service) SubmitAddMaterials(sessionID, text string) (string, error) {
	existing, err := s.store.LoadRawText(sessionID)
	if err != nil {
		var notFound *types.NotFoundError
		if errors.As(err, &notFound) {
			return "", types.ErrNoExistingResume
		}
		return "", err
	}
	return s.Submit(sessionID, existing+"\n\n"+text)
}

// GetStatus 查询任务状态。未知ID返回error态而不是报错，
// 轮询方不需要区分"从未存在"和"已被重启清掉"。
func (s *Service) GetStatus(jobID string) types.JobRecord {
	s.jobsMu.RLock()
	defer s.jobsMu.RUnlock()
	if rec, ok := s.jobs[jobID]; ok {
		return *rec
	}
	return types.JobRecord{Status: types.StatusError, Detail: detailUnknown}
}

// IsReady 会话索引是否已落盘。不依赖任务ID，重启后依然有效。
func (s *Service) IsReady(sessionID string) bool {
	return s.store.IndexExists(sessionID)
}

func (s *Service) setStatus(jobID string, status types.JobStatus, detail string) {
	s.jobsMu.Lock()
	defer s.jobsMu.Unlock()
	if rec, ok := s.jobs[jobID]; ok {
		rec.Status = status
		rec.Detail = detail
	}
}

func (s *Service) sessionLock(sessionID string) *sync.Mutex {
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	if l, ok := s.locks[sessionID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[sessionID] = l
	return l
}

// run 执行一次完整管线。持有会话锁直到所有产物落盘，同一会话
// 同时最多一次在跑；阶段内任何错误都收敛成error状态，不往外抛。
func (s *Service) run(jobID, sessionID, text string) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().
				Str("job_id", jobID).
				Str("session_id", sessionID).
				Interface("panic", r).
				Msg("管线发生panic")
			s.setStatus(jobID, types.StatusError, fmt.Sprintf("internal error: %v", r))
		}
	}()

	lock := s.sessionLock(sessionID)
	lock.Lock()
	defer lock.Unlock()

	ctx, span := pipelineTracer.Start(context.Background(), "Pipeline.Run",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("job_id", jobID),
		attribute.String("session_id", sessionID),
	)

	// 阶段1：解析上传内容并落原文
	s.setStatus(jobID, types.StatusParsing, detailParsing)
	if strings.TrimSpace(text) == "" {
		s.setStatus(jobID, types.StatusError, detailNoText)
		return
	}
	if err := s.store.SaveRawText(sessionID, text); err != nil {
		s.failJob(span, jobID, "save_raw_text", tracing.ErrorTypeStorage, err)
		return
	}
	resume := s.extractStructured(ctx, sessionID, text)

	// 阶段2：切片，结构化块优先
	s.setStatus(jobID, types.StatusChunking, detailChunking)
	chunks := s.buildChunks(sessionID, resume, text)
	if len(chunks) == 0 {
		s.setStatus(jobID, types.StatusError, detailNoText)
		return
	}

	// 阶段3：嵌入并整体重建会话索引
	err := s.index.BuildSessionIndex(ctx, sessionID, chunks,
		vecindex.WithBuildProgress(func(stage vecindex.BuildStage) {
			switch stage {
			case vecindex.StageEmbedding:
				s.setStatus(jobID, types.StatusEmbedding, fmt.Sprintf("Embedding %d chunks...", len(chunks)))
			case vecindex.StageIndexing:
				s.setStatus(jobID, types.StatusIndexing, detailIndexing)
			}
		}))
	if err != nil {
		s.failJob(span, jobID, "build_index", tracing.ErrorTypeVectorIndex, err)
		return
	}

	// 阶段4：岗位族聚类，失败不阻塞就绪
	s.clusterRoles(ctx, sessionID, resume, chunks)

	s.setStatus(jobID, types.StatusReady, fmt.Sprintf("Indexed %d chunks", len(chunks)))
	s.logger.Info().
		Str("job_id", jobID).
		Str("session_id", sessionID).
		Int("chunks", len(chunks)).
		Msg("简历管线完成")
}

func (s *Service) failJob(span trace.Span, jobID, stage string, errType tracing.ErrorType, err error) {
	tracing.RecordStageError(span, err, errType, stage)
	s.logger.Error().Err(err).Str("job_id", jobID).Str("stage", stage).Msg("管线阶段失败")
	s.setStatus(jobID, types.StatusError, err.Error())
}

// extractStructured 结构化抽取。降级链打穿时用空结果顶上，
// 抽取和它的产物持久化都不允许让任务失败。
func (s *Service) extractStructured(ctx context.Context, sessionID, text string) *types.StructuredResume {
	resume, blocks, extTrace, err := s.extractor.Extract(ctx, text)
	if err != nil {
		var degradation *types.ParseDegradation
		if errors.As(err, &degradation) {
			s.logger.Warn().
				Str("session_id", sessionID).
				Str("last_strategy", degradation.Strategy).
				Err(degradation.Err).
				Msg("结构化抽取全链降级，使用空结果")
		} else {
			s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("结构化抽取失败，使用空结果")
		}
	}
	if resume == nil {
		resume = &types.StructuredResume{}
	}

	if err := s.store.SaveStructured(sessionID, &session.StructuredArtifact{Structured: resume, Trace: extTrace}); err != nil {
		s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("保存结构化简历失败")
	}
	if err := s.store.SaveBlocks(sessionID, blocks); err != nil {
		s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("保存分段块失败")
	}
	return resume
}

// buildChunks 结构化块产出为零时退回滑窗切原文
func (s *Service) buildChunks(sessionID string, resume *types.StructuredResume, text string) []types.Chunk {
	chunks := chunking.StructuredBlocks(resume, s.cfg.BlockMaxChars, s.cfg.BlockOverlap)
	if len(chunks) == 0 {
		for i, piece := range chunking.SlidingWindow(text, s.cfg.ChunkSize, s.cfg.ChunkOverlap) {
			chunks = append(chunks, types.Chunk{
				ChunkID:    fmt.Sprintf("resume_%s_%d", sessionID, i),
				Text:       piece,
				SourceType: types.SourceResume,
			})
		}
	}
	for i := range chunks {
		chunks[i].SessionID = sessionID
		chunks[i].ChunkIndex = types.IntPtr(i)
	}
	return chunks
}

// clusterRoles 聚类是增强产物，任何失败只记日志
func (s *Service) clusterRoles(ctx context.Context, sessionID string, resume *types.StructuredResume, chunks []types.Chunk) {
	if s.clusterer == nil {
		return
	}
	units := cluster.UnitsFromExtraction(extraction.BuildExtractionResult(resume, chunks))
	result, err := s.clusterer.Cluster(ctx, sessionID, units, chunks)
	if err != nil {
		s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("岗位族聚类失败，跳过")
		return
	}
	if err := s.store.SaveClusters(sessionID, result); err != nil {
		s.logger.Warn().Str("session_id", sessionID).Err(err).Msg("保存聚类结果失败")
	}
}
