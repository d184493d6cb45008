// Package analysis 实现简历侧的三类分析操作：岗位匹配度分析、
// 定制简历生成、按岗位族的JD匹配，以及经历条目聚类。证据一律来自
// 向量检索，模型只负责在证据之上做归纳。
package analysis

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

var analysisTracer = otel.Tracer("jobfit/analysis")

// JobRunner 是分析层对处理管线的依赖面。jd_url路径会把抓到的JD
// 文本当成一份新"简历"提交进管线，在旁路会话里建索引。
type JobRunner interface {
	Submit(sessionID, text string) (string, error)
	GetStatus(jobID string) types.JobRecord
	IsReady(sessionID string) bool
}

// JDFetcher 从职位链接抓取JD正文
type JDFetcher interface {
	FetchJDText(ctx context.Context, url string) (string, error)
}

// Service 聚合分析操作所需的全部协作方
type Service struct {
	searcher  vecindex.Searcher
	store     *session.Store
	gen       *agent.Generator
	clusterer *cluster.Clusterer
	jobs      JobRunner
	fetcher   JDFetcher

	topK         int
	readyTimeout time.Duration
	readyPoll    time.Duration
	logger       zerolog.Logger
}

// Option 配置分析服务
type Option func(*Service)

// WithTopK 设置每路证据检索的条数
func WithTopK(k int) Option {
	return func(s *Service) {
		if k > 0 {
			s.topK = k
		}
	}
}

// WithReadyPolling 设置jd_url旁路会话的等待上限和轮询间隔
func WithReadyPolling(timeout, interval time.Duration) Option {
	return func(s *Service) {
		if timeout > 0 {
			s.readyTimeout = timeout
		}
		if interval > 0 {
			s.readyPoll = interval
		}
	}
}

// NewService 创建分析服务。searcher/store/gen/clusterer必传；
// jobs和fetcher可以为nil，对应的能力（就绪检查、jd_url）会按未配置处理。
func NewService(searcher vecindex.Searcher, store *session.Store, gen *agent.Generator, clusterer *cluster.Clusterer, jobs JobRunner, fetcher JDFetcher, opts ...Option) (*Service, error) {
	if searcher == nil {
		return nil, fmt.Errorf("向量检索器不能为空")
	}
	if store == nil {
		return nil, fmt.Errorf("会话存储不能为空")
	}
	if gen == nil {
		return nil, fmt.Errorf("生成器不能为空")
	}
	if clusterer == nil {
		return nil, fmt.Errorf("聚类引擎不能为空")
	}
	s := &Service{
		searcher:     searcher,
		store:        store,
		gen:          gen,
		clusterer:    clusterer,
		jobs:         jobs,
		fetcher:      fetcher,
		topK:         constants.DefaultTopK,
		readyTimeout: 60 * time.Second,
		readyPoll:    250 * time.Millisecond,
		logger:       logger.Logger.With().Str("component", "analysis").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// jdSource 三个JD证据来源，按use_curated_jd > jd_text > jd_url取第一个给定的
type jdSource struct {
	useCurated bool
	jdText     string
	jdURL      string
	role       types.RoleType
}

// fitContent 匹配度分析的模型输出。score用指针区分"缺省"和"0分"。
type fitContent struct {
	RecommendedRoles []struct {
		Role    string   `json:"role"`
		Score   *float64 `json:"score"`
		Reasons []string `json:"reasons"`
	} `json:"recommended_roles"`
	Requirements types.Requirements `json:"requirements"`
	Gap          types.GapAnalysis  `json:"gap"`
}

// generateContent 简历生成的模型输出
type generateContent struct {
	Education  []string `json:"education"`
	Experience []string `json:"experience"`
	Skills     []string `json:"skills"`
	NeedInfo   []string `json:"need_info"`
}

// AnalyzeFit 对已就绪的简历会话做目标岗位匹配度分析。简历证据和
// JD证据各检索一路，喂给模型产出推荐岗位、要求清单和差距分析。
// 模型输出残缺时逐字段兜底，保证响应结构完整。
func (s *Service) AnalyzeFit(ctx context.Context, req *types.FitRequest) (*types.FitAnalysis, error) {
	ctx, span := analysisTracer.Start(ctx, "Analysis.AnalyzeFit",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("target_role", string(req.TargetRole)),
	)

	if err := s.requireReady(req.SessionID, "Session %s resume not ready. Check /resume/status."); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	query := fmt.Sprintf("Skills and experience for %s role", req.TargetRole)
	resumeChunks, err := s.searcher.SearchSession(ctx, req.SessionID, query, s.topK, "")
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, fmt.Errorf("检索简历证据失败: %w", err)
	}

	src := jdSource{useCurated: req.UseCuratedJD, jdText: req.JDText, jdURL: req.JDURL, role: req.TargetRole}
	jdChunks, err := s.jdEvidence(ctx, req.SessionID, query, src, true)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	outcome, err := s.gen.Generate(ctx, roleFitSystem, buildFitPrompt(resumeChunks, jdChunks, req.TargetRole), roleFitSchema())
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("fit analysis", err)
	}

	var content fitContent
	if outcome.Malformed() {
		s.logger.Warn().
			Str("session_id", req.SessionID).
			Msg("匹配度分析输出不是结构化JSON，按空结果兜底")
	} else if decodeErr := outcome.DecodeInto(&content); decodeErr != nil {
		s.logger.Warn().
			Err(decodeErr).
			Str("session_id", req.SessionID).
			Msg("匹配度分析输出解码失败，按空结果兜底")
		content = fitContent{}
	}

	recommended := make([]types.RoleRecommendation, 0, len(content.RecommendedRoles))
	for _, r := range content.RecommendedRoles {
		role := strings.TrimSpace(r.Role)
		if role == "" {
			role = string(req.TargetRole)
		}
		score := 0.5
		if r.Score != nil {
			score = *r.Score
		}
		recommended = append(recommended, types.RoleRecommendation{
			Role:    role,
			Score:   clampScore(score),
			Reasons: nonNil(r.Reasons),
		})
	}
	if len(recommended) == 0 {
		recommended = append(recommended, types.RoleRecommendation{
			Role:    string(req.TargetRole),
			Score:   0.5,
			Reasons: []string{"Analysis based on provided evidence"},
		})
	}

	span.SetAttributes(
		attribute.Int("resume_chunks", len(resumeChunks)),
		attribute.Int("jd_chunks", len(jdChunks)),
	)
	return &types.FitAnalysis{
		RecommendedRoles: recommended,
		Requirements: types.Requirements{
			MustHave:   nonNil(content.Requirements.MustHave),
			NiceToHave: nonNil(content.Requirements.NiceToHave),
		},
		Gap: types.GapAnalysis{
			Matched:          nonNil(content.Gap.Matched),
			Missing:          nonNil(content.Gap.Missing),
			AskUserQuestions: nonNil(content.Gap.AskUserQuestions),
		},
		Evidence: types.Evidence{
			ResumeChunks: nonNilChunks(resumeChunks),
			JDChunks:     nonNilChunks(jdChunks),
		},
	}, nil
}

// GenerateResume 基于检索证据生成面向目标岗位的定制简历。与匹配度
// 分析不同，JD来源三项全缺时不报错，JD证据按空处理。
func (s *Service) GenerateResume(ctx context.Context, req *types.GenerateRequest) (*types.GenerateResult, error) {
	ctx, span := analysisTracer.Start(ctx, "Analysis.GenerateResume",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", req.SessionID),
		attribute.String("target_role", string(req.TargetRole)),
	)

	if err := s.requireReady(req.SessionID, "Session %s resume not ready."); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	query := fmt.Sprintf("Complete background for %s position", req.TargetRole)
	resumeChunks, err := s.searcher.SearchSession(ctx, req.SessionID, query, s.topK, "")
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
		return nil, fmt.Errorf("检索简历证据失败: %w", err)
	}

	src := jdSource{useCurated: req.UseCuratedJD, jdText: req.JDText, jdURL: req.JDURL, role: req.TargetRole}
	jdChunks, err := s.jdEvidence(ctx, req.SessionID, query, src, false)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	outcome, err := s.gen.Generate(ctx, resumeGenerateSystem, buildGeneratePrompt(resumeChunks, jdChunks, req.TargetRole), resumeGenerateSchema())
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("resume generation", err)
	}

	var content generateContent
	if outcome.Malformed() {
		s.logger.Warn().
			Str("session_id", req.SessionID).
			Msg("简历生成输出不是结构化JSON，按空结果兜底")
	} else if decodeErr := outcome.DecodeInto(&content); decodeErr != nil {
		s.logger.Warn().
			Err(decodeErr).
			Str("session_id", req.SessionID).
			Msg("简历生成输出解码失败，按空结果兜底")
		content = generateContent{}
	}

	structured := types.GeneratedResume{
		Education:  nonNil(content.Education),
		Experience: nonNil(content.Experience),
		Skills:     nonNil(content.Skills),
	}

	span.SetAttributes(
		attribute.Int("resume_chunks", len(resumeChunks)),
		attribute.Int("jd_chunks", len(jdChunks)),
	)
	return &types.GenerateResult{
		ResumeMarkdown:   buildResumeMarkdown(structured),
		ResumeStructured: structured,
		NeedInfo:         nonNil(content.NeedInfo),
		Evidence: types.Evidence{
			ResumeChunks: nonNilChunks(resumeChunks),
			JDChunks:     nonNilChunks(jdChunks),
		},
	}, nil
}

// MatchByCluster 把持久化的岗位族分组逐个和JD对齐：每个族用自己的
// 摘要当检索词查JD证据，族内匹配度取证据相似度均值，总分按岗位族
// 分布加权。纯检索路径，不经过模型。
func (s *Service) MatchByCluster(ctx context.Context, req *types.MatchRequest) (*types.MatchResult, error) {
	ctx, span := analysisTracer.Start(ctx, "Analysis.MatchByCluster",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()
	span.SetAttributes(attribute.String("session_id", req.SessionID))

	if err := s.requireReady(req.SessionID, "Session %s resume not ready. Check /resume/status."); err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}
	if !req.UseCuratedJD && strings.TrimSpace(req.JDText) == "" {
		err := types.NewValidationError("Either use_curated_jd=true or provide jd_text")
		tracing.RecordError(span, err, tracing.ErrorTypeValidation)
		return nil, err
	}

	clusters, err := s.store.LoadClusters(req.SessionID)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeStorage)
		return nil, err
	}

	matches := make([]types.ClusterMatch, 0, len(clusters.Clusters))
	var debug *types.MatchDebug
	if req.Debug {
		debug = &types.MatchDebug{Clusters: make([]types.MatchDebugCluster, 0, len(clusters.Clusters))}
	}

	for _, group := range clusters.Clusters {
		query := clusterQuery(group)
		jdChunks, err := s.searchJD(ctx, query, req.UseCuratedJD, req.JDText)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorIndex)
			return nil, fmt.Errorf("检索岗位族%s的JD证据失败: %w", group.ClusterID, err)
		}
		matches = append(matches, types.ClusterMatch{
			Cluster:  group.ClusterID,
			MatchPct: meanScore(jdChunks),
			Evidence: types.Evidence{
				ResumeChunks: nonNilChunks(group.Evidence),
				JDChunks:     nonNilChunks(jdChunks),
			},
		})
		if debug != nil {
			debug.Clusters = append(debug.Clusters, types.MatchDebugCluster{
				ClusterID:    group.ClusterID,
				ClusterLabel: group.ClusterLabel,
				ItemsCount:   len(group.Items),
				Query:        query,
			})
		}
	}

	span.SetAttributes(attribute.Int("cluster_matches", len(matches)))
	return &types.MatchResult{
		ClusterMatches:  matches,
		OverallMatchPct: overallMatch(matches, clusters.RoleFitDistribution),
		Debug:           debug,
	}, nil
}

// ClusterExperience 对一批经历条目做岗位族聚类。条目可以三路混入：
// 请求里的贴纸条目、整段粘贴的简历文本、已就绪会话的全部chunk。
// 绑定了真实会话时聚类产物会持久化，匿名请求只返回不落盘。
func (s *Service) ClusterExperience(ctx context.Context, req *types.ExperienceClusterRequest) (*types.ClusterResult, error) {
	ctx, span := analysisTracer.Start(ctx, "Analysis.ClusterExperience",
		trace.WithSpanKind(trace.SpanKindInternal))
	defer span.End()

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = shortHex(8)
	}
	span.SetAttributes(attribute.String("session_id", sessionID))

	units := make([]cluster.Unit, 0, len(req.Items))
	for i, item := range req.Items {
		text := strings.TrimSpace(item.Text)
		if text == "" {
			continue
		}
		id := item.ID
		if id == "" {
			id = fmt.Sprintf("item_%d", i+1)
		}
		kind := strings.TrimSpace(item.Label)
		if kind == "" {
			kind = "experience"
		}
		source := item.Source
		if source == "" {
			source = types.ItemSourceSticker
		}
		units = append(units, cluster.Unit{
			ID:     id,
			Kind:   kind,
			Text:   text,
			Label:  item.Label,
			Source: source,
		})
	}

	if pasted := strings.TrimSpace(req.ResumeText); pasted != "" {
		units = append(units, cluster.Unit{
			ID:     "pasted_" + shortHex(6),
			Kind:   "experience",
			Text:   pasted,
			Label:  "resume",
			Source: types.ItemSourcePasted,
		})
	}

	var chunks []types.Chunk
	if req.SessionID != "" && s.jobs != nil && s.jobs.IsReady(req.SessionID) {
		sessionChunks, err := s.searcher.AllSessionChunks(req.SessionID)
		if err != nil {
			s.logger.Warn().
				Err(err).
				Str("session_id", req.SessionID).
				Msg("读取会话chunk失败，按无会话条目聚类")
		} else {
			chunks = sessionChunks
			for _, c := range sessionChunks {
				units = append(units, cluster.Unit{
					ID:       c.ChunkID,
					Kind:     "experience",
					Text:     c.Text,
					Label:    "resume",
					Source:   types.ItemSourceResume,
					ChunkIDs: []string{c.ChunkID},
				})
			}
		}
	}

	result, err := s.clusterer.Cluster(ctx, sessionID, units, chunks)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return nil, types.NewUpstreamError("experience clustering", err)
	}

	if req.SessionID != "" {
		if saveErr := s.store.SaveClusters(sessionID, result); saveErr != nil {
			s.logger.Warn().
				Err(saveErr).
				Str("session_id", sessionID).
				Msg("保存聚类结果失败")
		}
	}

	span.SetAttributes(attribute.Int("cluster.units", len(units)))
	return result, nil
}

// jdEvidence 按来源优先级解析一路JD证据。required表示来源三项
// 全缺或者精选JD为空时要不要报错；简历生成走宽松路径。
func (s *Service) jdEvidence(ctx context.Context, sessionID, query string, src jdSource, required bool) ([]types.EvidenceChunk, error) {
	switch {
	case src.useCurated:
		chunks, err := s.searcher.SearchGlobal(ctx, query, src.role, s.topK)
		if err != nil {
			return nil, fmt.Errorf("检索精选JD失败: %w", err)
		}
		if len(chunks) == 0 && required {
			return nil, types.NewValidationError("No curated JDs found. Ingest JDs first or provide jd_text.")
		}
		return chunks, nil
	case strings.TrimSpace(src.jdText) != "":
		chunks, err := s.searcher.SearchAdHoc(ctx, src.jdText, query, s.topK)
		if err != nil {
			return nil, fmt.Errorf("检索粘贴JD失败: %w", err)
		}
		return chunks, nil
	case strings.TrimSpace(src.jdURL) != "":
		return s.jdEvidenceFromURL(ctx, sessionID, query, src.jdURL)
	default:
		if required {
			return nil, types.NewValidationError("Either use_curated_jd=true or provide jd_text or jd_url")
		}
		return nil, nil
	}
}

// jdEvidenceFromURL 抓取职位链接正文，提交进旁路会话 {sid}_jd 建
// 索引，就绪后在旁路索引里检索。旁路会话复用正常管线，所以抓来的
// JD也会走完整的切块和向量化。
func (s *Service) jdEvidenceFromURL(ctx context.Context, sessionID, query, jdURL string) ([]types.EvidenceChunk, error) {
	if s.fetcher == nil || s.jobs == nil {
		return nil, types.NewValidationError("jd_url is not supported by this deployment")
	}

	jdText, err := s.fetcher.FetchJDText(ctx, jdURL)
	if err != nil {
		return nil, err
	}

	jdSessionID := sessionID + "_jd"
	jobID, err := s.jobs.Submit(jdSessionID, jdText)
	if err != nil {
		return nil, fmt.Errorf("提交JD旁路任务失败: %w", err)
	}
	if err := s.waitReady(ctx, jobID); err != nil {
		return nil, err
	}

	chunks, err := s.searcher.SearchSession(ctx, jdSessionID, query, s.topK, string(types.SourceJD))
	if err != nil {
		return nil, fmt.Errorf("检索JD旁路索引失败: %w", err)
	}
	return chunks, nil
}

// waitReady 轮询旁路任务直到终态。失败态把管线留下的detail原样
// 抛成校验错误，超时算上游故障。
func (s *Service) waitReady(ctx context.Context, jobID string) error {
	deadline := time.Now().Add(s.readyTimeout)
	ticker := time.NewTicker(s.readyPoll)
	defer ticker.Stop()

	for {
		rec := s.jobs.GetStatus(jobID)
		switch rec.Status {
		case types.StatusReady:
			return nil
		case types.StatusError:
			detail := rec.Detail
			if detail == "" {
				detail = "Job description processing failed"
			}
			return types.NewValidationError("%s", detail)
		}
		if time.Now().After(deadline) {
			return types.NewUpstreamError("jd processing", fmt.Errorf("timed out waiting for job description index"))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// searchJD 按来源检索JD证据，MatchByCluster的每个岗位族各查一次
func (s *Service) searchJD(ctx context.Context, query string, useCurated bool, jdText string) ([]types.EvidenceChunk, error) {
	if useCurated {
		return s.searcher.SearchGlobal(ctx, query, "", s.topK)
	}
	return s.searcher.SearchAdHoc(ctx, jdText, query, s.topK)
}

// requireReady 拒绝尚未建好索引的会话
func (s *Service) requireReady(sessionID, format string) error {
	if s.jobs != nil && s.jobs.IsReady(sessionID) {
		return nil
	}
	if s.jobs == nil && s.store.IndexExists(sessionID) {
		return nil
	}
	return types.NewValidationError(format, sessionID)
}

// clusterQuery 岗位族的JD检索词：优先用聚类摘要，摘要缺省退回族名
func clusterQuery(group types.ClusteredGroup) string {
	if summary := strings.TrimSpace(group.Summary); summary != "" {
		return fmt.Sprintf("%s: %s", group.ClusterLabel, summary)
	}
	return fmt.Sprintf("Skills and experience for %s roles", group.ClusterLabel)
}

// buildResumeMarkdown 把结构化简历渲染成固定的markdown骨架，
// 空白分区用斜体占位行
func buildResumeMarkdown(r types.GeneratedResume) string {
	lines := []string{"## Education"}
	if len(r.Education) > 0 {
		for _, item := range r.Education {
			lines = append(lines, "- "+item)
		}
	} else {
		lines = append(lines, "_No education information available._")
	}

	lines = append(lines, "", "## Experience")
	if len(r.Experience) > 0 {
		for _, item := range r.Experience {
			lines = append(lines, "- "+item)
		}
	} else {
		lines = append(lines, "_No experience information available._")
	}

	lines = append(lines, "", "## Skills")
	if len(r.Skills) > 0 {
		lines = append(lines, strings.Join(r.Skills, ", "))
	} else {
		lines = append(lines, "_No skills information available._")
	}

	return strings.Join(lines, "\n")
}

// meanScore 证据相似度均值，夹到[0,1]。无证据记0分。
func meanScore(chunks []types.EvidenceChunk) float64 {
	if len(chunks) == 0 {
		return 0
	}
	total := 0.0
	for _, c := range chunks {
		total += c.Score
	}
	return clampScore(total / float64(len(chunks)))
}

// overallMatch 按岗位族分布加权的总匹配度。分布缺失或全零时退回
// 各族简单均值；没有任何族时返回nil。
func overallMatch(matches []types.ClusterMatch, dist types.RoleFitDistribution) *float64 {
	if len(matches) == 0 {
		return nil
	}
	weighted := 0.0
	weightSum := 0.0
	plain := 0.0
	for _, m := range matches {
		w := dist[types.RoleCluster(m.Cluster)]
		weighted += w * m.MatchPct
		weightSum += w
		plain += m.MatchPct
	}
	var overall float64
	if weightSum > 0 {
		overall = clampScore(weighted)
	} else {
		overall = clampScore(plain / float64(len(matches)))
	}
	return &overall
}

func clampScore(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

func nonNil(ss []string) []string {
	if ss == nil {
		return []string{}
	}
	return ss
}

func nonNilChunks(chunks []types.EvidenceChunk) []types.EvidenceChunk {
	if chunks == nil {
		return []types.EvidenceChunk{}
	}
	return chunks
}

// shortHex 截短的uuid十六进制串，用作匿名会话号和粘贴条目号
func shortHex(n int) string {
	hex := strings.ReplaceAll(uuid.NewString(), "-", "")
	if n > len(hex) {
		n = len(hex)
	}
	return hex[:n]
}
