package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/analysis"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// AnalysisHandler 分析侧端点：匹配度分析、定制简历生成、按簇匹配和经历聚类
type AnalysisHandler struct {
	svc    *analysis.Service
	logger zerolog.Logger
}

// NewAnalysisHandler 创建分析处理器
func NewAnalysisHandler(svc *analysis.Service) *AnalysisHandler {
	return &AnalysisHandler{
		svc:    svc,
		logger: logger.Logger.With().Str("component", "api").Logger(),
	}
}

// HandleAnalyzeFit 简历对目标岗位的匹配度分析
// POST /analyze/fit
func (h *AnalysisHandler) HandleAnalyzeFit(ctx context.Context, c *app.RequestContext) {
	var req types.FitRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	if req.TargetRole == "" {
		writeError(c, types.NewValidationError("target_role is required"))
		return
	}

	result, err := h.svc.AnalyzeFit(ctx, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleGenerateResume 基于双侧证据生成定制简历
// POST /resume/generate
func (h *AnalysisHandler) HandleGenerateResume(ctx context.Context, c *app.RequestContext) {
	var req types.GenerateRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	if req.TargetRole == "" {
		writeError(c, types.NewValidationError("target_role is required"))
		return
	}

	result, err := h.svc.GenerateResume(ctx, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleMatchByCluster 逐岗位族对比JD的匹配度
// POST /analyze/match-by-cluster
func (h *AnalysisHandler) HandleMatchByCluster(ctx context.Context, c *app.RequestContext) {
	var req types.MatchRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}

	result, err := h.svc.MatchByCluster(ctx, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleClusterExperience 把经历条目聚类到固定岗位族
// POST /experience/cluster
func (h *AnalysisHandler) HandleClusterExperience(ctx context.Context, c *app.RequestContext) {
	var req types.ExperienceClusterRequest
	if !bindJSON(c, &req) {
		return
	}

	result, err := h.svc.ClusterExperience(ctx, &req)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}
