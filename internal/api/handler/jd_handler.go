package handler

import (
	"context"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

// JDHandler 岗位描述语料入库端点
type JDHandler struct {
	index  *vecindex.Manager
	logger zerolog.Logger
}

// NewJDHandler 创建JD入库处理器
func NewJDHandler(index *vecindex.Manager) *JDHandler {
	return &JDHandler{
		index:  index,
		logger: logger.Logger.With().Str("component", "api").Logger(),
	}
}

// IngestResponse JD入库回执，jd_count_added是本次新增的chunk数量
type IngestResponse struct {
	Status       string `json:"status"`
	JDCountAdded int    `json:"jd_count_added"`
}

// ingestRequest /jd/ingest的请求体
type ingestRequest struct {
	Items []types.JDItem `json:"items"`
}

// HandleIngest 追加式入库JD语料到全局索引
// POST /jd/ingest
func (h *JDHandler) HandleIngest(ctx context.Context, c *app.RequestContext) {
	var req ingestRequest
	if !bindJSON(c, &req) {
		return
	}

	count, err := h.index.IngestJDs(ctx, req.Items)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info().Int("jd_count_added", count).Int("items", len(req.Items)).Msg("JD语料入库完成")
	c.JSON(consts.StatusOK, IngestResponse{Status: "ok", JDCountAdded: count})
}
