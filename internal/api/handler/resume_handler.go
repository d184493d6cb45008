package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/cloudwego/hertz/pkg/app"
	"github.com/cloudwego/hertz/pkg/common/utils"
	"github.com/cloudwego/hertz/pkg/protocol/consts"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/parser"
	"github.com/xiaodongyu/Job-fit-engine/internal/pipeline"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

// ResumeHandler 简历侧端点：上传入口、状态查询和会话产物读取
type ResumeHandler struct {
	pipeline *pipeline.Service
	store    *session.Store
	index    *vecindex.Manager
	files    *parser.FileParser
	logger   zerolog.Logger
}

// NewResumeHandler 创建简历处理器
func NewResumeHandler(p *pipeline.Service, store *session.Store, index *vecindex.Manager, files *parser.FileParser) *ResumeHandler {
	return &ResumeHandler{
		pipeline: p,
		store:    store,
		index:    index,
		files:    files,
		logger:   logger.Logger.With().Str("component", "api").Logger(),
	}
}

// UploadResponse 上传受理回执，upload_id用于轮询处理状态
type UploadResponse struct {
	SessionID string `json:"session_id"`
	UploadID  string `json:"upload_id"`
}

// StatusResponse 处理状态查询响应
type StatusResponse struct {
	UploadID string          `json:"upload_id"`
	Status   types.JobStatus `json:"status"`
	Detail   string          `json:"detail"`
}

// StructuredResponse 结构化简历读取响应
type StructuredResponse struct {
	SessionID  string                  `json:"session_id"`
	Structured *types.StructuredResume `json:"structured"`
	Trace      *types.ExtractionTrace  `json:"trace,omitempty"`
}

// ChunksResponse 会话chunk元数据读取响应
type ChunksResponse struct {
	SessionID string        `json:"session_id"`
	Count     int           `json:"count"`
	Chunks    []types.Chunk `json:"chunks"`
}

// uploadJSONRequest /resume/upload/json的请求体
type uploadJSONRequest struct {
	Text      string `json:"text"`
	SessionID string `json:"session_id"`
}

// addMaterialsRequest /resume/materials/add/json的请求体
type addMaterialsRequest struct {
	SessionID string `json:"session_id"`
	Text      string `json:"text"`
}

// HandleUpload 处理multipart上传。file和text二选一，file优先；
// session_id缺省时生成8位十六进制id。
// POST /resume/upload
func (h *ResumeHandler) HandleUpload(ctx context.Context, c *app.RequestContext) {
	var resumeText string

	fileHeader, fileErr := c.FormFile("file")
	if fileErr == nil {
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": fmt.Sprintf("Failed to parse file: %v", err)})
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			c.JSON(consts.StatusInternalServerError, utils.H{"error": fmt.Sprintf("Failed to parse file: %v", err)})
			return
		}
		if len(data) == 0 {
			writeError(c, types.NewValidationError("Uploaded file is empty"))
			return
		}

		filename := fileHeader.Filename
		if filename == "" {
			filename = "unknown.txt"
		}
		text, err := h.files.ExtractText(ctx, filename, data)
		if err != nil {
			var vErr *types.ValidationError
			if errors.As(err, &vErr) {
				writeError(c, err)
			} else {
				c.JSON(consts.StatusInternalServerError, utils.H{"error": fmt.Sprintf("Failed to parse file: %v", err)})
			}
			return
		}
		resumeText = text
	} else if text := c.PostForm("text"); text != "" {
		resumeText = text
	} else {
		writeError(c, types.NewValidationError("Either file or text must be provided"))
		return
	}

	if strings.TrimSpace(resumeText) == "" {
		writeError(c, types.NewValidationError("No text content found in upload"))
		return
	}

	sessionID := c.PostForm("session_id")
	if sessionID == "" {
		sessionID = newSessionID()
	}

	h.submit(c, sessionID, resumeText)
}

// HandleUploadJSON 处理JSON体上传，text必填
// POST /resume/upload/json
func (h *ResumeHandler) HandleUploadJSON(ctx context.Context, c *app.RequestContext) {
	var req uploadJSONRequest
	if !bindJSON(c, &req) {
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(c, types.NewValidationError("Text content is required"))
		return
	}

	sessionID := req.SessionID
	if sessionID == "" {
		sessionID = newSessionID()
	}

	h.submit(c, sessionID, req.Text)
}

// HandleAddMaterials 往已有会话追加补充材料并重跑管线。
// 会话没有已上传的简历原文时返回400。
// POST /resume/materials/add/json
func (h *ResumeHandler) HandleAddMaterials(ctx context.Context, c *app.RequestContext) {
	var req addMaterialsRequest
	if !bindJSON(c, &req) {
		return
	}
	if req.SessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	if strings.TrimSpace(req.Text) == "" {
		writeError(c, types.NewValidationError("Text content is required"))
		return
	}

	jobID, err := h.pipeline.SubmitAddMaterials(req.SessionID, req.Text)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info().Str("session_id", req.SessionID).Str("upload_id", jobID).Msg("补充材料已受理")
	c.JSON(consts.StatusOK, UploadResponse{SessionID: req.SessionID, UploadID: jobID})
}

// HandleStatus 查询处理状态。未知upload_id返回error态记录而不是404。
// GET /resume/status?upload_id=
func (h *ResumeHandler) HandleStatus(ctx context.Context, c *app.RequestContext) {
	uploadID := c.Query("upload_id")
	if uploadID == "" {
		writeError(c, types.NewValidationError("upload_id is required"))
		return
	}
	rec := h.pipeline.GetStatus(uploadID)
	c.JSON(consts.StatusOK, StatusResponse{UploadID: uploadID, Status: rec.Status, Detail: rec.Detail})
}

// HandleStructured 读取会话的结构化简历产物
// GET /resume/structured?session_id=
func (h *ResumeHandler) HandleStructured(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	artifact, err := h.store.LoadStructured(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, StructuredResponse{
		SessionID:  sessionID,
		Structured: artifact.Structured,
		Trace:      artifact.Trace,
	})
}

// HandleClusters 读取会话的岗位族聚类产物
// GET /resume/clusters?session_id=
func (h *ResumeHandler) HandleClusters(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	result, err := h.store.LoadClusters(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, result)
}

// HandleChunks 读取会话的chunk元数据，未索引的会话返回空表
// GET /resume/chunks?session_id=
func (h *ResumeHandler) HandleChunks(ctx context.Context, c *app.RequestContext) {
	sessionID := c.Query("session_id")
	if sessionID == "" {
		writeError(c, types.NewValidationError("session_id is required"))
		return
	}
	chunks, err := h.index.AllSessionChunks(sessionID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(consts.StatusOK, ChunksResponse{SessionID: sessionID, Count: len(chunks), Chunks: chunks})
}

// submit 提交管线任务并写受理响应
func (h *ResumeHandler) submit(c *app.RequestContext, sessionID, text string) {
	jobID, err := h.pipeline.Submit(sessionID, text)
	if err != nil {
		writeError(c, err)
		return
	}
	h.logger.Info().
		Str("session_id", sessionID).
		Str("upload_id", jobID).
		Int("text_len", len(text)).
		Msg("简历上传已受理")
	c.JSON(consts.StatusOK, UploadResponse{SessionID: sessionID, UploadID: jobID})
}

// newSessionID 生成8位十六进制会话id
func newSessionID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
}
