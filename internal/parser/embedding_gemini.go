package parser

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
)

var embedTracer = otel.Tracer("jobfit/parser")

// GeminiEmbedder 通过Gemini batchEmbedContents接口生成向量，
// 实现 cloudwego/eino embedding.Embedder 接口。
// 返回前对每个向量做L2归一化，下游索引直接用内积当余弦相似度。
type GeminiEmbedder struct {
	apiKey     string
	model      string
	dimensions int
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     zerolog.Logger
}

// NewGeminiEmbedder 创建Gemini Embedder
func NewGeminiEmbedder(apiKey string, embeddingCfg config.EmbeddingConfig) (*GeminiEmbedder, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("API密钥不能为空")
	}

	model := embeddingCfg.Model
	if model == "" {
		model = "gemini-embedding-001"
	}
	baseURL := embeddingCfg.BaseURL
	if baseURL == "" {
		baseURL = "https://generativelanguage.googleapis.com/v1beta"
	}

	var limiter *rate.Limiter
	if embeddingCfg.QPM > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(embeddingCfg.QPM)), 1)
	}

	return &GeminiEmbedder{
		apiKey:     apiKey,
		model:      model,
		dimensions: embeddingCfg.Dimensions,
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: 60 * time.Second},
		limiter:    limiter,
		logger:     logger.Logger.With().Str("component", "gemini_embedder").Logger(),
	}, nil
}

// GetDimensions 返回配置的向量维度
func (g *GeminiEmbedder) GetDimensions() int {
	return g.dimensions
}

// geminiEmbedBatchRequest batchEmbedContents 请求体
type geminiEmbedBatchRequest struct {
	Requests []geminiEmbedContentRequest `json:"requests"`
}

type geminiEmbedContentRequest struct {
	Model                string             `json:"model"`
	Content              geminiEmbedContent `json:"content"`
	OutputDimensionality int                `json:"outputDimensionality,omitempty"`
}

type geminiEmbedContent struct {
	Parts []geminiEmbedPart `json:"parts"`
}

type geminiEmbedPart struct {
	Text string `json:"text"`
}

// geminiEmbedBatchResponse batchEmbedContents 响应体
type geminiEmbedBatchResponse struct {
	Embeddings []geminiEmbeddingValues `json:"embeddings"`
	Error      *geminiEmbedAPIError    `json:"error,omitempty"`
}

type geminiEmbeddingValues struct {
	Values []float64 `json:"values"`
}

type geminiEmbedAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// EmbedStrings 将文本转换为向量，实现 cloudwego/eino embedding.Embedder 接口。
// 超过批次上限的输入自动分批，调用间按配置的QPM限速。
func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	options := &embedding.Options{}
	embedding.GetCommonOptions(options, opts...)

	effectiveModel := g.model
	if options.Model != nil && *options.Model != "" {
		effectiveModel = *options.Model
	}

	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += constants.EmbedBatchSize {
		end := start + constants.EmbedBatchSize
		if end > len(texts) {
			end = len(texts)
		}
		batch := texts[start:end]

		if g.limiter != nil {
			if err := g.limiter.Wait(ctx); err != nil {
				return nil, fmt.Errorf("等待限速器失败: %w", err)
			}
		}

		vecs, err := g.embedBatch(ctx, effectiveModel, batch)
		if err != nil {
			return nil, err
		}
		out = append(out, vecs...)
	}

	if len(out) != len(texts) {
		return nil, fmt.Errorf("embedding数量不匹配: 期望%d, 实际%d", len(texts), len(out))
	}

	g.logger.Debug().
		Int("texts", len(texts)).
		Int("dim", firstDim(out)).
		Str("model", effectiveModel).
		Msg("embedding完成")
	return out, nil
}

// embedBatch 发送一个批次的embedding请求
func (g *GeminiEmbedder) embedBatch(ctx context.Context, model string, batch []string) ([][]float64, error) {
	ctx, span := embedTracer.Start(ctx, "GeminiEmbedder.embedBatch",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("embedding.model", model),
			attribute.Int("embedding.batch_size", len(batch)),
		))
	defer span.End()

	reqBody := geminiEmbedBatchRequest{
		Requests: make([]geminiEmbedContentRequest, len(batch)),
	}
	for i, text := range batch {
		reqBody.Requests[i] = geminiEmbedContentRequest{
			Model:                "models/" + model,
			Content:              geminiEmbedContent{Parts: []geminiEmbedPart{{Text: text}}},
			OutputDimensionality: g.dimensions,
		}
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("序列化embedding请求失败: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:batchEmbedContents", g.baseURL, model)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建HTTP请求失败: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.httpClient.Do(req)
	if err != nil {
		err = fmt.Errorf("发送embedding请求失败: %w", err)
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, err
	}
	defer resp.Body.Close()

	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		err = fmt.Errorf("读取embedding响应失败: %w", err)
		tracing.RecordError(span, err, tracing.ErrorTypeHTTP)
		return nil, err
	}

	if resp.StatusCode != http.StatusOK {
		var errResp geminiEmbedBatchResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
			err = fmt.Errorf("embedding接口调用失败, 状态码: %d, 状态: %s, 错误: %s",
				resp.StatusCode, errResp.Error.Status, errResp.Error.Message)
		} else {
			err = fmt.Errorf("embedding接口调用失败, 状态码: %d, 响应: %s", resp.StatusCode, truncateBody(body))
		}
		tracing.RecordHTTPError(span, err, resp.StatusCode)
		return nil, err
	}

	var parsed geminiEmbedBatchResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		err = fmt.Errorf("解析embedding响应失败: %w", err)
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if parsed.Error != nil && parsed.Error.Message != "" {
		err := fmt.Errorf("embedding接口返回错误: %s", parsed.Error.Message)
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}
	if len(parsed.Embeddings) != len(batch) {
		err := fmt.Errorf("embedding数量不匹配: 期望%d, 实际%d", len(batch), len(parsed.Embeddings))
		tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
		return nil, err
	}

	vecs := make([][]float64, len(parsed.Embeddings))
	for i, e := range parsed.Embeddings {
		if len(e.Values) == 0 {
			err := fmt.Errorf("第%d个embedding为空", i)
			tracing.RecordError(span, err, tracing.ErrorTypeEmbedding)
			return nil, err
		}
		vecs[i] = normalizeL2(e.Values)
	}

	span.SetStatus(codes.Ok, "")
	return vecs, nil
}

// normalizeL2 对向量做L2归一化，零向量原样返回
func normalizeL2(vec []float64) []float64 {
	var sum float64
	for _, x := range vec {
		sum += x * x
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return vec
	}
	out := make([]float64, len(vec))
	for i, x := range vec {
		out[i] = x / norm
	}
	return out
}

func firstDim(vecs [][]float64) int {
	if len(vecs) > 0 {
		return len(vecs[0])
	}
	return 0
}

// truncateBody 截断响应体用于错误信息
func truncateBody(body []byte) string {
	const maxLen = 500
	if len(body) <= maxLen {
		return string(body)
	}
	return string(body[:maxLen]) + "..."
}
