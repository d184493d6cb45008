package agent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
)

const (
	defaultGeminiAPIURL    = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiModelName = "gemini-2.0-flash"
)

// GeminiChatModel 实现了 model.ChatModel 和 model.ToolCallingChatModel 接口，
// 通过 generateContent 接口与Gemini模型交互。可按调用绑定JSON响应schema，
// 让模型输出受约束的JSON。
type GeminiChatModel struct {
	apiKey      string
	modelName   string
	baseURL     string
	httpClient  *http.Client
	temperature *float64
	maxTokens   int
	respSchema  map[string]any
	boundTools  []geminiFunctionDeclaration
	logger      zerolog.Logger
}

// GeminiModelOption 定义GeminiChatModel构造函数选项
type GeminiModelOption func(*GeminiChatModel)

// WithTemperature 设置生成温度
func WithTemperature(t float64) GeminiModelOption {
	return func(g *GeminiChatModel) {
		g.temperature = &t
	}
}

// WithMaxTokens 设置生成的最大token数
func WithMaxTokens(n int) GeminiModelOption {
	return func(g *GeminiChatModel) {
		g.maxTokens = n
	}
}

// WithHTTPTimeout 设置HTTP客户端超时
func WithHTTPTimeout(timeout time.Duration) GeminiModelOption {
	return func(g *GeminiChatModel) {
		g.httpClient = &http.Client{Timeout: timeout}
	}
}

// NewGeminiChatModel 创建一个新的 GeminiChatModel 实例
func NewGeminiChatModel(apiKey, modelName, apiURL string, opts ...GeminiModelOption) (*GeminiChatModel, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("API 密钥不能为空")
	}

	mn := modelName
	if strings.TrimSpace(mn) == "" {
		mn = defaultGeminiModelName
	}
	url := strings.TrimRight(apiURL, "/")
	if url == "" {
		url = defaultGeminiAPIURL
	}

	g := &GeminiChatModel{
		apiKey:     apiKey,
		modelName:  mn,
		baseURL:    url,
		httpClient: &http.Client{Timeout: 120 * time.Second},
		logger:     logger.Logger.With().Str("component", "gemini_chat_model").Logger(),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// --- Gemini generateContent 请求/响应结构 ---

type geminiGenerateRequest struct {
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	Contents          []geminiContent         `json:"contents"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
	Tools             []geminiToolBlock       `json:"tools,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text         string              `json:"text,omitempty"`
	FunctionCall *geminiFunctionCall `json:"functionCall,omitempty"`
}

type geminiFunctionCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature      *float64       `json:"temperature,omitempty"`
	MaxOutputTokens  int            `json:"maxOutputTokens,omitempty"`
	ResponseMimeType string         `json:"responseMimeType,omitempty"`
	ResponseSchema   map[string]any `json:"responseSchema,omitempty"`
}

type geminiToolBlock struct {
	FunctionDeclarations []geminiFunctionDeclaration `json:"functionDeclarations"`
}

type geminiFunctionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type geminiGenerateResponse struct {
	Candidates []geminiCandidate `json:"candidates"`
	Error      *geminiAPIError   `json:"error,omitempty"`
}

type geminiCandidate struct {
	Content      geminiContent `json:"content"`
	FinishReason string        `json:"finishReason,omitempty"`
}

type geminiAPIError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

// WithResponseSchema 返回一个绑定了JSON响应schema的模型副本。
// 绑定后 responseMimeType 固定为 application/json。
func (g *GeminiChatModel) WithResponseSchema(respSchema map[string]any) model.ToolCallingChatModel {
	clone := *g
	clone.respSchema = respSchema
	return &clone
}

// Generate 实现 model.ChatModel 接口
func (g *GeminiChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	// 工具配置通过 WithTools/BindTools 处理，调用级选项在此仅做透传确认
	for _, opt := range options {
		_ = opt
	}

	reqPayload := g.buildRequest(messages)

	jsonData, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("序列化请求体失败: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.modelName)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("创建 HTTP 请求失败: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	g.logger.Debug().
		Str("model", g.modelName).
		Int("messages", len(messages)).
		Bool("json_schema", g.respSchema != nil).
		Msg("发送生成请求")

	httpResp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("发送 HTTP 请求失败: %w", err)
	}
	defer httpResp.Body.Close()

	bodyBytes, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("读取响应体失败: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		var errResp geminiGenerateResponse
		if json.Unmarshal(bodyBytes, &errResp) == nil && errResp.Error != nil && errResp.Error.Message != "" {
			return nil, fmt.Errorf("API 请求失败, 状态码: %d, 状态: %s, 错误: %s",
				httpResp.StatusCode, errResp.Error.Status, errResp.Error.Message)
		}
		return nil, fmt.Errorf("API 请求失败, 状态 %s: %s", httpResp.Status, string(bodyBytes))
	}

	var geminiResp geminiGenerateResponse
	if err := json.Unmarshal(bodyBytes, &geminiResp); err != nil {
		return nil, fmt.Errorf("反序列化 API 响应失败: %w。响应体: %s", err, string(bodyBytes))
	}
	if geminiResp.Error != nil && geminiResp.Error.Message != "" {
		return nil, fmt.Errorf("API 返回错误: %s", geminiResp.Error.Message)
	}
	if len(geminiResp.Candidates) == 0 {
		return nil, fmt.Errorf("从 API 收到空候选: %s", string(bodyBytes))
	}

	return candidateToMessage(geminiResp.Candidates[0]), nil
}

// buildRequest 把eino消息序列转成Gemini请求。system消息进
// systemInstruction，assistant映射为model角色。
func (g *GeminiChatModel) buildRequest(messages []*schema.Message) geminiGenerateRequest {
	var systemParts []geminiPart
	var contents []geminiContent

	for _, msg := range messages {
		if msg == nil || msg.Content == "" {
			continue
		}
		switch msg.Role {
		case schema.RoleType("system"):
			systemParts = append(systemParts, geminiPart{Text: msg.Content})
		case schema.RoleType("assistant"):
			contents = append(contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: msg.Content}}})
		default:
			// user和tool消息都按user角色传递
			contents = append(contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: msg.Content}}})
		}
	}

	req := geminiGenerateRequest{Contents: contents}
	if len(systemParts) > 0 {
		req.SystemInstruction = &geminiContent{Parts: systemParts}
	}

	genCfg := &geminiGenerationConfig{
		Temperature:     g.temperature,
		MaxOutputTokens: g.maxTokens,
	}
	if g.respSchema != nil {
		genCfg.ResponseMimeType = "application/json"
		genCfg.ResponseSchema = g.respSchema
	}
	if genCfg.Temperature != nil || genCfg.MaxOutputTokens > 0 || genCfg.ResponseMimeType != "" {
		req.GenerationConfig = genCfg
	}

	if len(g.boundTools) > 0 {
		req.Tools = []geminiToolBlock{{FunctionDeclarations: g.boundTools}}
	}
	return req
}

// candidateToMessage 把Gemini候选转成eino消息
func candidateToMessage(cand geminiCandidate) *schema.Message {
	var textParts []string
	var toolCalls []schema.ToolCall
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			textParts = append(textParts, part.Text)
		}
		if part.FunctionCall != nil {
			toolCalls = append(toolCalls, schema.ToolCall{
				ID: part.FunctionCall.Name,
				Function: schema.FunctionCall{
					Name:      part.FunctionCall.Name,
					Arguments: string(part.FunctionCall.Args),
				},
			})
		}
	}

	msg := &schema.Message{
		Role:    schema.RoleType("assistant"),
		Content: strings.Join(textParts, ""),
	}
	if len(toolCalls) > 0 {
		msg.ToolCalls = toolCalls
	}
	return msg
}

// Stream 实现 model.ChatModel 接口 (未实现)
func (g *GeminiChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("GeminiChatModel 的 Stream 方法未实现")
}

// BindTools 实现 model.ChatModel 接口，把eino工具信息转成
// Gemini functionDeclarations
func (g *GeminiChatModel) BindTools(tools []*schema.ToolInfo) error {
	g.boundTools = make([]geminiFunctionDeclaration, 0, len(tools))
	for _, toolInfo := range tools {
		if toolInfo == nil {
			continue
		}
		g.boundTools = append(g.boundTools, geminiFunctionDeclaration{
			Name:        toolInfo.Name,
			Description: toolInfo.Desc,
			Parameters:  map[string]any{"type": "object", "properties": map[string]any{}},
		})
	}
	return nil
}

// WithTools 实现 model.ToolCallingChatModel 接口，返回绑定工具后的副本
func (g *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	clone := *g
	if err := clone.BindTools(tools); err != nil {
		return nil, err
	}
	return &clone, nil
}

var _ model.ChatModel = (*GeminiChatModel)(nil)
var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)
