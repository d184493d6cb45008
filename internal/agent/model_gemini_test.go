package agent

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// geminiStubServer 模拟Gemini generateContent接口，记录收到的请求体
type geminiStubServer struct {
	server       *httptest.Server
	lastPath     string
	lastAPIKey   string
	lastBody     []byte
	responseJSON string
	statusCode   int
}

func newGeminiStubServer(t *testing.T, responseJSON string) *geminiStubServer {
	t.Helper()
	stub := &geminiStubServer{responseJSON: responseJSON, statusCode: http.StatusOK}
	stub.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		stub.lastPath = r.URL.Path
		stub.lastAPIKey = r.Header.Get("x-goog-api-key")
		body, _ := io.ReadAll(r.Body)
		stub.lastBody = body
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(stub.statusCode)
		_, _ = w.Write([]byte(stub.responseJSON))
	}))
	t.Cleanup(stub.server.Close)
	return stub
}

func TestNewGeminiChatModelRequiresAPIKey(t *testing.T) {
	_, err := NewGeminiChatModel("", "gemini-2.0-flash", "")
	require.Error(t, err, "空API密钥应返回错误")
	assert.Contains(t, err.Error(), "API 密钥不能为空")
}

func TestGeminiChatModelGenerate(t *testing.T) {
	stub := newGeminiStubServer(t, `{
		"candidates": [
			{"content": {"role": "model", "parts": [{"text": "Hello, "}, {"text": "world"}]}, "finishReason": "STOP"}
		]
	}`)

	chatModel, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL,
		WithTemperature(0.2), WithMaxTokens(512))
	require.NoError(t, err, "创建模型不应失败")

	messages := []*schema.Message{
		schema.SystemMessage("You are a careful extraction engine."),
		schema.UserMessage("Summarize this resume."),
	}
	resp, err := chatModel.Generate(context.Background(), messages)
	require.NoError(t, err, "生成调用不应失败")

	assert.Equal(t, schema.RoleType("assistant"), resp.Role, "响应角色应为assistant")
	assert.Equal(t, "Hello, world", resp.Content, "多个text part应拼接")

	assert.Equal(t, "/models/gemini-2.0-flash:generateContent", stub.lastPath, "请求路径应包含模型名")
	assert.Equal(t, "test-key", stub.lastAPIKey, "API密钥应通过请求头传递")

	var req geminiGenerateRequest
	require.NoError(t, json.Unmarshal(stub.lastBody, &req), "请求体应为合法JSON")
	require.NotNil(t, req.SystemInstruction, "system消息应进入systemInstruction")
	assert.Equal(t, "You are a careful extraction engine.", req.SystemInstruction.Parts[0].Text)
	require.Len(t, req.Contents, 1, "只有user消息进入contents")
	assert.Equal(t, "user", req.Contents[0].Role)
	require.NotNil(t, req.GenerationConfig, "生成配置应存在")
	require.NotNil(t, req.GenerationConfig.Temperature)
	assert.InDelta(t, 0.2, *req.GenerationConfig.Temperature, 1e-9, "温度应透传")
	assert.Equal(t, 512, req.GenerationConfig.MaxOutputTokens, "最大token数应透传")
	assert.Empty(t, req.GenerationConfig.ResponseMimeType, "未绑定schema时不应请求JSON输出")
}

func TestGeminiChatModelAssistantRoleMapping(t *testing.T) {
	stub := newGeminiStubServer(t, `{"candidates": [{"content": {"parts": [{"text": "ok"}]}}]}`)

	chatModel, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL)
	require.NoError(t, err)

	messages := []*schema.Message{
		schema.UserMessage("first question"),
		{Role: schema.RoleType("assistant"), Content: "first answer"},
		schema.UserMessage("follow up"),
	}
	_, err = chatModel.Generate(context.Background(), messages)
	require.NoError(t, err)

	var req geminiGenerateRequest
	require.NoError(t, json.Unmarshal(stub.lastBody, &req))
	require.Len(t, req.Contents, 3, "三条消息都应进入contents")
	assert.Equal(t, "user", req.Contents[0].Role)
	assert.Equal(t, "model", req.Contents[1].Role, "assistant应映射为model角色")
	assert.Equal(t, "user", req.Contents[2].Role)
}

func TestGeminiChatModelWithResponseSchema(t *testing.T) {
	stub := newGeminiStubServer(t, `{"candidates": [{"content": {"parts": [{"text": "{\"ok\": true}"}]}}]}`)

	base, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL)
	require.NoError(t, err)

	respSchema := map[string]any{
		"type": "object",
		"properties": map[string]any{
			"ok": map[string]any{"type": "boolean"},
		},
	}
	bound := base.WithResponseSchema(respSchema)

	_, err = bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("extract")})
	require.NoError(t, err)

	var req geminiGenerateRequest
	require.NoError(t, json.Unmarshal(stub.lastBody, &req))
	require.NotNil(t, req.GenerationConfig)
	assert.Equal(t, "application/json", req.GenerationConfig.ResponseMimeType, "绑定schema后应要求JSON输出")
	assert.NotNil(t, req.GenerationConfig.ResponseSchema, "responseSchema应透传")

	// 原模型不受克隆影响
	_, err = base.Generate(context.Background(), []*schema.Message{schema.UserMessage("plain")})
	require.NoError(t, err)
	req = geminiGenerateRequest{}
	require.NoError(t, json.Unmarshal(stub.lastBody, &req))
	if req.GenerationConfig != nil {
		assert.Empty(t, req.GenerationConfig.ResponseMimeType, "原模型不应携带schema约束")
	}
}

func TestGeminiChatModelFunctionCallParts(t *testing.T) {
	stub := newGeminiStubServer(t, `{
		"candidates": [
			{"content": {"parts": [{"functionCall": {"name": "lookup_role", "args": {"role": "backend"}}}]}}
		]
	}`)

	chatModel, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL)
	require.NoError(t, err)

	resp, err := chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("call the tool")})
	require.NoError(t, err)

	require.Len(t, resp.ToolCalls, 1, "functionCall part应转成ToolCall")
	assert.Equal(t, "lookup_role", resp.ToolCalls[0].Function.Name)
	assert.JSONEq(t, `{"role": "backend"}`, resp.ToolCalls[0].Function.Arguments, "参数应保留原始JSON")
}

func TestGeminiChatModelAPIError(t *testing.T) {
	stub := newGeminiStubServer(t, `{"error": {"code": 429, "message": "Resource has been exhausted", "status": "RESOURCE_EXHAUSTED"}}`)
	stub.statusCode = http.StatusTooManyRequests

	chatModel, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL,
		WithHTTPTimeout(5*time.Second))
	require.NoError(t, err)

	_, err = chatModel.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err, "非200状态应返回错误")
	assert.Contains(t, err.Error(), "Resource has been exhausted", "错误信息应包含API返回的message")
	assert.Contains(t, err.Error(), "RESOURCE_EXHAUSTED", "错误信息应包含API状态")
}

func TestGeminiChatModelWithTools(t *testing.T) {
	stub := newGeminiStubServer(t, `{"candidates": [{"content": {"parts": [{"text": "ok"}]}}]}`)

	base, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", stub.server.URL)
	require.NoError(t, err)

	tools := []*schema.ToolInfo{
		{Name: "search_jd", Desc: "Search indexed job descriptions"},
	}
	bound, err := base.WithTools(tools)
	require.NoError(t, err, "绑定工具不应失败")

	_, err = bound.Generate(context.Background(), []*schema.Message{schema.UserMessage("find jobs")})
	require.NoError(t, err)

	var req geminiGenerateRequest
	require.NoError(t, json.Unmarshal(stub.lastBody, &req))
	require.Len(t, req.Tools, 1, "工具块应存在")
	require.Len(t, req.Tools[0].FunctionDeclarations, 1)
	assert.Equal(t, "search_jd", req.Tools[0].FunctionDeclarations[0].Name)

	// 原模型不携带工具
	_, err = base.Generate(context.Background(), []*schema.Message{schema.UserMessage("plain")})
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal(stub.lastBody, &req))
	assert.Empty(t, req.Tools, "原模型不应携带工具")
}

func TestGeminiChatModelStreamNotImplemented(t *testing.T) {
	chatModel, err := NewGeminiChatModel("test-key", "gemini-2.0-flash", "")
	require.NoError(t, err)

	_, err = chatModel.Stream(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err, "Stream未实现应返回错误")
	assert.Contains(t, err.Error(), "未实现")
}
