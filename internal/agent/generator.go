package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
)

var generatorTracer = otel.Tracer("jobfit/agent")

// schemaBinder 由支持按调用绑定JSON响应schema的模型实现
type schemaBinder interface {
	WithResponseSchema(respSchema map[string]any) model.ToolCallingChatModel
}

// GenerationOutcome 单次生成调用的结果。RawText 始终保留模型原文；
// 请求结构化输出且解析成功时 Structured 非空，解析失败时 ParseErr
// 记录原因，由调用方决定如何降级。
type GenerationOutcome struct {
	Structured map[string]any
	RawText    string
	ParseErr   error
}

// Malformed 返回是否要求了结构化输出但解析失败
func (o GenerationOutcome) Malformed() bool {
	return o.ParseErr != nil
}

// DecodeInto 把Structured解码到目标结构体
func (o GenerationOutcome) DecodeInto(v any) error {
	if o.Structured == nil {
		return fmt.Errorf("没有可解码的结构化内容")
	}
	data, err := json.Marshal(o.Structured)
	if err != nil {
		return fmt.Errorf("序列化结构化内容失败: %w", err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("解码结构化内容失败: %w", err)
	}
	return nil
}

// Generator 封装对聊天模型的生成调用：统一超时、重试和
// 结构化输出解析。所有抽取、聚类、分析服务都通过它调用模型。
type Generator struct {
	chatModel  model.ToolCallingChatModel
	timeout    time.Duration
	maxRetries int
	retryWait  time.Duration
	logger     zerolog.Logger
}

// NewGenerator 基于抽取配置创建生成器
func NewGenerator(chatModel model.ToolCallingChatModel, cfg config.ExtractorConfig) (*Generator, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("聊天模型不能为空")
	}

	timeout := config.GetDuration(cfg.ExtractionTimeout, 60*time.Second)
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries < 0 {
		maxRetries = 0
	}
	retryWait := time.Duration(cfg.RetryWaitSeconds) * time.Second
	if retryWait <= 0 {
		retryWait = 2 * time.Second
	}

	return &Generator{
		chatModel:  chatModel,
		timeout:    timeout,
		maxRetries: maxRetries,
		retryWait:  retryWait,
		logger:     logger.Logger.With().Str("component", "generator").Logger(),
	}, nil
}

// Generate 调用模型生成文本。responseSchema 非空时要求模型输出JSON
// 并尝试解析到 Structured；模型调用本身失败时返回error。
func (g *Generator) Generate(ctx context.Context, systemPrompt, userPrompt string, responseSchema map[string]any) (GenerationOutcome, error) {
	ctx, span := generatorTracer.Start(ctx, "agent.generate",
		trace.WithAttributes(
			attribute.Bool("llm.json_schema", responseSchema != nil),
			attribute.String("llm.prompt", tracing.SafePromptText(userPrompt)),
		))
	defer span.End()

	chatModel := g.chatModel
	if responseSchema != nil {
		// 模型支持原生schema约束时绑定schema，否则依赖后置JSON提取
		if binder, ok := chatModel.(schemaBinder); ok {
			chatModel = binder.WithResponseSchema(responseSchema)
		}
	}

	var messages []*schema.Message
	if strings.TrimSpace(systemPrompt) != "" {
		messages = append(messages, schema.SystemMessage(systemPrompt))
	}
	messages = append(messages, schema.UserMessage(userPrompt))

	response, err := g.callModel(ctx, chatModel, messages)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeLLM)
		return GenerationOutcome{}, err
	}

	raw := response.Content
	outcome := GenerationOutcome{RawText: raw}
	if responseSchema == nil {
		return outcome, nil
	}

	structured, parseErr := parseStructured(raw)
	if parseErr != nil {
		g.logger.Warn().Err(parseErr).Str("raw", tracing.TruncateString(raw, 200)).Msg("模型输出不是有效JSON")
		span.SetAttributes(attribute.Bool("llm.output_malformed", true))
		outcome.ParseErr = parseErr
		return outcome, nil
	}
	outcome.Structured = structured
	return outcome, nil
}

// callModel 带重试地调用模型，退避时间逐次翻倍
func (g *Generator) callModel(ctx context.Context, chatModel model.ToolCallingChatModel, messages []*schema.Message) (*schema.Message, error) {
	retryDelay := g.retryWait

	var response *schema.Message
	var err error

	for retry := 0; retry <= g.maxRetries; retry++ {
		if retry > 0 {
			select {
			case <-ctx.Done():
				return nil, fmt.Errorf("上下文已取消: %w", ctx.Err())
			case <-time.After(retryDelay):
				retryDelay *= 2
				g.logger.Info().Int("retry", retry).Msg("重试LLM调用")
			}
		}

		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		response, err = chatModel.Generate(callCtx, messages)
		cancel()

		if err == nil {
			break
		}
		if !isRetryableError(err) || retry >= g.maxRetries {
			return nil, fmt.Errorf("LLM Generate failed: %w", err)
		}
	}
	return response, nil
}

// isRetryableError 判断错误是否应该重试
func isRetryableError(err error) bool {
	if err == nil {
		return false
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "RESOURCE_EXHAUSTED")
}

// parseStructured 把模型原文解析为JSON对象，容忍围栏和前后噪声
func parseStructured(raw string) (map[string]any, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, fmt.Errorf("模型输出为空")
	}

	var direct map[string]any
	if err := json.Unmarshal([]byte(trimmed), &direct); err == nil {
		return direct, nil
	}

	jsonStr := ExtractJSON(trimmed)
	if jsonStr == "" {
		return nil, fmt.Errorf("无法从模型输出中提取有效的JSON")
	}
	var extracted map[string]any
	if err := json.Unmarshal([]byte(jsonStr), &extracted); err != nil {
		return nil, fmt.Errorf("解析JSON失败: %w", err)
	}
	return extracted, nil
}

var jsonFenceRe = regexp.MustCompile("(?s)```json\\s*(\\{.*?\\})\\s*```")

// ExtractJSON 从文本中提取第一个完整的JSON对象。优先匹配
// ```json 代码块，否则做花括号配平扫描。
func ExtractJSON(text string) string {
	matches := jsonFenceRe.FindStringSubmatch(text)
	if len(matches) > 1 {
		return strings.TrimSpace(matches[1])
	}

	start := strings.Index(text, "{")
	if start == -1 {
		return ""
	}

	level := 0
	for i := start; i < len(text); i++ {
		if text[i] == '{' {
			level++
		} else if text[i] == '}' {
			level--
			if level == 0 {
				return strings.TrimSpace(text[start : i+1])
			}
		}
	}
	return ""
}
