package ratelimit

import (
	"context"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// LimitedChatModel 给聊天模型套一层令牌桶。抽取、聚类、分析共用
// 一个模型实例，所以桶在代理内共享，全局调用量不会超过配置的QPM。
type LimitedChatModel struct {
	inner  model.ToolCallingChatModel
	bucket *TokenBucket
}

var _ model.ToolCallingChatModel = (*LimitedChatModel)(nil)

// NewLimitedChatModel 包装一个模型，按QPM限速
func NewLimitedChatModel(inner model.ToolCallingChatModel, qpm int) *LimitedChatModel {
	return &LimitedChatModel{
		inner:  inner,
		bucket: NewTokenBucket(qpm, 0),
	}
}

// WithRetryPolicy 调整代理内部对配额类错误的重试策略
func (lm *LimitedChatModel) WithRetryPolicy(waitTime time.Duration, maxRetries int) *LimitedChatModel {
	lm.bucket.WithRetryPolicy(waitTime, maxRetries)
	return lm
}

// Generate 限速执行一次生成调用
func (lm *LimitedChatModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := lm.bucket.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = lm.inner.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

// Stream 限速打开一个流式生成
func (lm *LimitedChatModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := lm.bucket.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = lm.inner.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 透传给底层模型，新代理沿用同一个令牌桶
func (lm *LimitedChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	bound, err := lm.inner.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &LimitedChatModel{inner: bound, bucket: lm.bucket}, nil
}

// WithResponseSchema 透传schema绑定。底层模型不支持按调用绑定时
// 返回自身，调用方回退到后置JSON提取。
func (lm *LimitedChatModel) WithResponseSchema(respSchema map[string]any) model.ToolCallingChatModel {
	binder, ok := lm.inner.(interface {
		WithResponseSchema(respSchema map[string]any) model.ToolCallingChatModel
	})
	if !ok {
		return lm
	}
	return &LimitedChatModel{inner: binder.WithResponseSchema(respSchema), bucket: lm.bucket}
}
