package extraction

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/tracing"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

var extractionTracer = otel.Tracer("jobfit/extraction")

// Strategy 一种结构化抽取策略。Attempt返回结构化简历和(两趟路径下的)
// 分段块；产出为空或出错都视为该策略失败，由降级链换下一个策略。
type Strategy interface {
	Name() types.ExtractionPath
	Attempt(ctx context.Context, text string) (*types.StructuredResume, []types.SegmentedBlock, error)
}

// Extractor 按 two_pass -> single_pass -> heuristic 的顺序执行抽取
// 策略，第一个成功的生效。每次尝试的结果都记录在trace里。
type Extractor struct {
	strategies []Strategy
	logger     zerolog.Logger
}

// NewExtractor 创建完整降级链的抽取器
func NewExtractor(gen *agent.Generator) *Extractor {
	return &Extractor{
		strategies: []Strategy{
			&twoPassStrategy{gen: gen},
			&singlePassStrategy{gen: gen},
			&heuristicStrategy{},
		},
		logger: logger.Logger.With().Str("component", "extractor").Logger(),
	}
}

// NewExtractorWithStrategies 用指定策略链创建抽取器，便于测试
func NewExtractorWithStrategies(strategies ...Strategy) *Extractor {
	return &Extractor{
		strategies: strategies,
		logger:     logger.Logger.With().Str("component", "extractor").Logger(),
	}
}

// Extract 对简历原文执行抽取降级链。返回结构化简历、分段块(仅两趟
// 路径产出)和trace。所有策略都失败时返回错误，但链尾的启发式策略
// 对非空输入总会产出结果。
func (e *Extractor) Extract(ctx context.Context, text string) (*types.StructuredResume, []types.SegmentedBlock, *types.ExtractionTrace, error) {
	ctx, span := extractionTracer.Start(ctx, "extraction.extract")
	defer span.End()

	preprocessed := NormalizeLayout(text)
	extTrace := &types.ExtractionTrace{}

	var lastErr error
	var lastBlocks []types.SegmentedBlock
	for _, strategy := range e.strategies {
		resume, blocks, err := strategy.Attempt(ctx, preprocessed)
		if len(blocks) > 0 {
			// 分段pass的块即使后续映射失败也保留，作为调试产物
			lastBlocks = blocks
		}

		attempt := types.ExtractionAttempt{Strategy: strategy.Name()}
		if err != nil {
			attempt.Error = err.Error()
			lastErr = err
			e.logger.Warn().Err(err).Str("strategy", string(strategy.Name())).Msg("抽取策略失败，降级到下一个策略")
		} else if resume.IsEmpty() {
			attempt.Error = "no blocks produced"
			e.logger.Warn().Str("strategy", string(strategy.Name())).Msg("抽取策略没有产出任何块，降级到下一个策略")
		} else {
			attempt.OK = true
			attempt.Blocks = resume.BlockCount()
		}
		extTrace.Attempts = append(extTrace.Attempts, attempt)

		if attempt.OK {
			extTrace.Path = strategy.Name()
			normalizeResume(resume)
			span.SetAttributes(
				attribute.String("extraction.path", string(extTrace.Path)),
				attribute.Int("extraction.blocks", resume.BlockCount()),
				attribute.Int("extraction.attempts", len(extTrace.Attempts)),
			)
			e.logger.Info().
				Str("path", string(extTrace.Path)).
				Int("blocks", resume.BlockCount()).
				Msg("结构化抽取完成")
			return resume, lastBlocks, extTrace, nil
		}
	}

	// 启发式策略对非空输入必定成功，走到这里只剩空输入的情况
	if lastErr == nil {
		lastErr = fmt.Errorf("输入文本为空")
	}
	lastStrategy := ""
	if len(e.strategies) > 0 {
		lastStrategy = string(e.strategies[len(e.strategies)-1].Name())
	}
	degradation := &types.ParseDegradation{Strategy: lastStrategy, Err: lastErr}
	span.SetAttributes(attribute.Bool("extraction.exhausted", true))
	tracing.RecordError(span, degradation, tracing.ErrorTypeInternal)
	return nil, nil, extTrace, degradation
}

// normalizeResume 清理抽取结果：字符串去空白、列表去空项、
// 缺失的block_id补成稳定的合成id (exp_1, proj_1, edu_1, ...)。
func normalizeResume(resume *types.StructuredResume) {
	for i := range resume.Experiences {
		b := &resume.Experiences[i]
		b.Company = strings.TrimSpace(b.Company)
		b.Title = strings.TrimSpace(b.Title)
		b.Location = strings.TrimSpace(b.Location)
		b.StartDate = strings.TrimSpace(b.StartDate)
		b.EndDate = strings.TrimSpace(b.EndDate)
		b.Ownership = strings.TrimSpace(b.Ownership)
		b.Bullets = cleanList(b.Bullets)
		b.SkillTags = cleanList(b.SkillTags)
		if strings.TrimSpace(b.BlockID) == "" {
			b.BlockID = fmt.Sprintf("exp_%d", i+1)
		}
	}
	for i := range resume.Projects {
		b := &resume.Projects[i]
		b.Name = strings.TrimSpace(b.Name)
		b.Role = strings.TrimSpace(b.Role)
		b.StartDate = strings.TrimSpace(b.StartDate)
		b.EndDate = strings.TrimSpace(b.EndDate)
		b.Ownership = strings.TrimSpace(b.Ownership)
		b.Bullets = cleanList(b.Bullets)
		b.SkillTags = cleanList(b.SkillTags)
		if strings.TrimSpace(b.BlockID) == "" {
			b.BlockID = fmt.Sprintf("proj_%d", i+1)
		}
	}
	for i := range resume.Education {
		b := &resume.Education[i]
		b.School = strings.TrimSpace(b.School)
		b.Degree = strings.TrimSpace(b.Degree)
		b.Field = strings.TrimSpace(b.Field)
		b.Location = strings.TrimSpace(b.Location)
		b.StartDate = strings.TrimSpace(b.StartDate)
		b.EndDate = strings.TrimSpace(b.EndDate)
		b.Bullets = cleanList(b.Bullets)
		if strings.TrimSpace(b.BlockID) == "" {
			b.BlockID = fmt.Sprintf("edu_%d", i+1)
		}
	}
}

// cleanList 去掉每项首尾空白并丢弃空项
func cleanList(items []string) []string {
	cleaned := make([]string, 0, len(items))
	for _, item := range items {
		trimmed := strings.TrimSpace(item)
		if trimmed != "" {
			cleaned = append(cleaned, trimmed)
		}
	}
	return cleaned
}
