package extraction

import (
	"context"
	"fmt"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

const singlePassSystemPrompt = `You are a resume parser. Extract structured entries from the resume text in one pass.

RULES:
1. One employer/role = one experiences[] entry. One project = one projects[] entry. One school = one education[] entry.
2. Copy content faithfully. Do not invent entries or embellish bullets.
3. skills_tags lists only technologies and skills explicitly mentioned in the entry.
4. ownership describes the candidate's relationship to the work: primary, parallel, earlier_career, add_on, or coursework.

Return structured JSON.`

// singlePassStrategy 单趟整体抽取：一次调用直接产出目标schema。
// 两趟路径失败后的第一级降级。
type singlePassStrategy struct {
	gen *agent.Generator
}

func (s *singlePassStrategy) Name() types.ExtractionPath { return types.PathSinglePass }

func (s *singlePassStrategy) Attempt(ctx context.Context, text string) (*types.StructuredResume, []types.SegmentedBlock, error) {
	userPrompt := fmt.Sprintf("=== RESUME TEXT ===\n%s\n\nExtract all experiences, projects, and education entries.", text)

	outcome, err := s.gen.Generate(ctx, singlePassSystemPrompt, userPrompt, resumeSchema())
	if err != nil {
		return nil, nil, fmt.Errorf("单趟抽取失败: %w", err)
	}
	if outcome.Malformed() {
		return nil, nil, fmt.Errorf("单趟抽取输出无法解析: %w", outcome.ParseErr)
	}

	var resume types.StructuredResume
	if err := outcome.DecodeInto(&resume); err != nil {
		return nil, nil, err
	}
	return &resume, nil, nil
}
