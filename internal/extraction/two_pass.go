package extraction

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// 分段pass的系统提示：只做划分，逐行照抄，严禁改写
const segmentSystemPrompt = `You are a resume layout analyzer. Split the resume text into an ordered list of blocks.

RULES:
1. PARTITION ONLY. Copy every line verbatim. Never paraphrase, never drop lines.
2. One employer/role = one block. One project = one block. One school = one block.
3. Tag each block with a section kind: experience, project, education, or other.
4. Within each block, put company/school/project names into header_lines, titles/dates/locations into meta_lines, and descriptions into bullet_lines.
5. raw_lines must contain every line of the block verbatim, in original order.

Return structured JSON.`

// 映射pass的系统提示：逐块填充目标schema，不合并不拆分
const mapSystemPrompt = `You are a resume data mapper. Convert pre-segmented resume blocks into typed entries.

RULES:
1. Produce exactly one output entry per input block. Never merge or split blocks.
2. Blocks tagged experience go to experiences[], project to projects[], education to education[]. Drop blocks tagged other.
3. Copy bullet text from the block. Do not invent or embellish content.
4. skills_tags lists only technologies and skills explicitly mentioned in the block.
5. ownership describes the candidate's relationship to the work: primary, parallel, earlier_career, add_on, or coursework.

Return structured JSON.`

// twoPassStrategy 两趟抽取：先让模型把原文切成块，再逐块映射到
// 目标schema。分段为空或映射无产出都算失败。
type twoPassStrategy struct {
	gen *agent.Generator
}

func (s *twoPassStrategy) Name() types.ExtractionPath { return types.PathTwoPass }

func (s *twoPassStrategy) Attempt(ctx context.Context, text string) (*types.StructuredResume, []types.SegmentedBlock, error) {
	blocks, err := s.segment(ctx, text)
	if err != nil {
		return nil, nil, fmt.Errorf("分段pass失败: %w", err)
	}
	if len(blocks) == 0 {
		return nil, nil, fmt.Errorf("分段pass没有产出任何块")
	}

	resume, err := s.mapBlocks(ctx, blocks)
	if err != nil {
		return nil, blocks, fmt.Errorf("映射pass失败: %w", err)
	}
	return resume, blocks, nil
}

type segmentResult struct {
	Blocks []types.SegmentedBlock `json:"blocks"`
}

func (s *twoPassStrategy) segment(ctx context.Context, text string) ([]types.SegmentedBlock, error) {
	userPrompt := fmt.Sprintf("=== RESUME TEXT ===\n%s\n\nPartition this resume into blocks. Copy lines verbatim.", text)

	outcome, err := s.gen.Generate(ctx, segmentSystemPrompt, userPrompt, segmentSchema())
	if err != nil {
		return nil, err
	}
	if outcome.Malformed() {
		return nil, fmt.Errorf("分段输出无法解析: %w", outcome.ParseErr)
	}

	var result segmentResult
	if err := outcome.DecodeInto(&result); err != nil {
		return nil, err
	}
	return result.Blocks, nil
}

func (s *twoPassStrategy) mapBlocks(ctx context.Context, blocks []types.SegmentedBlock) (*types.StructuredResume, error) {
	blocksJSON, err := json.MarshalIndent(segmentResult{Blocks: blocks}, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("序列化分段块失败: %w", err)
	}
	userPrompt := fmt.Sprintf("=== SEGMENTED BLOCKS ===\n%s\n\nMap each block to its typed entry.", blocksJSON)

	outcome, err := s.gen.Generate(ctx, mapSystemPrompt, userPrompt, resumeSchema())
	if err != nil {
		return nil, err
	}
	if outcome.Malformed() {
		return nil, fmt.Errorf("映射输出无法解析: %w", outcome.ParseErr)
	}

	var resume types.StructuredResume
	if err := outcome.DecodeInto(&resume); err != nil {
		return nil, err
	}
	return &resume, nil
}

func stringArraySchema() map[string]any {
	return map[string]any{"type": "array", "items": map[string]any{"type": "string"}}
}

// segmentSchema 分段pass的响应schema
func segmentSchema() map[string]any {
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"blocks": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"section": map[string]any{
							"type": "string",
							"enum": []string{"experience", "project", "education", "other"},
						},
						"header_lines": stringArraySchema(),
						"meta_lines":   stringArraySchema(),
						"bullet_lines": stringArraySchema(),
						"raw_lines":    stringArraySchema(),
					},
					"required": []string{"section", "header_lines", "meta_lines", "bullet_lines", "raw_lines"},
				},
			},
		},
		"required": []string{"blocks"},
	}
}

// resumeSchema 结构化简历的目标schema，映射pass和单趟抽取共用
func resumeSchema() map[string]any {
	str := map[string]any{"type": "string"}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"experiences": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"company":     str,
						"title":       str,
						"location":    str,
						"start_date":  str,
						"end_date":    str,
						"bullets":     stringArraySchema(),
						"skills_tags": stringArraySchema(),
						"ownership":   str,
					},
					"required": []string{"company", "title", "bullets"},
				},
			},
			"projects": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"name":        str,
						"role":        str,
						"start_date":  str,
						"end_date":    str,
						"bullets":     stringArraySchema(),
						"skills_tags": stringArraySchema(),
						"ownership":   str,
					},
					"required": []string{"name", "bullets"},
				},
			},
			"education": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"school":     str,
						"degree":     str,
						"field":      str,
						"location":   str,
						"start_date": str,
						"end_date":   str,
						"bullets":    stringArraySchema(),
					},
					"required": []string{"school"},
				},
			},
		},
		"required": []string{"experiences", "projects", "education"},
	}
}
