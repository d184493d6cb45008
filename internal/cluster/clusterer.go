package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

var clusterTracer = otel.Tracer("jobfit/cluster")

// 归类系统提示：固定五个岗位族，带档位和职责属性
const assignSystemPrompt = `You are a career advisor classifying resume content into role families.

ROLE FAMILIES:
- MLE: Machine Learning Engineer (model training/serving, ML systems, feature pipelines)
- DS: Data Scientist (analytics, experimentation, statistical modeling)
- SWE: Software Engineer (backend services, distributed systems, applications)
- QR: Quantitative Researcher (alpha research, signal discovery, statistical modeling of markets)
- QD: Quantitative Developer (trading systems, market data infrastructure, low-latency engineering)

RULES:
1. Assign each item to one or more role families. tier 1 = core evidence, tier 2 = adjacent, tier 3 = weak signal.
2. ownership describes how the candidate relates to the work: primary, parallel, earlier_career, add_on, or coursework.
3. Echo item_id exactly. Never invent items and never merge them.
4. Skip items that carry no signal for any family.
5. For each family that received at least one item, write a one-sentence summary of its evidence.

Return structured JSON.`

// Unit 聚类输入单元：一项技能或一段经历。只有item_id/kind/text
// 进提示词，证据chunk和来源标签在本地回填。
type Unit struct {
	ID       string   `json:"item_id"`
	Kind     string   `json:"kind"` // skill / experience
	Text     string   `json:"text"`
	Label    string   `json:"-"`
	Source   string   `json:"-"`
	ChunkIDs []string `json:"-"`
}

// UnitsFromExtraction 把抽取产物展开成聚类单元
func UnitsFromExtraction(result *types.ExtractionResult) []Unit {
	if result == nil {
		return nil
	}
	units := make([]Unit, 0, len(result.Skills)+len(result.Experiences))
	for i, skill := range result.Skills {
		name := strings.TrimSpace(skill.Name)
		if name == "" {
			continue
		}
		units = append(units, Unit{
			ID:       fmt.Sprintf("skill_%d", i+1),
			Kind:     "skill",
			Text:     name,
			Label:    name,
			Source:   types.ItemSourceExtracted,
			ChunkIDs: skill.ChunkIDs,
		})
	}
	for i, exp := range result.Experiences {
		text := strings.TrimSpace(exp.Text)
		if text == "" {
			continue
		}
		units = append(units, Unit{
			ID:       fmt.Sprintf("experience_%d", i+1),
			Kind:     "experience",
			Text:     text,
			Label:    firstLine(text),
			Source:   types.ItemSourceExtracted,
			ChunkIDs: exp.ChunkIDs,
		})
	}
	return units
}

// Clusterer 岗位族聚类引擎：让模型把单元归入固定岗位族，再折算成
// 归一化的匹配分布和各族条目分组
type Clusterer struct {
	gen    *agent.Generator
	logger zerolog.Logger
}

// NewClusterer 创建聚类引擎
func NewClusterer(gen *agent.Generator) (*Clusterer, error) {
	if gen == nil {
		return nil, fmt.Errorf("生成器不能为空")
	}
	return &Clusterer{
		gen:    gen,
		logger: logger.Logger.With().Str("component", "clusterer").Logger(),
	}, nil
}

// Cluster 对一组单元执行完整聚类。模型输出解析失败按空归类降级，
// 分布全零；只有模型调用本身失败才返回错误。
func (c *Clusterer) Cluster(ctx context.Context, sessionID string, units []Unit, chunks []types.Chunk) (*types.ClusterResult, error) {
	ctx, span := clusterTracer.Start(ctx, "cluster.cluster")
	defer span.End()
	span.SetAttributes(
		attribute.String("session_id", sessionID),
		attribute.Int("cluster.units", len(units)),
	)

	result := &types.ClusterResult{
		SessionID:           sessionID,
		TotalItems:          len(units),
		RoleFitDistribution: ComputeDistribution(nil),
	}
	if len(units) == 0 {
		return result, nil
	}

	assignments, summaries, err := c.assign(ctx, units)
	if err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.Int("cluster.assignments", len(assignments)))

	result.RoleFitDistribution = ComputeDistribution(assignments)
	result.Clusters = buildGroups(assignments, summaries, unitIndex(units), chunks)

	c.logger.Info().
		Str("session_id", sessionID).
		Int("units", len(units)).
		Int("assignments", len(assignments)).
		Int("clusters", len(result.Clusters)).
		Msg("岗位族聚类完成")
	return result, nil
}

type assignmentResponse struct {
	Assignments []rawAssignment  `json:"assignments"`
	Summaries   []clusterSummary `json:"summaries"`
}

type rawAssignment struct {
	ItemID    string           `json:"item_id"`
	RoleTiers []types.RoleTier `json:"role_tiers"`
	Ownership string           `json:"ownership"`
}

type clusterSummary struct {
	Cluster string `json:"cluster"`
	Summary string `json:"summary"`
}

func (c *Clusterer) assign(ctx context.Context, units []Unit) ([]types.ClusterAssignment, map[types.RoleCluster]string, error) {
	unitsJSON, err := json.MarshalIndent(units, "", "  ")
	if err != nil {
		return nil, nil, fmt.Errorf("序列化聚类单元失败: %w", err)
	}
	userPrompt := fmt.Sprintf("=== ITEMS ===\n%s\n\nAssign each item to role families.", unitsJSON)

	outcome, err := c.gen.Generate(ctx, assignSystemPrompt, userPrompt, assignmentSchema())
	if err != nil {
		return nil, nil, fmt.Errorf("聚类调用失败: %w", err)
	}
	if outcome.Malformed() {
		c.logger.Warn().Err(outcome.ParseErr).Msg("聚类输出无法解析，按空归类降级")
		return nil, nil, nil
	}

	var resp assignmentResponse
	if err := outcome.DecodeInto(&resp); err != nil {
		c.logger.Warn().Err(err).Msg("聚类输出结构不符，按空归类降级")
		return nil, nil, nil
	}

	byID := unitIndex(units)
	assignments := make([]types.ClusterAssignment, 0, len(resp.Assignments))
	for _, raw := range resp.Assignments {
		unit, ok := byID[raw.ItemID]
		if !ok {
			// 模型编造的条目直接丢弃
			continue
		}
		tiers := make([]types.RoleTier, 0, len(raw.RoleTiers))
		for _, rt := range raw.RoleTiers {
			if knownCluster(rt.Role) {
				tiers = append(tiers, rt)
			}
		}
		if len(tiers) == 0 {
			continue
		}
		assignments = append(assignments, types.ClusterAssignment{
			ItemID:    raw.ItemID,
			Text:      unit.Text,
			RoleTiers: tiers,
			Ownership: raw.Ownership,
			ChunkIDs:  unit.ChunkIDs,
		})
	}

	summaries := make(map[types.RoleCluster]string, len(resp.Summaries))
	for _, s := range resp.Summaries {
		if cl := types.RoleCluster(s.Cluster); knownCluster(cl) {
			summaries[cl] = strings.TrimSpace(s.Summary)
		}
	}
	return assignments, summaries, nil
}

func unitIndex(units []Unit) map[string]Unit {
	byID := make(map[string]Unit, len(units))
	for _, u := range units {
		byID[u.ID] = u
	}
	return byID
}

// buildGroups 组装各族的条目和证据：条目按归类顺序收集并去重，
// 证据按chunk_id去重后解析回chunk文本。没有条目的族不输出。
func buildGroups(assignments []types.ClusterAssignment, summaries map[types.RoleCluster]string, byID map[string]Unit, chunks []types.Chunk) []types.ClusteredGroup {
	textByChunk := make(map[string]string, len(chunks))
	for _, ch := range chunks {
		textByChunk[ch.ChunkID] = ch.Text
	}

	type accum struct {
		items     []types.ExperienceItem
		evidence  []types.EvidenceChunk
		seenItem  map[string]bool
		seenChunk map[string]bool
	}
	accums := make(map[types.RoleCluster]*accum)

	for _, a := range assignments {
		for _, rt := range a.RoleTiers {
			if !knownCluster(rt.Role) {
				continue
			}
			acc := accums[rt.Role]
			if acc == nil {
				acc = &accum{seenItem: make(map[string]bool), seenChunk: make(map[string]bool)}
				accums[rt.Role] = acc
			}
			if !acc.seenItem[a.ItemID] {
				acc.seenItem[a.ItemID] = true
				item := types.ExperienceItem{ID: a.ItemID, Text: a.Text, Source: types.ItemSourceExtracted}
				if unit, ok := byID[a.ItemID]; ok {
					item.Label = unit.Label
					item.Source = unit.Source
				}
				if item.Label == "" {
					item.Label = firstLine(a.Text)
				}
				acc.items = append(acc.items, item)
			}
			for _, id := range a.ChunkIDs {
				if acc.seenChunk[id] {
					continue
				}
				acc.seenChunk[id] = true
				acc.evidence = append(acc.evidence, types.EvidenceChunk{
					ChunkID: id,
					Text:    textByChunk[id],
					Source:  "resume",
				})
			}
		}
	}

	var groups []types.ClusteredGroup
	for _, cl := range types.AllClusters {
		acc := accums[cl]
		if acc == nil || len(acc.items) == 0 {
			continue
		}
		groups = append(groups, types.ClusteredGroup{
			ClusterID:    string(cl),
			ClusterLabel: ClusterLabel(cl),
			Items:        acc.items,
			Summary:      summaries[cl],
			Evidence:     acc.evidence,
		})
	}
	return groups
}

// firstLine 取第一行作为条目标签，过长时截断
func firstLine(text string) string {
	line := text
	if idx := strings.IndexByte(text, '\n'); idx >= 0 {
		line = text[:idx]
	}
	line = strings.TrimSpace(line)
	const maxLabel = 60
	runes := []rune(line)
	if len(runes) > maxLabel {
		return string(runes[:maxLabel-3]) + "..."
	}
	return line
}

// assignmentSchema 归类响应的schema
func assignmentSchema() map[string]any {
	clusterEnum := make([]string, len(types.AllClusters))
	for i, c := range types.AllClusters {
		clusterEnum[i] = string(c)
	}
	return map[string]any{
		"type": "object",
		"properties": map[string]any{
			"assignments": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"item_id": map[string]any{"type": "string"},
						"role_tiers": map[string]any{
							"type": "array",
							"items": map[string]any{
								"type": "object",
								"properties": map[string]any{
									"role": map[string]any{"type": "string", "enum": clusterEnum},
									"tier": map[string]any{"type": "integer", "minimum": 1, "maximum": 3},
								},
								"required": []string{"role", "tier"},
							},
						},
						"ownership": map[string]any{
							"type": "string",
							"enum": []string{"primary", "parallel", "earlier_career", "add_on", "coursework"},
						},
					},
					"required": []string{"item_id", "role_tiers"},
				},
			},
			"summaries": map[string]any{
				"type": "array",
				"items": map[string]any{
					"type": "object",
					"properties": map[string]any{
						"cluster": map[string]any{"type": "string", "enum": clusterEnum},
						"summary": map[string]any{"type": "string"},
					},
					"required": []string{"cluster", "summary"},
				},
			},
		},
		"required": []string{"assignments"},
	}
}
