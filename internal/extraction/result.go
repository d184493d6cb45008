package extraction

import (
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// BuildExtractionResult 把结构化简历转成聚类输入：每段工作/项目经历
// 生成一条经历单元，技能标签去重后汇总成技能项。chunk_id通过块ID
// 关联回检索chunk，滑动窗口分块没有块ID时证据列表为空。
func BuildExtractionResult(resume *types.StructuredResume, chunks []types.Chunk) *types.ExtractionResult {
	result := &types.ExtractionResult{}
	if resume == nil {
		return result
	}

	// 块ID -> 该块派生的chunk id列表
	chunksByBlock := make(map[string][]string)
	for _, c := range chunks {
		if c.BlockID == "" {
			continue
		}
		chunksByBlock[c.BlockID] = append(chunksByBlock[c.BlockID], c.ChunkID)
	}

	// 技能按小写去重，保留首次出现的写法，证据取所有来源块的并集
	type skillEntry struct {
		name     string
		chunkIDs []string
		seen     map[string]bool
	}
	var skillOrder []string
	skillIndex := make(map[string]*skillEntry)

	addSkills := func(tags []string, blockID string) {
		for _, tag := range tags {
			tag = strings.TrimSpace(tag)
			if tag == "" {
				continue
			}
			key := strings.ToLower(tag)
			entry, ok := skillIndex[key]
			if !ok {
				entry = &skillEntry{name: tag, seen: make(map[string]bool)}
				skillIndex[key] = entry
				skillOrder = append(skillOrder, key)
			}
			for _, id := range chunksByBlock[blockID] {
				if !entry.seen[id] {
					entry.seen[id] = true
					entry.chunkIDs = append(entry.chunkIDs, id)
				}
			}
		}
	}

	for _, exp := range resume.Experiences {
		text := unitText(joinNonEmpty(exp.Title, exp.Company, unitDates(exp.StartDate, exp.EndDate)), exp.Bullets)
		if text != "" {
			result.Experiences = append(result.Experiences, types.ExtractedExperience{
				Text:     text,
				ChunkIDs: chunksByBlock[exp.BlockID],
			})
		}
		addSkills(exp.SkillTags, exp.BlockID)
	}
	for _, proj := range resume.Projects {
		text := unitText(joinNonEmpty(proj.Name, proj.Role, unitDates(proj.StartDate, proj.EndDate)), proj.Bullets)
		if text != "" {
			result.Experiences = append(result.Experiences, types.ExtractedExperience{
				Text:     text,
				ChunkIDs: chunksByBlock[proj.BlockID],
			})
		}
		addSkills(proj.SkillTags, proj.BlockID)
	}

	for _, key := range skillOrder {
		entry := skillIndex[key]
		result.Skills = append(result.Skills, types.ExtractedSkill{
			Name:     entry.name,
			ChunkIDs: entry.chunkIDs,
		})
	}
	return result
}

// unitText 经历单元文本：头部行加要点行
func unitText(header string, bullets []string) string {
	lines := make([]string, 0, len(bullets)+1)
	if header != "" {
		lines = append(lines, header)
	}
	for _, b := range bullets {
		if b = strings.TrimSpace(b); b != "" {
			lines = append(lines, b)
		}
	}
	return strings.Join(lines, "\n")
}

func joinNonEmpty(fields ...string) string {
	var parts []string
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, " | ")
}

func unitDates(start, end string) string {
	start = strings.TrimSpace(start)
	end = strings.TrimSpace(end)
	switch {
	case start != "" && end != "":
		return start + " - " + end
	case start != "":
		return start
	default:
		return end
	}
}
