package chunking

import (
	"fmt"
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// StructuredBlocks 按结构化简历的块切分：每个块合成一条头部行，
// 正文行打包进不超过maxChars的chunk，重叠只作用于正文，头部在
// 每个派生chunk中原样重复，保证chunk自描述。
// chunk id 形如 {block_id}__{block_type}__{sub_index}。
func StructuredBlocks(resume *types.StructuredResume, maxChars, overlap int) []types.Chunk {
	if resume == nil {
		return nil
	}
	if maxChars <= 0 {
		maxChars = constants.DefaultBlockMaxChars
	}
	if overlap < 0 {
		overlap = constants.DefaultBlockOverlap
	}

	var chunks []types.Chunk
	for _, exp := range resume.Experiences {
		header := buildHeader(exp.Title, exp.Company, exp.Location, dateRange(exp.StartDate, exp.EndDate))
		body := blockBody(exp.Bullets, exp.SkillTags, exp.Ownership)
		chunks = append(chunks, packBlock(exp.BlockID, types.BlockExperience, header, body, maxChars, overlap)...)
	}
	for _, proj := range resume.Projects {
		header := buildHeader(proj.Name, proj.Role, dateRange(proj.StartDate, proj.EndDate))
		body := blockBody(proj.Bullets, proj.SkillTags, proj.Ownership)
		chunks = append(chunks, packBlock(proj.BlockID, types.BlockProject, header, body, maxChars, overlap)...)
	}
	for _, edu := range resume.Education {
		header := buildHeader(edu.School, edu.Degree, edu.Field, dateRange(edu.StartDate, edu.EndDate))
		body := blockBody(edu.Bullets, nil, "")
		chunks = append(chunks, packBlock(edu.BlockID, types.BlockEducation, header, body, maxChars, overlap)...)
	}
	return chunks
}

// buildHeader 拼接头部行，跳过空字段
func buildHeader(fields ...string) string {
	var parts []string
	for _, f := range fields {
		f = strings.TrimSpace(f)
		if f != "" {
			parts = append(parts, f)
		}
	}
	return strings.Join(parts, constants.HeaderSeparator)
}

// dateRange 合成日期区间，缺失一侧时只保留另一侧
func dateRange(start, end string) string {
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

// blockBody 组装块的正文行：要点、技能标签、职责属性
func blockBody(bullets, skillTags []string, ownership string) []string {
	var lines []string
	for _, b := range bullets {
		b = strings.TrimSpace(b)
		if b != "" {
			lines = append(lines, "- "+b)
		}
	}
	if len(skillTags) > 0 {
		var tags []string
		for _, t := range skillTags {
			t = strings.TrimSpace(t)
			if t != "" {
				tags = append(tags, t)
			}
		}
		if len(tags) > 0 {
			lines = append(lines, "Skills: "+strings.Join(tags, ", "))
		}
	}
	if ownership = strings.TrimSpace(ownership); ownership != "" {
		lines = append(lines, "Ownership: "+ownership)
	}
	return lines
}

// packBlock 把一个块的正文切进预算内，正文窗口间保留重叠。
// 头部不参与重叠计算，但占用每个chunk的长度预算。
func packBlock(blockID string, blockType types.BlockType, header string, body []string, maxChars, overlap int) []types.Chunk {
	bodyText := strings.Join(body, "\n")
	if header == "" && strings.TrimSpace(bodyText) == "" {
		return nil
	}

	// 正文预算扣掉头部和分隔换行
	budget := maxChars - len([]rune(header)) - 1
	if budget <= 0 {
		budget = maxChars
	}

	pieces := SlidingWindow(bodyText, budget, overlap)
	if len(pieces) == 0 {
		// 没有正文时保留一条只含头部的chunk
		pieces = []string{""}
	}

	chunks := make([]types.Chunk, 0, len(pieces))
	for i, piece := range pieces {
		text := header
		if piece != "" {
			if text != "" {
				text += "\n"
			}
			text += piece
		}
		chunks = append(chunks, types.Chunk{
			ChunkID:    fmt.Sprintf("%s__%s__%d", blockID, blockType, i),
			Text:       text,
			SourceType: types.SourceResume,
			BlockID:    blockID,
			BlockType:  string(blockType),
			SubIndex:   types.IntPtr(i),
			Header:     header,
		})
	}
	return chunks
}
