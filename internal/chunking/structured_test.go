package chunking

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// TestStructuredBlocksSingleExperience 单个经历块生成一个自描述chunk
func TestStructuredBlocksSingleExperience(t *testing.T) {
	resume := &types.StructuredResume{
		Experiences: []types.ExperienceBlock{
			{
				BlockID:   "exp_1",
				Company:   "TechCorp Inc.",
				Title:     "Software Engineer",
				Location:  "SF",
				StartDate: "2023",
				EndDate:   "Present",
				Bullets:   []string{"Built APIs in Python"},
			},
		},
	}

	chunks := StructuredBlocks(resume, 1200, 150)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "exp_1__experience__0", c.ChunkID)
	assert.Equal(t, types.SourceResume, c.SourceType)
	assert.Equal(t, "exp_1", c.BlockID)
	assert.Equal(t, "experience", c.BlockType)
	require.NotNil(t, c.SubIndex)
	assert.Equal(t, 0, *c.SubIndex)

	assert.Equal(t, "Software Engineer | TechCorp Inc. | SF | 2023 - Present", c.Header)
	assert.Equal(t, c.Header+"\n- Built APIs in Python", c.Text)
}

// TestStructuredBlocksHeaderSkipsAbsentFields 缺失字段不出现在头部
func TestStructuredBlocksHeaderSkipsAbsentFields(t *testing.T) {
	resume := &types.StructuredResume{
		Experiences: []types.ExperienceBlock{
			{BlockID: "exp_1", Company: "Acme", Title: "Engineer", StartDate: "2020"},
		},
	}

	chunks := StructuredBlocks(resume, 1200, 150)
	require.Len(t, chunks, 1)
	assert.Equal(t, "Engineer | Acme | 2020", chunks[0].Header, "缺失的location和结束日期不应留下分隔符")
}

// TestStructuredBlocksSplitsLongBody 超长正文被切成多个chunk，头部逐个重复
func TestStructuredBlocksSplitsLongBody(t *testing.T) {
	var bullets []string
	for i := 0; i < 40; i++ {
		bullets = append(bullets, strings.Repeat("did a thing ", 8)) // 每条约96字符
	}
	resume := &types.StructuredResume{
		Experiences: []types.ExperienceBlock{
			{BlockID: "exp_1", Company: "BigCo", Title: "SRE", Bullets: bullets},
		},
	}

	chunks := StructuredBlocks(resume, 1200, 150)
	require.Greater(t, len(chunks), 1, "正文超过预算时应切成多个chunk")

	header := "SRE | BigCo"
	for i, c := range chunks {
		assert.Equal(t, header, c.Header)
		assert.True(t, strings.HasPrefix(c.Text, header+"\n"), "每个chunk都应以头部开头")
		require.NotNil(t, c.SubIndex)
		assert.Equal(t, i, *c.SubIndex, "sub_index应按顺序递增")
		assert.LessOrEqual(t, len([]rune(c.Text)), 1200, "chunk长度不应超过上限")
	}

	assert.Equal(t, "exp_1__experience__0", chunks[0].ChunkID)
	assert.Equal(t, "exp_1__experience__1", chunks[1].ChunkID)
}

// TestStructuredBlocksBodyLines 技能标签与职责属性进入正文
func TestStructuredBlocksBodyLines(t *testing.T) {
	resume := &types.StructuredResume{
		Projects: []types.ProjectBlock{
			{
				BlockID:   "proj_1",
				Name:      "Search Platform",
				Role:      "Tech Lead",
				Bullets:   []string{"Led rollout"},
				SkillTags: []string{"Go", "Kafka"},
				Ownership: "primary",
			},
		},
	}

	chunks := StructuredBlocks(resume, 1200, 150)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "proj_1__project__0", c.ChunkID)
	assert.Contains(t, c.Text, "- Led rollout")
	assert.Contains(t, c.Text, "Skills: Go, Kafka")
	assert.Contains(t, c.Text, "Ownership: primary")
}

// TestStructuredBlocksHeaderOnlyEducation 无要点的教育块保留头部chunk
func TestStructuredBlocksHeaderOnlyEducation(t *testing.T) {
	resume := &types.StructuredResume{
		Education: []types.EducationBlock{
			{BlockID: "edu_1", School: "State University", Degree: "BS", Field: "CS", StartDate: "2016", EndDate: "2020"},
		},
	}

	chunks := StructuredBlocks(resume, 1200, 150)
	require.Len(t, chunks, 1)

	c := chunks[0]
	assert.Equal(t, "edu_1__education__0", c.ChunkID)
	assert.Equal(t, "State University | BS | CS | 2016 - 2020", c.Text, "无正文时chunk只含头部")
}

// TestStructuredBlocksEmpty 空结构化结果不产生chunk
func TestStructuredBlocksEmpty(t *testing.T) {
	assert.Nil(t, StructuredBlocks(nil, 1200, 150))
	assert.Nil(t, StructuredBlocks(&types.StructuredResume{}, 1200, 150))
}
