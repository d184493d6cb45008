package types

// BlockType 结构化简历块的类型
type BlockType string

const (
	// BlockExperience 工作经历块
	BlockExperience BlockType = "experience"
	// BlockProject 项目经历块
	BlockProject BlockType = "project"
	// BlockEducation 教育经历块
	BlockEducation BlockType = "education"
	// BlockOther 无法归类的块
	BlockOther BlockType = "other"
)

// SegmentedBlock 分段pass的输出：按原文切出的一个块。
// 该pass只做划分，不改写内容，raw_lines保存块内全部原始行。
type SegmentedBlock struct {
	Section     BlockType `json:"section"`
	HeaderLines []string  `json:"header_lines"`
	MetaLines   []string  `json:"meta_lines"`
	BulletLines []string  `json:"bullet_lines"`
	RawLines    []string  `json:"raw_lines"`
}

// ExperienceBlock 一段工作经历
type ExperienceBlock struct {
	BlockID   string   `json:"block_id"`
	Company   string   `json:"company"`
	Title     string   `json:"title"`
	Location  string   `json:"location,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Bullets   []string `json:"bullets"`
	SkillTags []string `json:"skills_tags,omitempty"`
	Ownership string   `json:"ownership,omitempty"`
}

// ProjectBlock 一段项目经历
type ProjectBlock struct {
	BlockID   string   `json:"block_id"`
	Name      string   `json:"name"`
	Role      string   `json:"role,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Bullets   []string `json:"bullets"`
	SkillTags []string `json:"skills_tags,omitempty"`
	Ownership string   `json:"ownership,omitempty"`
}

// EducationBlock 一段教育经历
type EducationBlock struct {
	BlockID   string   `json:"block_id"`
	School    string   `json:"school"`
	Degree    string   `json:"degree,omitempty"`
	Field     string   `json:"field,omitempty"`
	Location  string   `json:"location,omitempty"`
	StartDate string   `json:"start_date,omitempty"`
	EndDate   string   `json:"end_date,omitempty"`
	Bullets   []string `json:"bullets,omitempty"`
}

// StructuredResume 结构化简历。block_id只在一次抽取内稳定，重跑会重新生成。
type StructuredResume struct {
	Experiences []ExperienceBlock `json:"experiences"`
	Projects    []ProjectBlock    `json:"projects"`
	Education   []EducationBlock  `json:"education"`
}

// IsEmpty 判断结构化结果是否没有任何块
func (r *StructuredResume) IsEmpty() bool {
	if r == nil {
		return true
	}
	return len(r.Experiences) == 0 && len(r.Projects) == 0 && len(r.Education) == 0
}

// BlockCount 全部块数
func (r *StructuredResume) BlockCount() int {
	if r == nil {
		return 0
	}
	return len(r.Experiences) + len(r.Projects) + len(r.Education)
}

// ExtractionPath 最终生效的抽取路径
type ExtractionPath string

const (
	// PathTwoPass 分段+映射两趟抽取
	PathTwoPass ExtractionPath = "two_pass"
	// PathSinglePass 单趟整体抽取
	PathSinglePass ExtractionPath = "single_pass"
	// PathHeuristic 本地确定性启发式抽取
	PathHeuristic ExtractionPath = "heuristic"
)

// ExtractionAttempt 降级链中一次策略尝试的结果
type ExtractionAttempt struct {
	Strategy ExtractionPath `json:"strategy"`
	OK       bool           `json:"ok"`
	Blocks   int            `json:"blocks"`
	Error    string         `json:"error,omitempty"`
}

// ExtractionTrace 记录降级链每一步的结果，用于排查抽取质量问题。
// 不影响正确性，只是观测产物。
type ExtractionTrace struct {
	Path     ExtractionPath      `json:"path"`
	Attempts []ExtractionAttempt `json:"attempts"`
}

// ExtractedSkill 聚类输入：一项技能及其证据chunk
type ExtractedSkill struct {
	Name     string   `json:"name"`
	ChunkIDs []string `json:"chunk_ids"`
}

// ExtractedExperience 聚类输入：一条经历单元及其证据chunk
type ExtractedExperience struct {
	Text     string   `json:"text"`
	ChunkIDs []string `json:"chunk_ids"`
}

// ExtractionResult 供角色聚类使用的技能/经历单元集合
type ExtractionResult struct {
	Skills      []ExtractedSkill      `json:"skills"`
	Experiences []ExtractedExperience `json:"experiences"`
}
