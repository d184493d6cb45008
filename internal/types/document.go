package types

// SourceType 标识chunk的来源文档类型
type SourceType string

const (
	// SourceResume 简历侧的chunk
	SourceResume SourceType = "resume"
	// SourceJD 岗位描述侧的chunk
	SourceJD SourceType = "jd"
)

// RoleType 目标岗位类型
type RoleType string

const (
	RoleDS    RoleType = "DS"
	RoleMLE   RoleType = "MLE"
	RoleSWE   RoleType = "SWE"
	RoleOther RoleType = "OTHER"
)

// LevelType 岗位级别
type LevelType string

const (
	LevelEntry  LevelType = "entry"
	LevelJunior LevelType = "junior"
	LevelMid    LevelType = "mid"
	LevelSenior LevelType = "senior"
	LevelAny    LevelType = "any"
)

// Chunk 检索单元：一段有界文本及其元数据。
// JSON字段名是持久化契约的一部分（resume_meta.json / jd_meta.json），
// 其他协作方会直接读取这些文件做调试，不能随意改名。
type Chunk struct {
	ChunkID    string     `json:"chunk_id"`
	Text       string     `json:"text"`
	SourceType SourceType `json:"source_type"`

	// 简历侧字段。ChunkIndex 用指针区分"未设置"和合法的 0
	SessionID  string `json:"session_id,omitempty"`
	ChunkIndex *int   `json:"chunk_index,omitempty"`

	// 结构化分块字段（按块分块时填充）
	BlockID   string `json:"block_id,omitempty"`
	BlockType string `json:"block_type,omitempty"`
	SubIndex  *int   `json:"sub_index,omitempty"`
	Header    string `json:"header,omitempty"`

	// JD侧字段
	DocID string    `json:"doc_id,omitempty"`
	Role  RoleType  `json:"role,omitempty"`
	Level LevelType `json:"level,omitempty"`
	Title string    `json:"title,omitempty"`
}

// IntPtr 返回整数的指针，用于填充可选索引字段
func IntPtr(v int) *int {
	return &v
}

// EvidenceChunk 检索命中结果，附带相似度分数
type EvidenceChunk struct {
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Source  string  `json:"source"` // "resume" 或 "jd"
	Score   float64 `json:"score"`
}

// Evidence 一次分析调用引用的双侧证据
type Evidence struct {
	ResumeChunks []EvidenceChunk `json:"resume_chunks"`
	JDChunks     []EvidenceChunk `json:"jd_chunks"`
}

// JDItem 待入库的一条岗位描述
type JDItem struct {
	Title string    `json:"title"`
	Role  RoleType  `json:"role"`
	Level LevelType `json:"level"`
	Text  string    `json:"text"`
}
