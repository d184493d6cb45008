package constants

// Session artifact file names. These are stable contracts: other collaborators
// read them directly for debugging, do not rename.
const (
	RawTextFile    = "resume_raw.txt"
	ChunkMetaFile  = "resume_meta.json"
	IndexFile      = "resume.index"
	StructuredFile = "resume_structured.json"
	ClustersFile   = "resume_clusters.json"
	BlocksFile     = "resume_blocks.json" // 分段pass的调试产物
)

// Global JD corpus artifacts, relative to the data directory.
const (
	JDIndexFile = "jd.index"
	JDMetaFile  = "jd_meta.json"

	SessionsDirName = "sessions"
)

// Pipeline defaults.
const (
	DefaultChunkSize    = 800
	DefaultChunkOverlap = 120
	DefaultTopK         = 6
	DefaultWorkers      = 2

	// 结构化分块参数
	DefaultBlockMaxChars = 1200
	DefaultBlockOverlap  = 150

	// embedding批量上限，超过会被上游拒绝
	EmbedBatchSize = 100

	// LinkedIn JD抓取后保留的最大字符数
	MaxJDFetchChars = 20000
)

// HeaderSeparator joins synthesized header fields in structured-block chunks,
// and is what tab runs collapse to during layout normalization.
const HeaderSeparator = " | "
