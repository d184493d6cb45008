package types

// FitRequest 岗位匹配分析请求。JD证据来源三选一：use_curated_jd、
// jd_text、jd_url，按此优先级取第一个给出的。
type FitRequest struct {
	SessionID    string   `json:"session_id"`
	TargetRole   RoleType `json:"target_role"`
	UseCuratedJD bool     `json:"use_curated_jd"`
	JDText       string   `json:"jd_text,omitempty"`
	JDURL        string   `json:"jd_url,omitempty"`
}

// RoleRecommendation 一条岗位推荐，score限定在[0,1]
type RoleRecommendation struct {
	Role    string   `json:"role"`
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons"`
}

// Requirements JD证据里提取的岗位要求
type Requirements struct {
	MustHave   []string `json:"must_have"`
	NiceToHave []string `json:"nice_to_have"`
}

// GapAnalysis 差距分析：已覆盖、缺失、需要向用户追问的点
type GapAnalysis struct {
	Matched          []string `json:"matched"`
	Missing          []string `json:"missing"`
	AskUserQuestions []string `json:"ask_user_questions"`
}

// FitAnalysis 岗位匹配分析结果
type FitAnalysis struct {
	RecommendedRoles []RoleRecommendation `json:"recommended_roles"`
	Requirements     Requirements         `json:"requirements"`
	Gap              GapAnalysis          `json:"gap"`
	Evidence         Evidence             `json:"evidence"`
}

// GenerateRequest 定制简历生成请求，JD来源规则同FitRequest，
// 但三个来源都缺省时JD证据为空而不报错
type GenerateRequest struct {
	SessionID    string   `json:"session_id"`
	TargetRole   RoleType `json:"target_role"`
	UseCuratedJD bool     `json:"use_curated_jd"`
	JDText       string   `json:"jd_text,omitempty"`
	JDURL        string   `json:"jd_url,omitempty"`
}

// GeneratedResume 生成的简历结构化内容
type GeneratedResume struct {
	Education  []string `json:"education"`
	Experience []string `json:"experience"`
	Skills     []string `json:"skills"`
}

// GenerateResult 定制简历生成结果：markdown渲染和结构化两份
type GenerateResult struct {
	ResumeMarkdown   string          `json:"resume_markdown"`
	ResumeStructured GeneratedResume `json:"resume_structured"`
	NeedInfo         []string        `json:"need_info"`
	Evidence         Evidence        `json:"evidence"`
}

// MatchRequest 按岗位族逐簇对比JD的请求
type MatchRequest struct {
	SessionID    string `json:"session_id"`
	UseCuratedJD bool   `json:"use_curated_jd"`
	JDText       string `json:"jd_text,omitempty"`
	Debug        bool   `json:"debug"`
}

// MatchDebugCluster debug载荷里一簇的检索概况
type MatchDebugCluster struct {
	ClusterID    string `json:"cluster_id"`
	ClusterLabel string `json:"cluster_label"`
	ItemsCount   int    `json:"items_count"`
	Query        string `json:"query"`
}

// MatchDebug 按簇匹配的调试载荷
type MatchDebug struct {
	Clusters []MatchDebugCluster `json:"clusters"`
}

// MatchResult 按簇匹配结果。OverallMatchPct在没有任何簇时为null。
type MatchResult struct {
	ClusterMatches  []ClusterMatch `json:"cluster_matches"`
	OverallMatchPct *float64       `json:"overall_match_pct"`
	Debug           *MatchDebug    `json:"debug,omitempty"`
}

// ExperienceClusterRequest 经历聚类请求：贴纸条目、粘贴的简历文本、
// 已索引会话的chunk三路汇总
type ExperienceClusterRequest struct {
	SessionID  string           `json:"session_id,omitempty"`
	Items      []ExperienceItem `json:"items"`
	ResumeText string           `json:"resume_text,omitempty"`
}
