package types

// RoleCluster 固定的岗位族标签
type RoleCluster string

const (
	// ClusterMLE 机器学习工程师
	ClusterMLE RoleCluster = "MLE"
	// ClusterDS 数据科学家
	ClusterDS RoleCluster = "DS"
	// ClusterSWE 软件工程师
	ClusterSWE RoleCluster = "SWE"
	// ClusterQR 量化研究员
	ClusterQR RoleCluster = "QR"
	// ClusterQD 量化开发
	ClusterQD RoleCluster = "QD"
)

// AllClusters 固定聚类集合，顺序稳定
var AllClusters = []RoleCluster{ClusterMLE, ClusterDS, ClusterSWE, ClusterQR, ClusterQD}

// RoleTier 一个单元对某个岗位族的相关度档位。1=核心，2=相邻，3=弱相关。
type RoleTier struct {
	Role RoleCluster `json:"role"`
	Tier int         `json:"tier"`
}

// ClusterAssignment 聚类协作方对一个技能/经历单元的归类结果
type ClusterAssignment struct {
	ItemID    string     `json:"item_id"`
	Text      string     `json:"text"`
	RoleTiers []RoleTier `json:"role_tiers"`
	Ownership string     `json:"ownership,omitempty"`
	ChunkIDs  []string   `json:"chunk_ids,omitempty"`
}

// HasTierData 该归类是否携带有效档位。协作方可能只给岗位族不给档位
// (tier为0)，这种归类走均分兜底而不是档位加权。
func (a *ClusterAssignment) HasTierData() bool {
	for _, rt := range a.RoleTiers {
		if rt.Tier >= 1 && rt.Tier <= 3 {
			return true
		}
	}
	return false
}

// 经历条目的来源标签
const (
	ItemSourceSticker   = "sticker"
	ItemSourcePasted    = "pasted_text"
	ItemSourceResume    = "uploaded_resume"
	ItemSourceExtracted = "extraction"
)

// ExperienceItem 聚类展示用的经历条目（贴纸、粘贴文本、简历chunk等）
type ExperienceItem struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Text   string `json:"text"`
	Source string `json:"source"` // sticker / pasted_text / uploaded_resume / extraction
}

// ClusteredGroup 一个岗位族下的条目及其证据
type ClusteredGroup struct {
	ClusterID    string           `json:"cluster_id"`
	ClusterLabel string           `json:"cluster_label"`
	Items        []ExperienceItem `json:"items"`
	Summary      string           `json:"summary"`
	Evidence     []EvidenceChunk  `json:"evidence"`
}

// RoleFitDistribution 归一化的岗位族匹配分布。
// 五个族的值和为1.0；没有任何证据时全部为0。
type RoleFitDistribution map[RoleCluster]float64

// ClusterResult 聚类产物，持久化到resume_clusters.json
type ClusterResult struct {
	SessionID           string              `json:"session_id"`
	Clusters            []ClusteredGroup    `json:"clusters"`
	TotalItems          int                 `json:"total_items"`
	RoleFitDistribution RoleFitDistribution `json:"role_fit_distribution,omitempty"`
}

// ClusterMatch 单个岗位族对JD的匹配结果
type ClusterMatch struct {
	Cluster  string   `json:"cluster"`
	MatchPct float64  `json:"match_pct"`
	Evidence Evidence `json:"evidence"`
}
