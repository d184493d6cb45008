package cluster

import (
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// 档位权重：1=核心证据 2=相邻 3=弱相关
var tierWeights = map[int]float64{
	1: 1.0,
	2: 0.6,
	3: 0.3,
}

// 职责属性系数。未识别或缺失的属性按1.0计
var ownershipMultipliers = map[string]float64{
	"primary":        1.0,
	"parallel":       0.8,
	"earlier_career": 0.7,
	"add_on":         0.6,
	"coursework":     0.4,
}

var clusterLabels = map[types.RoleCluster]string{
	types.ClusterMLE: "Machine Learning Engineer",
	types.ClusterDS:  "Data Scientist",
	types.ClusterSWE: "Software Engineer",
	types.ClusterQR:  "Quantitative Researcher",
	types.ClusterQD:  "Quantitative Developer",
}

// ClusterLabel 岗位族的展示名
func ClusterLabel(c types.RoleCluster) string {
	if label, ok := clusterLabels[c]; ok {
		return label
	}
	return string(c)
}

func knownCluster(c types.RoleCluster) bool {
	_, ok := clusterLabels[c]
	return ok
}

func ownershipMultiplier(ownership string) float64 {
	if m, ok := ownershipMultipliers[strings.ToLower(strings.TrimSpace(ownership))]; ok {
		return m
	}
	return 1.0
}

// ComputeDistribution 把归类结果折算成五族归一化分布。
// 任一归类携带有效档位时走档位加权(档位权重×职责系数)，否则每个
// 单元在其归入的族之间均分1.0。总权重为零时五族全零，绝不产生NaN。
// 返回的map始终恰好包含五个族。
func ComputeDistribution(assignments []types.ClusterAssignment) types.RoleFitDistribution {
	dist := make(types.RoleFitDistribution, len(types.AllClusters))
	for _, c := range types.AllClusters {
		dist[c] = 0
	}

	tiered := false
	for i := range assignments {
		if assignments[i].HasTierData() {
			tiered = true
			break
		}
	}

	for _, a := range assignments {
		if tiered {
			mult := ownershipMultiplier(a.Ownership)
			for _, rt := range a.RoleTiers {
				w, ok := tierWeights[rt.Tier]
				if !ok || !knownCluster(rt.Role) {
					continue
				}
				dist[rt.Role] += w * mult
			}
			continue
		}

		// 均分兜底：按该单元归入的不重复族数平摊
		seen := make(map[types.RoleCluster]bool, len(a.RoleTiers))
		var roles []types.RoleCluster
		for _, rt := range a.RoleTiers {
			if knownCluster(rt.Role) && !seen[rt.Role] {
				seen[rt.Role] = true
				roles = append(roles, rt.Role)
			}
		}
		if len(roles) == 0 {
			continue
		}
		share := 1.0 / float64(len(roles))
		for _, r := range roles {
			dist[r] += share
		}
	}

	var total float64
	for _, v := range dist {
		total += v
	}
	if total > 0 {
		for k := range dist {
			dist[k] /= total
		}
	}
	return dist
}
