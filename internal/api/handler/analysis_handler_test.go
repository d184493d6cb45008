package handler

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

func TestAnalyzeFitValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := performJSON(t, env.hertz, "POST", "/analyze/fit", types.FitRequest{TargetRole: "MLE"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "session_id is required", decodeError(t, resp).Error)

	resp = performJSON(t, env.hertz, "POST", "/analyze/fit", types.FitRequest{SessionID: "sess-1"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "target_role is required", decodeError(t, resp).Error)

	resp = performRaw(env.hertz, "POST", "/analyze/fit", []byte("not json"), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Invalid JSON body", decodeError(t, resp).Error)
}

func TestAnalyzeFitResumeNotReady(t *testing.T) {
	env := newTestEnv(t)

	resp := performJSON(t, env.hertz, "POST", "/analyze/fit",
		types.FitRequest{SessionID: "sess-none", TargetRole: "MLE", JDText: "some jd"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	body := decodeError(t, resp)
	assert.Equal(t, "Session sess-none resume not ready. Check /resume/status.", body.Error)
	assert.Equal(t, "validation", body.Code)
}

func TestAnalyzeFitNoJDSource(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-fit-1")

	resp := performJSON(t, env.hertz, "POST", "/analyze/fit",
		types.FitRequest{SessionID: "sess-fit-1", TargetRole: "MLE"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Either use_curated_jd=true or provide jd_text or jd_url", decodeError(t, resp).Error)
}

func TestAnalyzeFitJDURLUnsupported(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-fit-2")

	resp := performJSON(t, env.hertz, "POST", "/analyze/fit",
		types.FitRequest{SessionID: "sess-fit-2", TargetRole: "MLE", JDURL: "https://www.linkedin.com/jobs/view/123"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "jd_url is not supported by this deployment", decodeError(t, resp).Error)
}

func TestAnalyzeFitWithJDText(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-fit-3")

	resp := performJSON(t, env.hertz, "POST", "/analyze/fit",
		types.FitRequest{SessionID: "sess-fit-3", TargetRole: "MLE", JDText: "We need Go and ML experience"})
	require.Equal(t, http.StatusOK, resp.Code, "就绪会话的fit分析应成功: %s", resp.Body.String())

	var fit types.FitAnalysis
	decodeBody(t, resp, &fit)
	require.Len(t, fit.RecommendedRoles, 1)
	assert.Equal(t, "MLE", fit.RecommendedRoles[0].Role)
	assert.InDelta(t, 0.82, fit.RecommendedRoles[0].Score, 1e-9)
	assert.Equal(t, []string{"Python"}, fit.Requirements.MustHave)
	assert.Equal(t, []string{"Kubernetes"}, fit.Gap.Missing)
	assert.NotEmpty(t, fit.Evidence.ResumeChunks, "fit结果应带简历证据")
	assert.NotEmpty(t, fit.Evidence.JDChunks, "给了jd_text时应带JD证据")
}

func TestGenerateResumeValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := performJSON(t, env.hertz, "POST", "/resume/generate", types.GenerateRequest{SessionID: "sess-1"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "target_role is required", decodeError(t, resp).Error)
}

func TestGenerateResumeHappyPath(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-gen-1")

	resp := performJSON(t, env.hertz, "POST", "/resume/generate",
		types.GenerateRequest{SessionID: "sess-gen-1", TargetRole: "MLE"})
	require.Equal(t, http.StatusOK, resp.Code, "简历生成应成功: %s", resp.Body.String())

	var got types.GenerateResult
	decodeBody(t, resp, &got)
	assert.Contains(t, got.ResumeMarkdown, "## Education")
	assert.Contains(t, got.ResumeMarkdown, "M.S. Computer Science, Stanford University")
	assert.Equal(t, []string{"Python", "Go", "PyTorch"}, got.ResumeStructured.Skills)
	assert.Equal(t, []string{"Exact graduation year"}, got.NeedInfo)
	assert.Empty(t, got.Evidence.JDChunks, "没给JD来源时JD证据为空")
}

func TestMatchByClusterValidation(t *testing.T) {
	env := newTestEnv(t)

	resp := performJSON(t, env.hertz, "POST", "/analyze/match-by-cluster", types.MatchRequest{JDText: "jd"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "session_id is required", decodeError(t, resp).Error)
}

func TestMatchByClusterNoJDSource(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-match-1")

	resp := performJSON(t, env.hertz, "POST", "/analyze/match-by-cluster",
		types.MatchRequest{SessionID: "sess-match-1"})
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Either use_curated_jd=true or provide jd_text", decodeError(t, resp).Error)
}

func TestMatchByClusterHappyPath(t *testing.T) {
	env := newTestEnv(t)
	uploadReadySession(t, env, "sess-match-2")

	resp := performJSON(t, env.hertz, "POST", "/analyze/match-by-cluster",
		types.MatchRequest{SessionID: "sess-match-2", JDText: "Looking for a backend engineer with ML exposure"})
	require.Equal(t, http.StatusOK, resp.Code, "逐簇匹配应成功: %s", resp.Body.String())

	var got types.MatchResult
	decodeBody(t, resp, &got)
	require.Len(t, got.ClusterMatches, 2)
	assert.Equal(t, "MLE", got.ClusterMatches[0].Cluster)
	assert.Equal(t, "SWE", got.ClusterMatches[1].Cluster)
	for _, m := range got.ClusterMatches {
		assert.InDelta(t, 1.0, m.MatchPct, 1e-6, "单位向量下每簇匹配度应为满分")
		assert.NotEmpty(t, m.Evidence.JDChunks)
	}
	require.NotNil(t, got.OverallMatchPct)
	assert.InDelta(t, 1.0, *got.OverallMatchPct, 1e-6)
	assert.Nil(t, got.Debug, "没开debug时不应带debug载荷")
}

func TestClusterExperienceStickers(t *testing.T) {
	env := newTestEnv(t)
	env.model.setResponse(routeAssign, `{
	  "assignments": [
	    {"item_id": "sticker-go", "role_tiers": [{"role": "SWE", "tier": 1}], "ownership": "primary"},
	    {"item_id": "sticker-ml", "role_tiers": [{"role": "MLE", "tier": 1}], "ownership": "primary"}
	  ],
	  "summaries": [
	    {"cluster": "SWE", "summary": "Service engineering"},
	    {"cluster": "MLE", "summary": "Model training"}
	  ]
	}`)

	resp := performJSON(t, env.hertz, "POST", "/experience/cluster", types.ExperienceClusterRequest{
		Items: []types.ExperienceItem{
			{ID: "sticker-go", Label: "Go services", Text: "Built Go microservices", Source: "sticker"},
			{ID: "sticker-ml", Label: "Ranking models", Text: "Trained ranking models", Source: "sticker"},
		},
	})
	require.Equal(t, http.StatusOK, resp.Code, "贴纸聚类应成功: %s", resp.Body.String())

	var got types.ClusterResult
	decodeBody(t, resp, &got)
	assert.Regexp(t, "^[0-9a-f]{8}$", got.SessionID, "匿名请求应分配8位十六进制会话ID")
	assert.Equal(t, 2, got.TotalItems)
	require.Len(t, got.Clusters, 2)
	assert.Equal(t, string(types.ClusterMLE), got.Clusters[0].ClusterID)
	assert.Equal(t, string(types.ClusterSWE), got.Clusters[1].ClusterID)
	require.Len(t, got.Clusters[1].Items, 1)
	assert.Equal(t, "sticker-go", got.Clusters[1].Items[0].ID)
	assert.Equal(t, "sticker", got.Clusters[1].Items[0].Source)
}

func TestClusterExperienceInvalidBody(t *testing.T) {
	env := newTestEnv(t)

	resp := performRaw(env.hertz, "POST", "/experience/cluster", []byte("]["), "application/json")
	require.Equal(t, http.StatusBadRequest, resp.Code)
	assert.Equal(t, "Invalid JSON body", decodeError(t, resp).Error)
}
