package analysis

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

type stubChatModel struct {
	response string
	err      error
	mu       sync.Mutex
	requests [][]*schema.Message
}

func (m *stubChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, input)
	if m.err != nil {
		return nil, m.err
	}
	return &schema.Message{Role: schema.Assistant, Content: m.response}, nil
}

func (m *stubChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("未实现")
}

func (m *stubChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

func (m *stubChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*stubChatModel)(nil)

// userPrompt 取一次模型调用里的用户消息内容
func (m *stubChatModel) userPrompt(t *testing.T, call int) string {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.Greater(t, len(m.requests), call, "模型调用次数不足")
	msgs := m.requests[call]
	require.Len(t, msgs, 2)
	return msgs[1].Content
}

type stubSearcher struct {
	mu           sync.Mutex
	sessionHits  map[string][]types.EvidenceChunk
	globalHits   []types.EvidenceChunk
	adhocHits    []types.EvidenceChunk
	adhocByQuery map[string][]types.EvidenceChunk
	chunks       []types.Chunk
	chunksErr    error

	globalQueries  []string
	globalRoles    []types.RoleType
	adhocQueries   []string
	sessionQueries []string
	sessionLabels  []string
}

var _ vecindex.Searcher = (*stubSearcher)(nil)

func (s *stubSearcher) SearchGlobal(_ context.Context, query string, role types.RoleType, _ int) ([]types.EvidenceChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.globalQueries = append(s.globalQueries, query)
	s.globalRoles = append(s.globalRoles, role)
	return s.globalHits, nil
}

func (s *stubSearcher) SearchSession(_ context.Context, sessionID, query string, _ int, sourceLabel string) ([]types.EvidenceChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessionQueries = append(s.sessionQueries, sessionID+"|"+query)
	s.sessionLabels = append(s.sessionLabels, sourceLabel)
	return s.sessionHits[sessionID], nil
}

func (s *stubSearcher) SearchAdHoc(_ context.Context, _, query string, _ int) ([]types.EvidenceChunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.adhocQueries = append(s.adhocQueries, query)
	if hits, ok := s.adhocByQuery[query]; ok {
		return hits, nil
	}
	return s.adhocHits, nil
}

func (s *stubSearcher) AllSessionChunks(_ string) ([]types.Chunk, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.chunksErr != nil {
		return nil, s.chunksErr
	}
	return s.chunks, nil
}

type stubJobs struct {
	mu        sync.Mutex
	ready     map[string]bool
	statuses  []types.JobRecord
	statusIdx int
	submitted map[string]string
	submitErr error
}

var _ JobRunner = (*stubJobs)(nil)

func (j *stubJobs) Submit(sessionID, text string) (string, error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.submitErr != nil {
		return "", j.submitErr
	}
	if j.submitted == nil {
		j.submitted = map[string]string{}
	}
	j.submitted[sessionID] = text
	return "job-" + sessionID, nil
}

// GetStatus 按序回放预设状态，走到最后一个就停住
func (j *stubJobs) GetStatus(_ string) types.JobRecord {
	j.mu.Lock()
	defer j.mu.Unlock()
	if len(j.statuses) == 0 {
		return types.JobRecord{Status: types.StatusReady}
	}
	rec := j.statuses[j.statusIdx]
	if j.statusIdx < len(j.statuses)-1 {
		j.statusIdx++
	}
	return rec
}

func (j *stubJobs) IsReady(sessionID string) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ready[sessionID]
}

func readyJobs(sessionIDs ...string) *stubJobs {
	ready := make(map[string]bool, len(sessionIDs))
	for _, id := range sessionIDs {
		ready[id] = true
	}
	return &stubJobs{ready: ready}
}

type stubFetcher struct {
	text string
	err  error
	urls []string
}

func (f *stubFetcher) FetchJDText(_ context.Context, url string) (string, error) {
	f.urls = append(f.urls, url)
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

func newTestService(t *testing.T, m model.ToolCallingChatModel, searcher vecindex.Searcher, jobs JobRunner, fetcher JDFetcher) (*Service, *session.Store) {
	t.Helper()
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	gen, err := agent.NewGenerator(m, config.ExtractorConfig{ExtractionTimeout: "5s", MaxRetries: 0, RetryWaitSeconds: 1})
	require.NoError(t, err)
	clusterer, err := cluster.NewClusterer(gen)
	require.NoError(t, err)
	svc, err := NewService(searcher, store, gen, clusterer, jobs, fetcher,
		WithReadyPolling(300*time.Millisecond, 5*time.Millisecond))
	require.NoError(t, err)
	return svc, store
}

func resumeHits() []types.EvidenceChunk {
	return []types.EvidenceChunk{
		{ChunkID: "resume_sess-1_0", Text: "Trained ranking models on clickstream data", Source: "resume", Score: 0.82},
		{ChunkID: "resume_sess-1_1", Text: "Led the feature platform migration", Source: "resume", Score: 0.71},
	}
}

func jdHits(score float64) []types.EvidenceChunk {
	return []types.EvidenceChunk{
		{ChunkID: "jd_ml_1__0", Text: "We are looking for a machine learning engineer", Source: "jd", Score: score},
	}
}

const fitResponse = `{
  "recommended_roles": [
    {"role": "MLE", "score": 1.4, "reasons": ["Strong ML delivery track record"]}
  ],
  "requirements": {"must_have": ["Python"], "nice_to_have": ["Go"]},
  "gap": {"matched": ["Python"], "missing": ["Kubernetes"], "ask_user_questions": ["Any production cloud experience?"]}
}`

const generateResponse = `{
  "education": ["M.S. Computer Science, Stanford University"],
  "experience": ["Built ranking pipelines serving 10M requests per day at TechCorp"],
  "skills": ["Python", "Go", "PyTorch"],
  "need_info": ["Exact graduation year"]
}`

func TestNewServiceValidation(t *testing.T) {
	store, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	gen, err := agent.NewGenerator(&stubChatModel{}, config.ExtractorConfig{})
	require.NoError(t, err)
	clusterer, err := cluster.NewClusterer(gen)
	require.NoError(t, err)
	searcher := &stubSearcher{}

	_, err = NewService(nil, store, gen, clusterer, nil, nil)
	assert.Error(t, err, "缺少检索器应该报错")

	_, err = NewService(searcher, nil, gen, clusterer, nil, nil)
	assert.Error(t, err, "缺少会话存储应该报错")

	_, err = NewService(searcher, store, nil, clusterer, nil, nil)
	assert.Error(t, err, "缺少生成器应该报错")

	_, err = NewService(searcher, store, gen, nil, nil, nil)
	assert.Error(t, err, "缺少聚类引擎应该报错")

	svc, err := NewService(searcher, store, gen, clusterer, nil, nil)
	require.NoError(t, err, "jobs和fetcher允许为空")
	assert.NotNil(t, svc)
}

func TestAnalyzeFitRequiresReadySession(t *testing.T) {
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, &stubSearcher{}, &stubJobs{}, nil)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{SessionID: "sess-1", TargetRole: types.RoleMLE, UseCuratedJD: true})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Session sess-1 resume not ready. Check /resume/status.", vErr.Message)
}

func TestAnalyzeFitWithCuratedJD(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
		globalHits:  jdHits(0.9),
	}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, readyJobs("sess-1"), nil)

	got, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, UseCuratedJD: true,
	})
	require.NoError(t, err)

	require.Len(t, got.RecommendedRoles, 1)
	assert.Equal(t, "MLE", got.RecommendedRoles[0].Role)
	assert.InDelta(t, 1.0, got.RecommendedRoles[0].Score, 1e-9, "超过1的打分应被夹回")
	assert.Equal(t, []string{"Strong ML delivery track record"}, got.RecommendedRoles[0].Reasons)
	assert.Equal(t, []string{"Python"}, got.Requirements.MustHave)
	assert.Equal(t, []string{"Go"}, got.Requirements.NiceToHave)
	assert.Equal(t, []string{"Kubernetes"}, got.Gap.Missing)
	assert.Len(t, got.Evidence.ResumeChunks, 2)
	assert.Len(t, got.Evidence.JDChunks, 1)

	require.Len(t, searcher.globalQueries, 1)
	assert.Equal(t, "Skills and experience for MLE role", searcher.globalQueries[0])
	assert.Equal(t, types.RoleMLE, searcher.globalRoles[0], "精选JD检索应带岗位过滤")
	require.Len(t, searcher.sessionQueries, 1)
	assert.Equal(t, "sess-1|Skills and experience for MLE role", searcher.sessionQueries[0])
}

func TestAnalyzeFitEmptyCuratedIndexFails(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, readyJobs("sess-1"), nil)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, UseCuratedJD: true,
	})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "No curated JDs found. Ingest JDs first or provide jd_text.", vErr.Message)
}

func TestAnalyzeFitMissingJDSourceFails(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, readyJobs("sess-1"), nil)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{SessionID: "sess-1", TargetRole: types.RoleSWE})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Either use_curated_jd=true or provide jd_text or jd_url", vErr.Message)
}

func TestAnalyzeFitMalformedOutputFallsBack(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
		adhocHits:   jdHits(0.8),
	}
	svc, _ := newTestService(t, &stubChatModel{response: "the candidate looks strong"}, searcher, readyJobs("sess-1"), nil)

	got, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, JDText: "We need an ML engineer",
	})
	require.NoError(t, err, "模型输出不可解析时不应报错")

	require.Len(t, got.RecommendedRoles, 1)
	assert.Equal(t, "MLE", got.RecommendedRoles[0].Role)
	assert.InDelta(t, 0.5, got.RecommendedRoles[0].Score, 1e-9)
	assert.Equal(t, []string{"Analysis based on provided evidence"}, got.RecommendedRoles[0].Reasons)
	assert.NotNil(t, got.Requirements.MustHave)
	assert.Empty(t, got.Requirements.MustHave)
	assert.NotNil(t, got.Gap.AskUserQuestions)
	assert.Len(t, got.Evidence.JDChunks, 1, "证据不依赖模型输出")
}

func TestAnalyzeFitModelFailureIsUpstream(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
		adhocHits:   jdHits(0.8),
	}
	svc, _ := newTestService(t, &stubChatModel{err: errors.New("model unavailable")}, searcher, readyJobs("sess-1"), nil)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, JDText: "We need an ML engineer",
	})
	var uErr *types.UpstreamError
	require.ErrorAs(t, err, &uErr)
}

func TestAnalyzeFitJDURLBuildsSideSession(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{
			"sess-1":    resumeHits(),
			"sess-1_jd": jdHits(0.85),
		},
	}
	jobs := readyJobs("sess-1")
	fetcher := &stubFetcher{text: "We are hiring a machine learning engineer."}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, jobs, fetcher)

	got, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE,
		JDURL: "https://www.linkedin.com/jobs/view/12345",
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"https://www.linkedin.com/jobs/view/12345"}, fetcher.urls)
	assert.Equal(t, "We are hiring a machine learning engineer.", jobs.submitted["sess-1_jd"], "JD文本应提交进旁路会话")
	require.Len(t, got.Evidence.JDChunks, 1)
	assert.Equal(t, "jd_ml_1__0", got.Evidence.JDChunks[0].ChunkID)
	assert.Contains(t, searcher.sessionLabels, "jd", "旁路检索应带jd来源标签")
}

func TestAnalyzeFitJDURLFailureSurfacesDetail(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	jobs := readyJobs("sess-1")
	jobs.statuses = []types.JobRecord{
		{Status: types.StatusParsing},
		{Status: types.StatusError, Detail: "No text content found"},
	}
	fetcher := &stubFetcher{text: "some jd text"}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, jobs, fetcher)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, JDURL: "https://www.linkedin.com/jobs/view/99",
	})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "No text content found", vErr.Message, "管线的失败detail应原样透出")
}

func TestAnalyzeFitJDURLTimeoutIsUpstream(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	jobs := readyJobs("sess-1")
	jobs.statuses = []types.JobRecord{{Status: types.StatusEmbedding, Detail: "Embedding 3 chunks..."}}
	fetcher := &stubFetcher{text: "some jd text"}
	svc, _ := newTestService(t, &stubChatModel{response: fitResponse}, searcher, jobs, fetcher)

	_, err := svc.AnalyzeFit(context.Background(), &types.FitRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE, JDURL: "https://www.linkedin.com/jobs/view/99",
	})
	var uErr *types.UpstreamError
	require.ErrorAs(t, err, &uErr, "旁路会话超时算上游故障")
}

func TestGenerateResumeBuildsMarkdown(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	svc, _ := newTestService(t, &stubChatModel{response: generateResponse}, searcher, readyJobs("sess-1"), nil)

	got, err := svc.GenerateResume(context.Background(), &types.GenerateRequest{
		SessionID: "sess-1", TargetRole: types.RoleMLE,
	})
	require.NoError(t, err, "JD来源全缺时简历生成照常工作")

	wantMarkdown := "## Education\n" +
		"- M.S. Computer Science, Stanford University\n" +
		"\n" +
		"## Experience\n" +
		"- Built ranking pipelines serving 10M requests per day at TechCorp\n" +
		"\n" +
		"## Skills\n" +
		"Python, Go, PyTorch"
	assert.Equal(t, wantMarkdown, got.ResumeMarkdown)
	assert.Equal(t, []string{"Python", "Go", "PyTorch"}, got.ResumeStructured.Skills)
	assert.Equal(t, []string{"Exact graduation year"}, got.NeedInfo)
	assert.NotNil(t, got.Evidence.JDChunks)
	assert.Empty(t, got.Evidence.JDChunks, "没给JD来源时JD证据为空")

	require.Len(t, searcher.sessionQueries, 1)
	assert.Equal(t, "sess-1|Complete background for MLE position", searcher.sessionQueries[0])
}

func TestGenerateResumeNotReadyMessage(t *testing.T) {
	svc, _ := newTestService(t, &stubChatModel{response: generateResponse}, &stubSearcher{}, &stubJobs{}, nil)

	_, err := svc.GenerateResume(context.Background(), &types.GenerateRequest{SessionID: "sess-9", TargetRole: types.RoleDS})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Session sess-9 resume not ready.", vErr.Message)
}

func TestGenerateResumeMalformedOutputUsesPlaceholders(t *testing.T) {
	searcher := &stubSearcher{
		sessionHits: map[string][]types.EvidenceChunk{"sess-1": resumeHits()},
	}
	svc, _ := newTestService(t, &stubChatModel{response: "not json"}, searcher, readyJobs("sess-1"), nil)

	got, err := svc.GenerateResume(context.Background(), &types.GenerateRequest{SessionID: "sess-1", TargetRole: types.RoleMLE})
	require.NoError(t, err)

	wantMarkdown := "## Education\n" +
		"_No education information available._\n" +
		"\n" +
		"## Experience\n" +
		"_No experience information available._\n" +
		"\n" +
		"## Skills\n" +
		"_No skills information available._"
	assert.Equal(t, wantMarkdown, got.ResumeMarkdown)
	assert.NotNil(t, got.ResumeStructured.Education)
	assert.Empty(t, got.ResumeStructured.Education)
	assert.NotNil(t, got.NeedInfo)
}

func TestBuildResumeMarkdownMixedSections(t *testing.T) {
	md := buildResumeMarkdown(types.GeneratedResume{
		Education: []string{"B.S. Physics, MIT"},
		Skills:    []string{"Go"},
	})
	assert.Equal(t, "## Education\n"+
		"- B.S. Physics, MIT\n"+
		"\n"+
		"## Experience\n"+
		"_No experience information available._\n"+
		"\n"+
		"## Skills\n"+
		"Go", md)
}

func TestMatchByClusterWeightsByDistribution(t *testing.T) {
	searcher := &stubSearcher{
		adhocByQuery: map[string][]types.EvidenceChunk{
			"Machine Learning Engineer: Training and serving ranking models": jdHits(0.9),
			"Software Engineer: Backend services in Go":                      jdHits(0.1),
		},
	}
	svc, store := newTestService(t, &stubChatModel{}, searcher, readyJobs("sess-1"), nil)

	artifact := &types.ClusterResult{
		SessionID:  "sess-1",
		TotalItems: 3,
		Clusters: []types.ClusteredGroup{
			{
				ClusterID:    "MLE",
				ClusterLabel: "Machine Learning Engineer",
				Summary:      "Training and serving ranking models",
				Items:        []types.ExperienceItem{{ID: "skill_1"}, {ID: "experience_1"}},
				Evidence:     []types.EvidenceChunk{{ChunkID: "c1", Text: "chunk one", Source: "resume"}},
			},
			{
				ClusterID:    "SWE",
				ClusterLabel: "Software Engineer",
				Summary:      "Backend services in Go",
				Items:        []types.ExperienceItem{{ID: "experience_2"}},
			},
		},
		RoleFitDistribution: types.RoleFitDistribution{
			types.ClusterMLE: 0.75,
			types.ClusterSWE: 0.25,
		},
	}
	require.NoError(t, store.SaveClusters("sess-1", artifact))

	got, err := svc.MatchByCluster(context.Background(), &types.MatchRequest{
		SessionID: "sess-1", JDText: "We need an ML engineer", Debug: true,
	})
	require.NoError(t, err)

	require.Len(t, got.ClusterMatches, 2)
	assert.Equal(t, "MLE", got.ClusterMatches[0].Cluster)
	assert.InDelta(t, 0.9, got.ClusterMatches[0].MatchPct, 1e-9)
	assert.InDelta(t, 0.1, got.ClusterMatches[1].MatchPct, 1e-9)
	require.Len(t, got.ClusterMatches[0].Evidence.ResumeChunks, 1)
	assert.Equal(t, "c1", got.ClusterMatches[0].Evidence.ResumeChunks[0].ChunkID, "简历侧证据来自持久化的聚类分组")

	require.NotNil(t, got.OverallMatchPct)
	assert.InDelta(t, 0.7, *got.OverallMatchPct, 1e-9, "总分应按岗位族分布加权")

	require.NotNil(t, got.Debug)
	require.Len(t, got.Debug.Clusters, 2)
	assert.Equal(t, "MLE", got.Debug.Clusters[0].ClusterID)
	assert.Equal(t, 2, got.Debug.Clusters[0].ItemsCount)
	assert.Equal(t, "Machine Learning Engineer: Training and serving ranking models", got.Debug.Clusters[0].Query)

	plain, err := svc.MatchByCluster(context.Background(), &types.MatchRequest{
		SessionID: "sess-1", JDText: "We need an ML engineer",
	})
	require.NoError(t, err)
	assert.Nil(t, plain.Debug, "不开debug时不回传调试信息")
}

func TestMatchByClusterRequiresJDSource(t *testing.T) {
	svc, _ := newTestService(t, &stubChatModel{}, &stubSearcher{}, readyJobs("sess-1"), nil)

	_, err := svc.MatchByCluster(context.Background(), &types.MatchRequest{SessionID: "sess-1"})
	var vErr *types.ValidationError
	require.ErrorAs(t, err, &vErr)
	assert.Equal(t, "Either use_curated_jd=true or provide jd_text", vErr.Message)
}

func TestMatchByClusterWithoutClustersIsNotFound(t *testing.T) {
	svc, _ := newTestService(t, &stubChatModel{}, &stubSearcher{}, readyJobs("sess-1"), nil)

	_, err := svc.MatchByCluster(context.Background(), &types.MatchRequest{SessionID: "sess-1", JDText: "some jd"})
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr, "没跑过聚类的会话应返回资源不存在")
}

const stickerAssignResponse = `{
  "assignments": [
    {"item_id": "item_1", "role_tiers": [{"role": "SWE", "tier": 1}], "ownership": "primary"}
  ],
  "summaries": [{"cluster": "SWE", "summary": "Backend delivery experience"}]
}`

func TestClusterExperienceAnonymousSession(t *testing.T) {
	svc, store := newTestService(t, &stubChatModel{response: stickerAssignResponse}, &stubSearcher{}, &stubJobs{}, nil)

	got, err := svc.ClusterExperience(context.Background(), &types.ExperienceClusterRequest{
		Items: []types.ExperienceItem{
			{Label: "work", Text: "Built the billing service in Go"},
			{ID: "exp_9", Label: "project", Text: "Weekend game jam prototype"},
		},
	})
	require.NoError(t, err)

	assert.Len(t, got.SessionID, 8, "匿名请求应分配短会话号")
	assert.Equal(t, 2, got.TotalItems)
	require.Len(t, got.Clusters, 1)
	assert.Equal(t, "SWE", got.Clusters[0].ClusterID)

	_, err = store.LoadClusters(got.SessionID)
	var nfErr *types.NotFoundError
	require.ErrorAs(t, err, &nfErr, "匿名聚类不落盘")
}

func TestClusterExperiencePastedTextBecomesUnit(t *testing.T) {
	m := &stubChatModel{response: `{"assignments": [], "summaries": []}`}
	svc, _ := newTestService(t, m, &stubSearcher{}, &stubJobs{}, nil)

	got, err := svc.ClusterExperience(context.Background(), &types.ExperienceClusterRequest{
		ResumeText: "Five years of quantitative research at a hedge fund",
	})
	require.NoError(t, err)

	assert.Equal(t, 1, got.TotalItems)
	assert.Empty(t, got.Clusters)
	for _, c := range types.AllClusters {
		assert.Zero(t, got.RoleFitDistribution[c])
	}

	prompt := m.userPrompt(t, 0)
	assert.Contains(t, prompt, "pasted_", "粘贴文本应转成pasted_条目")
	assert.Contains(t, prompt, "Five years of quantitative research at a hedge fund")
}

func TestClusterExperienceMergesReadySessionChunks(t *testing.T) {
	m := &stubChatModel{response: `{
  "assignments": [
    {"item_id": "item_1", "role_tiers": [{"role": "SWE", "tier": 1}], "ownership": "primary"},
    {"item_id": "resume_sess-5_0", "role_tiers": [{"role": "SWE", "tier": 2}], "ownership": "primary"}
  ],
  "summaries": [{"cluster": "SWE", "summary": "Go backend systems"}]
}`}
	searcher := &stubSearcher{
		chunks: []types.Chunk{{ChunkID: "resume_sess-5_0", Text: "Built Go services at scale"}},
	}
	svc, store := newTestService(t, m, searcher, readyJobs("sess-5"), nil)

	got, err := svc.ClusterExperience(context.Background(), &types.ExperienceClusterRequest{
		SessionID: "sess-5",
		Items:     []types.ExperienceItem{{Label: "work", Text: "Led a platform team"}},
	})
	require.NoError(t, err)

	assert.Equal(t, "sess-5", got.SessionID)
	assert.Equal(t, 2, got.TotalItems, "会话chunk应并入聚类条目")
	require.Len(t, got.Clusters, 1)
	assert.Len(t, got.Clusters[0].Items, 2)
	assert.Contains(t, m.userPrompt(t, 0), "resume_sess-5_0")

	saved, err := store.LoadClusters("sess-5")
	require.NoError(t, err, "绑定会话的聚类应持久化")
	assert.Equal(t, "sess-5", saved.SessionID)
}

func TestClusterExperienceModelFailureIsUpstream(t *testing.T) {
	svc, _ := newTestService(t, &stubChatModel{err: errors.New("model unavailable")}, &stubSearcher{}, &stubJobs{}, nil)

	_, err := svc.ClusterExperience(context.Background(), &types.ExperienceClusterRequest{
		Items: []types.ExperienceItem{{Label: "work", Text: "Built the billing service in Go"}},
	})
	var uErr *types.UpstreamError
	require.ErrorAs(t, err, &uErr)
}
