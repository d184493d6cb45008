package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/cloudwego/hertz/pkg/app/server"
	"github.com/cloudwego/hertz/pkg/common/ut"
	"github.com/stretchr/testify/require"

	"github.com/xiaodongyu/Job-fit-engine/internal/agent"
	"github.com/xiaodongyu/Job-fit-engine/internal/analysis"
	"github.com/xiaodongyu/Job-fit-engine/internal/cluster"
	"github.com/xiaodongyu/Job-fit-engine/internal/config"
	"github.com/xiaodongyu/Job-fit-engine/internal/extraction"
	"github.com/xiaodongyu/Job-fit-engine/internal/parser"
	"github.com/xiaodongyu/Job-fit-engine/internal/pipeline"
	"github.com/xiaodongyu/Job-fit-engine/internal/session"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
	"github.com/xiaodongyu/Job-fit-engine/internal/vecindex"
)

// unitEmbedder 每个文本都返回同一个单位向量
type unitEmbedder struct{}

func (unitEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{1, 0}
	}
	return out, nil
}

// fixedStrategy 固定返回一份结构化简历的抽取策略，端到端测试不走真模型
type fixedStrategy struct{}

func (fixedStrategy) Name() types.ExtractionPath { return types.PathTwoPass }

func (fixedStrategy) Attempt(_ context.Context, _ string) (*types.StructuredResume, []types.SegmentedBlock, error) {
	return cannedResume(), nil, nil
}

func cannedResume() *types.StructuredResume {
	return &types.StructuredResume{
		Experiences: []types.ExperienceBlock{
			{
				BlockID:   "exp_1",
				Company:   "TechCorp",
				Title:     "Senior Engineer",
				StartDate: "2019",
				EndDate:   "2022",
				Bullets:   []string{"Built search infrastructure in Go"},
				SkillTags: []string{"Go"},
			},
		},
	}
}

// 聚类协作方对固定简历单元(skill_1/experience_1)的预设归类
const assignResponse = `{
  "assignments": [
    {"item_id": "skill_1", "role_tiers": [{"role": "SWE", "tier": 1}], "ownership": "primary"},
    {"item_id": "experience_1", "role_tiers": [{"role": "MLE", "tier": 1}, {"role": "SWE", "tier": 2}], "ownership": "primary"}
  ],
  "summaries": [
    {"cluster": "SWE", "summary": "Backend engineering with Go"},
    {"cluster": "MLE", "summary": "Applied machine learning delivery"}
  ]
}`

const fitResponse = `{
  "recommended_roles": [
    {"role": "MLE", "score": 0.82, "reasons": ["Strong ML delivery track record"]}
  ],
  "requirements": {"must_have": ["Python"], "nice_to_have": ["Go"]},
  "gap": {"matched": ["Python"], "missing": ["Kubernetes"], "ask_user_questions": []}
}`

const generateResponse = `{
  "education": ["M.S. Computer Science, Stanford University"],
  "experience": ["Built ranking pipelines serving 10M requests per day at TechCorp"],
  "skills": ["Python", "Go", "PyTorch"],
  "need_info": ["Exact graduation year"]
}`

const (
	routeAssign   = "classifying resume content"
	routeFit      = "resume-to-role fit"
	routeGenerate = "professional resume writer"
)

// routingChatModel 按系统提示词路由到预设回复。管线worker会并发调用，
// 所以内部加锁。
type routingChatModel struct {
	mu        sync.Mutex
	responses map[string]string
	requests  [][]*schema.Message
}

func newRoutingChatModel() *routingChatModel {
	return &routingChatModel{responses: map[string]string{
		routeAssign:   assignResponse,
		routeFit:      fitResponse,
		routeGenerate: generateResponse,
	}}
}

func (m *routingChatModel) setResponse(route, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[route] = response
}

func (m *routingChatModel) Generate(_ context.Context, input []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, input)
	system := ""
	if len(input) > 0 {
		system = input[0].Content
	}
	for route, response := range m.responses {
		if strings.Contains(system, route) {
			return &schema.Message{Role: schema.Assistant, Content: response}, nil
		}
	}
	return nil, fmt.Errorf("没有匹配的预设回复: %.60s", system)
}

func (m *routingChatModel) Stream(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, fmt.Errorf("未实现")
}

func (m *routingChatModel) BindTools(_ []*schema.ToolInfo) error { return nil }

func (m *routingChatModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

var _ model.ToolCallingChatModel = (*routingChatModel)(nil)

type testEnv struct {
	hertz *server.Hertz
	model *routingChatModel
	store *session.Store
	index *vecindex.Manager
	pipe  *pipeline.Service
}

// newTestEnv 组装真实的管线/存储/索引/分析栈，只在抽取策略、embedding
// 和聊天模型三个叶子上打桩，路由按生产布局手工注册。
func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dataDir := t.TempDir()

	store, err := session.NewStore(dataDir)
	require.NoError(t, err, "创建会话存储不应失败")
	index, err := vecindex.NewManager(dataDir, unitEmbedder{})
	require.NoError(t, err, "创建索引管理器不应失败")

	m := newRoutingChatModel()
	gen, err := agent.NewGenerator(m, config.ExtractorConfig{ExtractionTimeout: "5s", MaxRetries: 0, RetryWaitSeconds: 1})
	require.NoError(t, err, "创建生成器不应失败")
	clusterer, err := cluster.NewClusterer(gen)
	require.NoError(t, err, "创建聚类器不应失败")

	pipe, err := pipeline.NewService(store, extraction.NewExtractorWithStrategies(fixedStrategy{}), index, clusterer, config.PipelineConfig{Workers: 2})
	require.NoError(t, err, "创建管线不应失败")
	t.Cleanup(pipe.Close)

	files, err := parser.NewFileParser(context.Background())
	require.NoError(t, err, "创建文件解析器不应失败")

	svc, err := analysis.NewService(index, store, gen, clusterer, pipe, nil,
		analysis.WithReadyPolling(2*time.Second, 5*time.Millisecond))
	require.NoError(t, err, "创建分析服务不应失败")

	resumeHandler := NewResumeHandler(pipe, store, index, files)
	analysisHandler := NewAnalysisHandler(svc)
	jdHandler := NewJDHandler(index)

	h := server.New(server.WithHostPorts("127.0.0.1:0"))
	h.POST("/resume/upload", resumeHandler.HandleUpload)
	h.POST("/resume/upload/json", resumeHandler.HandleUploadJSON)
	h.POST("/resume/materials/add/json", resumeHandler.HandleAddMaterials)
	h.GET("/resume/status", resumeHandler.HandleStatus)
	h.GET("/resume/structured", resumeHandler.HandleStructured)
	h.GET("/resume/clusters", resumeHandler.HandleClusters)
	h.GET("/resume/chunks", resumeHandler.HandleChunks)
	h.POST("/resume/generate", analysisHandler.HandleGenerateResume)
	h.POST("/analyze/fit", analysisHandler.HandleAnalyzeFit)
	h.POST("/analyze/match-by-cluster", analysisHandler.HandleMatchByCluster)
	h.POST("/experience/cluster", analysisHandler.HandleClusterExperience)
	h.POST("/jd/ingest", jdHandler.HandleIngest)

	return &testEnv{hertz: h, model: m, store: store, index: index, pipe: pipe}
}

func performJSON(t *testing.T, h *server.Hertz, method, path string, payload any) *ut.ResponseRecorder {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err, "测试载荷序列化不应失败")
	return performRaw(h, method, path, data, "application/json")
}

func performRaw(h *server.Hertz, method, path string, body []byte, contentType string) *ut.ResponseRecorder {
	return ut.PerformRequest(h.Engine, method, path,
		&ut.Body{Body: bytes.NewBuffer(body), Len: len(body)},
		ut.Header{Key: "Content-Type", Value: contentType})
}

func performGet(h *server.Hertz, path string) *ut.ResponseRecorder {
	return ut.PerformRequest(h.Engine, "GET", path, nil)
}

func decodeBody(t *testing.T, resp *ut.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), v), "响应体应是合法JSON: %s", resp.Body.String())
}

// errorBody 错误响应的统一形状
type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func decodeError(t *testing.T, resp *ut.ResponseRecorder) errorBody {
	t.Helper()
	var body errorBody
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body.Error, "错误响应应带error字段")
	return body
}

// multipartBody 构造multipart表单，fileField为空时不带文件部分
func multipartBody(t *testing.T, fields map[string]string, fileField, filename string, content []byte) ([]byte, string) {
	t.Helper()
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	for key, value := range fields {
		require.NoError(t, w.WriteField(key, value), "写表单字段不应失败")
	}
	if fileField != "" {
		part, err := w.CreateFormFile(fileField, filename)
		require.NoError(t, err, "创建文件部分不应失败")
		_, err = part.Write(content)
		require.NoError(t, err, "写文件内容不应失败")
	}
	require.NoError(t, w.Close(), "关闭multipart writer不应失败")
	return buf.Bytes(), w.FormDataContentType()
}

// waitUploadReady 轮询状态端点直到终态，并要求终态是ready
func waitUploadReady(t *testing.T, h *server.Hertz, uploadID string) {
	t.Helper()
	var status StatusResponse
	require.Eventually(t, func() bool {
		resp := performGet(h, "/resume/status?upload_id="+uploadID)
		if resp.Code != http.StatusOK {
			return false
		}
		if json.Unmarshal(resp.Body.Bytes(), &status) != nil {
			return false
		}
		return status.Status.Terminal()
	}, 5*time.Second, 10*time.Millisecond, "任务应该在限期内到达终态")
	require.Equal(t, types.StatusReady, status.Status, "管线应成功就绪: %s", status.Detail)
}

// uploadReadySession 通过JSON上传端点灌入简历并等到索引就绪
func uploadReadySession(t *testing.T, env *testEnv, sessionID string) string {
	t.Helper()
	resp := performJSON(t, env.hertz, "POST", "/resume/upload/json",
		uploadJSONRequest{Text: "TechCorp resume text", SessionID: sessionID})
	require.Equal(t, http.StatusOK, resp.Code, "上传应返回200: %s", resp.Body.String())
	var up UploadResponse
	decodeBody(t, resp, &up)
	require.Equal(t, sessionID, up.SessionID)
	require.NotEmpty(t, up.UploadID)
	waitUploadReady(t, env.hertz, up.UploadID)
	return up.UploadID
}
