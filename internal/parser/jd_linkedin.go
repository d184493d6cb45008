package parser

import (
	"context"
	"encoding/json"
	"fmt"
	"html"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	xhtml "golang.org/x/net/html"

	"github.com/xiaodongyu/Job-fit-engine/internal/constants"
	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/ratelimit"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// 桌面浏览器UA，匿名抓取公开职位页
const linkedInUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0 Safari/537.36"

var (
	jobViewPattern    = regexp.MustCompile(`/jobs/view/(\d+)`)
	whitespacePattern = regexp.MustCompile(`\s+`)
)

// LinkedInFetcher 从LinkedIn职位页抓取JD正文。抓取走令牌桶限速，
// 解析优先吃页面里的JobPosting结构化数据，其次是描述区块。
type LinkedInFetcher struct {
	client  *http.Client
	bucket  *ratelimit.TokenBucket
	timeout time.Duration
	logger  zerolog.Logger
}

// LinkedInOption 配置抓取器
type LinkedInOption func(*LinkedInFetcher)

// WithFetchTimeout 设置单次抓取超时
func WithFetchTimeout(d time.Duration) LinkedInOption {
	return func(f *LinkedInFetcher) {
		if d > 0 {
			f.timeout = d
		}
	}
}

// WithFetchQPM 设置抓取限速
func WithFetchQPM(qpm int) LinkedInOption {
	return func(f *LinkedInFetcher) {
		if qpm > 0 {
			f.bucket = ratelimit.NewTokenBucket(qpm, 0)
		}
	}
}

// NewLinkedInFetcher 创建职位页抓取器
func NewLinkedInFetcher(opts ...LinkedInOption) *LinkedInFetcher {
	f := &LinkedInFetcher{
		client:  &http.Client{},
		bucket:  ratelimit.NewTokenBucket(30, 0),
		timeout: 15 * time.Second,
		logger:  logger.Logger.With().Str("component", "linkedin_fetcher").Logger(),
	}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

// FetchJDText 抓取一个职位链接的JD正文。链接先归一成标准详情页
// 地址，抓到的正文截断到固定长度。
func (f *LinkedInFetcher) FetchJDText(ctx context.Context, rawURL string) (string, error) {
	jobURL, err := NormalizeJobURL(rawURL)
	if err != nil {
		return "", err
	}

	if err := f.bucket.Wait(ctx); err != nil {
		return "", err
	}

	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, jobURL, nil)
	if err != nil {
		return "", fmt.Errorf("创建LinkedIn请求失败: %w", err)
	}
	req.Header.Set("User-Agent", linkedInUserAgent)
	req.Header.Set("Accept-Language", "en-US,en;q=0.9")

	resp, err := f.client.Do(req)
	if err != nil {
		return "", types.NewUpstreamError("linkedin fetch", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", types.NewUpstreamError("linkedin fetch",
			fmt.Errorf("LinkedIn request failed with status %d", resp.StatusCode))
	}

	doc, err := goquery.NewDocumentFromReader(resp.Body)
	if err != nil {
		return "", types.NewValidationError("Could not extract job description from LinkedIn page")
	}

	text := extractJDText(doc)
	if text == "" {
		return "", types.NewValidationError("Could not extract job description from LinkedIn page")
	}
	if runes := []rune(text); len(runes) > constants.MaxJDFetchChars {
		text = string(runes[:constants.MaxJDFetchChars])
	}

	f.logger.Info().
		Str("url", jobURL).
		Int("chars", len(text)).
		Msg("LinkedIn JD抓取完成")
	return text, nil
}

// NormalizeJobURL 从LinkedIn职位链接提取job id，归一成标准的
// /jobs/view/{id} 详情页地址。支持详情页路径和currentJobId查询参数
// 两种形态。
func NormalizeJobURL(rawURL string) (string, error) {
	parsed, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", types.NewValidationError("Could not extract job_id from LinkedIn URL")
	}

	if scheme := strings.ToLower(parsed.Scheme); scheme != "http" && scheme != "https" {
		return "", types.NewValidationError("LinkedIn URL must start with http or https")
	}
	if !strings.Contains(strings.ToLower(parsed.Host), "linkedin.com") {
		return "", types.NewValidationError("Only LinkedIn job URLs are supported")
	}

	if m := jobViewPattern.FindStringSubmatch(parsed.Path); m != nil {
		return "https://www.linkedin.com/jobs/view/" + m[1], nil
	}
	if id := parsed.Query().Get("currentJobId"); id != "" {
		return "https://www.linkedin.com/jobs/view/" + id, nil
	}
	return "", types.NewValidationError("Could not extract job_id from LinkedIn URL")
}

// extractJDText 从职位页提取JD正文，按优先级：JobPosting结构化
// 数据的description > 展开后的描述区块 > 整页文本。
func extractJDText(doc *goquery.Document) string {
	if text := jobPostingDescription(doc); text != "" {
		return text
	}

	best := ""
	doc.Find("div.show-more-less-html__markup").Each(func(_ int, sel *goquery.Selection) {
		if text := normalizeSpace(nodeText(sel)); len(text) > len(best) {
			best = text
		}
	})
	if best != "" {
		return best
	}

	return normalizeSpace(nodeText(doc.Selection))
}

// jobPostingDescription 读ld+json脚本里的JobPosting描述。描述是
// 转义过的HTML，先反转义再按HTML取纯文本。
func jobPostingDescription(doc *goquery.Document) string {
	result := ""
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(_ int, sel *goquery.Selection) bool {
		raw := strings.TrimSpace(sel.Text())
		if raw == "" {
			return true
		}

		var payload any
		if err := json.Unmarshal([]byte(raw), &payload); err != nil {
			return true
		}
		candidates, ok := payload.([]any)
		if !ok {
			candidates = []any{payload}
		}

		for _, candidate := range candidates {
			obj, ok := candidate.(map[string]any)
			if !ok {
				continue
			}
			if kind, _ := obj["@type"].(string); kind != "JobPosting" {
				continue
			}
			description, _ := obj["description"].(string)
			if description == "" {
				continue
			}

			fragment, err := goquery.NewDocumentFromReader(strings.NewReader(html.UnescapeString(description)))
			if err != nil {
				continue
			}
			if text := normalizeSpace(nodeText(fragment.Selection)); text != "" {
				result = text
				return false
			}
		}
		return true
	})
	return result
}

// nodeText 收集选区内所有文本节点，节点之间补空格，避免相邻
// 标签的文字粘连
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(*xhtml.Node)
	walk = func(n *xhtml.Node) {
		if n.Type == xhtml.TextNode {
			if t := strings.TrimSpace(n.Data); t != "" {
				parts = append(parts, t)
			}
			return
		}
		if n.Type == xhtml.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, node := range sel.Nodes {
		walk(node)
	}
	return strings.Join(parts, " ")
}

// normalizeSpace 折叠连续空白
func normalizeSpace(s string) string {
	return strings.TrimSpace(whitespacePattern.ReplaceAllString(s, " "))
}
