package extraction

import (
	"context"
	"regexp"
	"strings"

	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// heuristicStrategy 本地确定性行扫描器，降级链的最后一级。
// 不依赖任何外部服务，对非空输入保证至少产出一个经历块。
type heuristicStrategy struct{}

func (s *heuristicStrategy) Name() types.ExtractionPath { return types.PathHeuristic }

type sectionKind int

const (
	sectionNone sectionKind = iota
	sectionExperience
	sectionProjects
	sectionEducation
	sectionSkills
)

var sectionHeaderPatterns = []struct {
	re   *regexp.Regexp
	kind sectionKind
}{
	{regexp.MustCompile(`(?i)^(?:(?:work|professional|relevant|employment)\s+)?experience\s*:?$`), sectionExperience},
	{regexp.MustCompile(`(?i)^(?:work|employment)\s+history\s*:?$`), sectionExperience},
	{regexp.MustCompile(`(?i)^(?:employment|internships?)\s*:?$`), sectionExperience},
	{regexp.MustCompile(`(?i)^(?:(?:personal|selected|key|academic)\s+)?projects?(?:\s+experience)?\s*:?$`), sectionProjects},
	{regexp.MustCompile(`(?i)^(?:education|academic(?:\s+background)?|academics)\s*:?$`), sectionEducation},
	{regexp.MustCompile(`(?i)^(?:(?:technical|core|key)\s+)?skills?(?:\s*(?:&|and)\s*\w+)?\s*:?$`), sectionSkills},
}

// dateRangeRe 匹配 "2019 - 2023"、"Jan 2020 – Present"、"2020.01-2021.06"
// 等日期区间，作为经历/项目内的块边界信号
var dateRangeRe = regexp.MustCompile(`(?i)(?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+)?(?:19|20)\d{2}(?:[./-]\d{1,2})?\s*(?:[-–—~]+|\bto\b|\buntil\b)\s*(?:(?:jan|feb|mar|apr|may|jun|jul|aug|sep|sept|oct|nov|dec)[a-z]*\.?\s+)?(?:(?:19|20)\d{2}(?:[./-]\d{1,2})?|present|current|now|ongoing|至今)`)

// 分隔符要求词边界，否则"October"里的"to"会被当成起止分隔
var dateSepRe = regexp.MustCompile(`(?i)\s*(?:[-–—~]+|\bto\b|\buntil\b)\s*`)

var institutionKeywords = []string{
	"university", "college", "institute", "polytechnic", "academy",
	"大学", "学院",
}

var degreeKeywords = []string{
	"bachelor", "master", "phd", "ph.d", "b.s", "m.s", "b.a", "m.a",
	"b.sc", "m.sc", "mba", "本科", "学士", "硕士", "博士",
}

var bulletMarkerRe = regexp.MustCompile(`^[-•*·▪◦]\s*`)

// pendingBullet 保留原始行和它是否带着列表符号，结块时用来判断
// 未标记的尾行是不是下一块的标题行
type pendingBullet struct {
	text   string
	marked bool
}

type pendingBlock struct {
	kind    sectionKind
	header  string
	dates   string
	bullets []pendingBullet
}

func (s *heuristicStrategy) Attempt(ctx context.Context, text string) (*types.StructuredResume, []types.SegmentedBlock, error) {
	_ = ctx

	resume := &types.StructuredResume{}
	var skills []string
	var cur *pendingBlock
	current := sectionNone

	flush := func() {
		if cur != nil {
			appendBlock(resume, cur)
			cur = nil
		}
	}

	var allLines []string
	for _, rawLine := range strings.Split(text, "\n") {
		line := strings.TrimSpace(rawLine)
		if line == "" {
			continue
		}
		allLines = append(allLines, line)

		if kind, ok := matchSectionHeader(line); ok {
			flush()
			current = kind
			continue
		}

		switch current {
		case sectionSkills:
			skills = append(skills, splitSkillLine(line)...)
		case sectionEducation:
			cur = s.scanEducationLine(resume, cur, line)
		case sectionExperience, sectionProjects:
			cur = s.scanExperienceLine(resume, cur, current, line)
		default:
			// 章节外的行先忽略，兜底逻辑会整体打包
		}
	}
	flush()

	// 兜底：整个文档视为一个经历块，保证非空输入必有经历产出
	if len(resume.Experiences) == 0 && len(allLines) > 0 {
		block := types.ExperienceBlock{Bullets: make([]string, 0, len(allLines))}
		for _, line := range allLines {
			block.Bullets = append(block.Bullets, stripBulletMarker(line))
		}
		resume.Experiences = append(resume.Experiences, block)
	}

	attachSkills(resume, skills)
	return resume, nil, nil
}

// scanExperienceLine 处理经历/项目章节内的一行。日期区间行开启新块
// (当前块已有日期时)或补全当前块的日期；其余行累积为bullet。
func (s *heuristicStrategy) scanExperienceLine(resume *types.StructuredResume, cur *pendingBlock, kind sectionKind, line string) *pendingBlock {
	if dateRangeRe.MatchString(line) {
		if cur != nil && cur.dates == "" && len(cur.bullets) == 0 {
			cur.dates = line
			if rest := stripDates(line); rest != "" && cur.header == "" {
				cur.header = rest
			}
			return cur
		}

		// 新块。日期行自带的剩余文本优先作为标题；否则把上一块
		// 末尾未带列表符号的行拉出来当标题
		header := stripDates(line)
		if header == "" && cur != nil && len(cur.bullets) > 0 {
			last := cur.bullets[len(cur.bullets)-1]
			if !last.marked {
				header = last.text
				cur.bullets = cur.bullets[:len(cur.bullets)-1]
			}
		}
		if cur != nil {
			appendBlock(resume, cur)
		}
		return &pendingBlock{kind: kind, header: header, dates: line}
	}

	if cur == nil {
		return &pendingBlock{kind: kind, header: line}
	}
	cur.bullets = append(cur.bullets, pendingBullet{
		text:   stripBulletMarker(line),
		marked: bulletMarkerRe.MatchString(line),
	})
	return cur
}

// scanEducationLine 处理教育章节内的一行。院校关键词行开启新块，
// 学位关键词行补全学位，其余行累积为bullet。
func (s *heuristicStrategy) scanEducationLine(resume *types.StructuredResume, cur *pendingBlock, line string) *pendingBlock {
	lower := strings.ToLower(line)

	if containsAny(lower, institutionKeywords) {
		if cur != nil {
			appendBlock(resume, cur)
		}
		return newEducationBlock(line)
	}

	if cur == nil {
		return newEducationBlock(line)
	}

	hasDates := dateRangeRe.MatchString(line)
	if hasDates && cur.dates == "" {
		cur.dates = line
	}
	if containsAny(lower, degreeKeywords) {
		// 学位行进bullet，落块时再提取到Degree字段
		cur.bullets = append(cur.bullets, pendingBullet{text: stripBulletMarker(line), marked: true})
		return cur
	}
	if hasDates && stripDates(line) == "" {
		// 纯日期行只补日期，不进bullet
		return cur
	}

	cur.bullets = append(cur.bullets, pendingBullet{
		text:   stripBulletMarker(line),
		marked: bulletMarkerRe.MatchString(line),
	})
	return cur
}

// newEducationBlock 开启教育块。不带日期的院校行不占用dates槽位，
// 留给后面的日期行补
func newEducationBlock(line string) *pendingBlock {
	b := &pendingBlock{kind: sectionEducation, header: stripDates(line)}
	if dateRangeRe.MatchString(line) {
		b.dates = line
	}
	return b
}

// appendBlock 把扫描中的块落到结构化简历上
func appendBlock(resume *types.StructuredResume, b *pendingBlock) {
	start, end := splitDateRange(b.dates)
	bullets := make([]string, 0, len(b.bullets))
	for _, bl := range b.bullets {
		bullets = append(bullets, bl.text)
	}

	switch b.kind {
	case sectionProjects:
		name, role := splitHeaderLine(b.header)
		resume.Projects = append(resume.Projects, types.ProjectBlock{
			Name:      name,
			Role:      role,
			StartDate: start,
			EndDate:   end,
			Bullets:   bullets,
		})
	case sectionEducation:
		school, _ := splitHeaderLine(b.header)
		degree := ""
		kept := bullets[:0]
		for _, line := range bullets {
			if degree == "" && containsAny(strings.ToLower(line), degreeKeywords) {
				degree = stripDates(line)
				continue
			}
			kept = append(kept, line)
		}
		resume.Education = append(resume.Education, types.EducationBlock{
			School:    school,
			Degree:    degree,
			StartDate: start,
			EndDate:   end,
			Bullets:   kept,
		})
	default:
		company, title := splitHeaderLine(b.header)
		resume.Experiences = append(resume.Experiences, types.ExperienceBlock{
			Company:   company,
			Title:     title,
			StartDate: start,
			EndDate:   end,
			Bullets:   bullets,
		})
	}
}

// attachSkills 把技能章节收集到的标签挂到第一个经历块上
func attachSkills(resume *types.StructuredResume, skills []string) {
	if len(skills) == 0 || len(resume.Experiences) == 0 {
		return
	}
	first := &resume.Experiences[0]
	seen := make(map[string]bool, len(first.SkillTags))
	for _, tag := range first.SkillTags {
		seen[strings.ToLower(tag)] = true
	}
	for _, tag := range skills {
		key := strings.ToLower(tag)
		if !seen[key] {
			first.SkillTags = append(first.SkillTags, tag)
			seen[key] = true
		}
	}
}

func matchSectionHeader(line string) (sectionKind, bool) {
	for _, p := range sectionHeaderPatterns {
		if p.re.MatchString(line) {
			return p.kind, true
		}
	}
	return sectionNone, false
}

// splitDateRange 从一行里取出日期区间并拆成起止两段
func splitDateRange(line string) (string, string) {
	m := dateRangeRe.FindString(line)
	if m == "" {
		return "", ""
	}
	parts := dateSepRe.Split(m, 2)
	if len(parts) == 2 {
		return strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	}
	return strings.TrimSpace(m), ""
}

// stripDates 去掉行内的日期区间和残留的分隔符
func stripDates(line string) string {
	cleaned := dateRangeRe.ReplaceAllString(line, "")
	cleaned = strings.Trim(cleaned, " \t|,-–—~")
	return strings.TrimSpace(cleaned)
}

// splitHeaderLine 把 "TechCorp | Senior Engineer" 式的标题行拆成两段
func splitHeaderLine(header string) (string, string) {
	header = strings.TrimSpace(header)
	for _, sep := range []string{" | ", " - ", " – ", " — ", ", "} {
		if idx := strings.Index(header, sep); idx > 0 {
			return strings.TrimSpace(header[:idx]), strings.TrimSpace(header[idx+len(sep):])
		}
	}
	return header, ""
}

func splitSkillLine(line string) []string {
	line = stripBulletMarker(line)
	// "Languages: Go, Python" 去掉类目前缀
	if idx := strings.Index(line, ":"); idx >= 0 && idx < len(line)-1 {
		line = line[idx+1:]
	}
	parts := strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ';' || r == '|' || r == '/' || r == '•' || r == '、'
	})
	tags := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			tags = append(tags, trimmed)
		}
	}
	return tags
}

func stripBulletMarker(line string) string {
	return strings.TrimSpace(bulletMarkerRe.ReplaceAllString(line, ""))
}

func containsAny(haystack string, needles []string) bool {
	for _, needle := range needles {
		if strings.Contains(haystack, needle) {
			return true
		}
	}
	return false
}
