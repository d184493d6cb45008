package extraction

import (
	"regexp"
	"strings"
)

var (
	tabRunRe   = regexp.MustCompile(`\t+`)
	spaceRunRe = regexp.MustCompile(` {2,}`)
)

// NormalizeLayout 规整制表符布局的简历文本。制表符串替换为显式的
// " | " 分隔符，行内连续空格压成一个，每行去掉首尾空白。
// "Company\t\t\tLocation" 会变成 "Company | Location"。
func NormalizeLayout(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		line = tabRunRe.ReplaceAllString(line, " | ")
		line = spaceRunRe.ReplaceAllString(line, " ")
		lines[i] = strings.TrimSpace(line)
	}
	return strings.Join(lines, "\n")
}
