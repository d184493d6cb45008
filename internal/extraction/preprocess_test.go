package extraction

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeLayout(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  string
	}{
		{
			name:  "制表符串变成列分隔符",
			input: "Company\t\t\tLocation",
			want:  "Company | Location",
		},
		{
			name:  "连续空格压成一个",
			input: "Hello    World     Test",
			want:  "Hello World Test",
		},
		{
			name:  "逐行处理并去掉首尾空白",
			input: "  TechCorp Inc.  \nSenior Engineer\t\t2019 - 2022",
			want:  "TechCorp Inc.\nSenior Engineer | 2019 - 2022",
		},
		{
			name:  "空行保留",
			input: "Experience\n\nEducation",
			want:  "Experience\n\nEducation",
		},
		{
			name:  "空输入",
			input: "",
			want:  "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, NormalizeLayout(tt.input), "布局规整结果不符合预期")
		})
	}
}
