package parser

import (
	"bytes"
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/cloudwego/eino-ext/components/document/parser/pdf"
	einoParser "github.com/cloudwego/eino/components/document/parser"
	"github.com/rs/zerolog"

	"github.com/xiaodongyu/Job-fit-engine/internal/logger"
	"github.com/xiaodongyu/Job-fit-engine/internal/types"
)

// FileParser 上传文件的文本抽取器。纯文本按UTF-8读，PDF走eino
// 解析器。图片型PDF的OCR和word文档转换是外部协作方的事，这里
// 只接文本层。
type FileParser struct {
	pdf    *pdf.PDFParser
	logger zerolog.Logger
}

// NewFileParser 创建文件解析器
func NewFileParser(ctx context.Context) (*FileParser, error) {
	// 不按页拆分，整份简历要作为连续文本进管线
	p, err := pdf.NewPDFParser(ctx, &pdf.Config{ToPages: false})
	if err != nil {
		return nil, fmt.Errorf("创建PDF解析器失败: %w", err)
	}

	return &FileParser{
		pdf:    p,
		logger: logger.Logger.With().Str("component", "file_parser").Logger(),
	}, nil
}

// ExtractText 把上传文件解析成纯文本。分支按扩展名：.pdf用PDF
// 解析器，.doc/.docx拒绝并提示转格式，其余一律按文本解码。
func (p *FileParser) ExtractText(ctx context.Context, filename string, data []byte) (string, error) {
	switch ext := strings.ToLower(filepath.Ext(filename)); ext {
	case ".pdf":
		return p.extractPDF(ctx, filename, data)
	case ".doc", ".docx":
		return "", types.NewValidationError("%s format not supported. Please convert to .pdf or .txt", ext)
	default:
		text := strings.ToValidUTF8(string(data), "")
		if strings.TrimSpace(text) == "" {
			return "", types.NewValidationError("File appears to be empty")
		}
		return text, nil
	}
}

func (p *FileParser) extractPDF(ctx context.Context, filename string, data []byte) (string, error) {
	start := time.Now()
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	docs, err := p.pdf.Parse(ctx, bytes.NewReader(data), einoParser.WithURI(filename))
	if err != nil {
		return "", types.NewValidationError("Failed to parse PDF: %v", err)
	}

	var sb strings.Builder
	for _, doc := range docs {
		sb.WriteString(doc.Content)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return "", types.NewValidationError("PDF appears to be empty (no extractable text)")
	}

	p.logger.Debug().
		Str("file", filename).
		Int("chars", len(text)).
		Dur("elapsed", time.Since(start)).
		Msg("PDF文本提取完成")
	return text, nil
}
