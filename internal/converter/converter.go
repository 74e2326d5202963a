// Package converter 将下载到本地的原始文件转换为带基础元数据的 Document 序列。
package converter

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"rag-tenant-go/internal/errs"
	"rag-tenant-go/internal/model"
	"rag-tenant-go/pkg/log"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/net/html"
)

// 文档类型。
const (
	TypePDF    = "pdf"
	TypeText   = "text"
	TypeHTML   = "html"
	TypeOffice = "office"
)

var extensionTypes = map[string]string{
	".pdf":      TypePDF,
	".txt":      TypeText,
	".text":     TypeText,
	".md":       TypeText,
	".markdown": TypeText,
	".csv":      TypeText,
	".json":     TypeText,
	".log":      TypeText,
	".yaml":     TypeText,
	".yml":      TypeText,
	".html":     TypeHTML,
	".htm":      TypeHTML,
	".docx":     TypeOffice,
	".doc":      TypeOffice,
	".pptx":     TypeOffice,
	".ppt":      TypeOffice,
	".xlsx":     TypeOffice,
	".xls":      TypeOffice,
	".odt":      TypeOffice,
	".rtf":      TypeOffice,
}

// OfficeExtractor 从 Office 类文档中提取纯文本，通常由 Tika 客户端实现。
type OfficeExtractor interface {
	ExtractText(ctx context.Context, r io.Reader, fileName string) (string, error)
}

// Converter 按文件类型选择提取方式。
type Converter struct {
	office OfficeExtractor
}

// New 创建转换器；office 为 nil 时 Office 类文档转换为错误占位文档。
func New(office OfficeExtractor) *Converter {
	return &Converter{office: office}
}

// DetectType 先按本地文件扩展名判断类型，无法识别时再按对象路径扩展名，仍无法识别则按纯文本处理。
func DetectType(filePath, objectPath string) string {
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(filePath))]; ok {
		return t
	}
	if t, ok := extensionTypes[strings.ToLower(filepath.Ext(objectPath))]; ok {
		return t
	}
	return TypeText
}

// Convert 提取文件内容。该方法从不返回错误：提取失败时返回一个携带错误信息的占位文档。
func (c *Converter) Convert(ctx context.Context, filePath, docID, objectPath string) []model.Document {
	docType := DetectType(filePath, objectPath)
	base := baseMetadata(filePath, docID, objectPath, docType)

	docs, err := c.extract(ctx, filePath, objectPath, docType)
	if err != nil {
		convErr := errs.Conversion("converter.Convert", err).With("doc_id", docID)
		log.Warnf("[Converter] 文档转换失败, 生成占位文档: %v", convErr)
		meta := cloneMeta(base)
		meta[model.MetaConversionError] = "true"
		return []model.Document{{
			Content:  fmt.Sprintf("Error converting document %s: %v", sourceName(filePath, objectPath), err),
			Metadata: meta,
		}}
	}

	out := make([]model.Document, 0, len(docs))
	for _, d := range docs {
		meta := cloneMeta(base)
		for k, v := range d.Metadata {
			meta[k] = v
		}
		out = append(out, model.Document{Content: d.Content, Metadata: meta})
	}
	log.Infof("[Converter] 文档转换完成, doc_id: %s, type: %s, documents: %d", docID, docType, len(out))
	return out
}

func (c *Converter) extract(ctx context.Context, filePath, objectPath, docType string) ([]model.Document, error) {
	switch docType {
	case TypePDF:
		return extractPDF(filePath)
	case TypeHTML:
		return extractHTML(filePath)
	case TypeOffice:
		return c.extractOffice(ctx, filePath, objectPath)
	default:
		return extractText(filePath)
	}
}

func baseMetadata(filePath, docID, objectPath, docType string) map[string]string {
	meta := map[string]string{
		model.MetaDocID:      docID,
		model.MetaObjectPath: objectPath,
		model.MetaDocType:    docType,
		model.MetaSource:     sourceName(filePath, objectPath),
		model.MetaSize:       "0",
	}
	if info, err := os.Stat(filePath); err == nil {
		meta[model.MetaSize] = strconv.FormatInt(info.Size(), 10)
	}
	return meta
}

func sourceName(filePath, objectPath string) string {
	if objectPath != "" {
		return filepath.Base(objectPath)
	}
	return filepath.Base(filePath)
}

func cloneMeta(m map[string]string) map[string]string {
	out := make(map[string]string, len(m)+2)
	for k, v := range m {
		out[k] = v
	}
	return out
}

func extractText(filePath string) ([]model.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	return []model.Document{{Content: strings.ToValidUTF8(string(data), "")}}, nil
}

// extractPDF 每个非空页面生成一个 Document，并记录页码。
// 没有任何页面提取出文本且存在解码失败的页面时返回错误。
func extractPDF(filePath string) ([]model.Document, error) {
	f, reader, err := pdf.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开 PDF 失败: %w", err)
	}
	defer f.Close()

	var (
		docs      []model.Document
		failed    int
		firstErr  error
		totalPage = reader.NumPage()
	)
	for pageNum := 1; pageNum <= totalPage; pageNum++ {
		page := reader.Page(pageNum)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			log.Warnf("[Converter] 提取 PDF 第 %d 页失败: %v", pageNum, err)
			failed++
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, model.Document{
			Content:  text,
			Metadata: map[string]string{model.MetaPage: strconv.Itoa(pageNum)},
		})
	}
	if len(docs) == 0 && firstErr != nil {
		return nil, fmt.Errorf("PDF %d/%d 页解码失败: %w", failed, totalPage, firstErr)
	}
	return docs, nil
}

func extractHTML(filePath string) ([]model.Document, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取文件失败: %w", err)
	}
	root, err := html.Parse(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("解析 HTML 失败: %w", err)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				b.WriteString(text)
				b.WriteString(" ")
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			if child.Type == html.ElementNode {
				switch child.Data {
				case "script", "style", "noscript", "head":
					continue
				}
			}
			walk(child)
			if child.Type == html.ElementNode {
				switch child.Data {
				case "p", "div", "br", "li", "tr", "h1", "h2", "h3", "h4", "h5", "h6":
					b.WriteString("\n")
				}
			}
		}
	}
	walk(root)

	return []model.Document{{Content: strings.TrimSpace(b.String())}}, nil
}

func (c *Converter) extractOffice(ctx context.Context, filePath, objectPath string) ([]model.Document, error) {
	if c.office == nil {
		return nil, fmt.Errorf("未配置 Office 文档提取服务")
	}
	f, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("打开文件失败: %w", err)
	}
	defer f.Close()

	text, err := c.office.ExtractText(ctx, f, sourceName(filePath, objectPath))
	if err != nil {
		return nil, err
	}
	return []model.Document{{Content: text}}, nil
}
