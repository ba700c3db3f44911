package render

import (
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ErrTemplateNotFound 语言对应的模板不存在
var ErrTemplateNotFound = errors.New("template not found")

// Templates 按语言选择邀请函模板
//
// 模板文件名由 Pattern 和语言拼接而成，例如 "shym%s.html" + "ru" -> "shymru.html"。
type Templates struct {
	Dir     string
	Pattern string
}

// TemplateData 模板可用字段
type TemplateData struct {
	Name     string
	Email    string
	Phone    string
	Language string
	// QRCode 二维码 data: URI，可直接用于 <img src>
	QRCode template.URL
	// QRCodeFile 二维码文件的 file:// 地址
	QRCodeFile template.URL
	// BaseURL 模板目录的 file:// 地址，用于 <base href> 引用同目录的图片/样式
	BaseURL template.URL
}

// Path 返回语言对应的模板路径
func (t Templates) Path(language string) (string, error) {
	lang := strings.TrimSpace(language)
	if lang == "" || strings.ContainsAny(lang, `/\`) || strings.Contains(lang, "..") {
		return "", fmt.Errorf("language %q: %w", language, ErrTemplateNotFound)
	}

	path := filepath.Join(t.Dir, fmt.Sprintf(t.Pattern, lang))
	st, err := os.Stat(path)
	if err != nil || st.IsDir() {
		return "", fmt.Errorf("language %q (%s): %w", language, path, ErrTemplateNotFound)
	}
	return path, nil
}

// Execute 渲染 language 对应的模板到 w
func (t Templates) Execute(w io.Writer, language string, data TemplateData) error {
	path, err := t.Path(language)
	if err != nil {
		return err
	}

	tmpl, err := template.ParseFiles(path)
	if err != nil {
		return fmt.Errorf("parse template %s: %w", path, err)
	}
	if data.BaseURL == "" {
		if dir, err := filepath.Abs(filepath.Dir(path)); err == nil {
			data.BaseURL = template.URL(fileURL(dir) + "/")
		}
	}
	if err := tmpl.Execute(w, data); err != nil {
		return fmt.Errorf("execute template %s: %w", path, err)
	}
	return nil
}

// PNGDataURI 把 PNG 字节编码为 data: URI
func PNGDataURI(png []byte) template.URL {
	return template.URL("data:image/png;base64," + base64.StdEncoding.EncodeToString(png))
}

func fileURL(path string) string {
	u := url.URL{Scheme: "file", Path: filepath.ToSlash(path)}
	if !strings.HasPrefix(u.Path, "/") {
		u.Path = "/" + u.Path
	}
	return u.String()
}
