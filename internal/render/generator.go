// Package render 生成二维码与邀请函图片
package render

import (
	"context"
	"fmt"
	"html/template"
	"os"
	"path/filepath"

	"github.com/Hukum1020/shymkent-whatsapp/internal/model"
)

// Artifacts 一位来宾生成的文件
type Artifacts struct {
	QRPath        string
	CompositePath string
	CompositeName string
}

// Generator 图片生成器
type Generator struct {
	dir        string
	qrSize     int
	templates  Templates
	rasterizer Rasterizer
}

// NewGenerator 创建图片生成器，dir 为二维码目录（同时由文件服务对外提供）
func NewGenerator(dir string, qrSize int, templates Templates, rasterizer Rasterizer) *Generator {
	return &Generator{
		dir:        dir,
		qrSize:     qrSize,
		templates:  templates,
		rasterizer: rasterizer,
	}
}

// Generate 生成二维码和邀请函图片
// 文件名由邮箱决定，重复调用会覆盖上一次的结果
func (g *Generator) Generate(ctx context.Context, guest model.Guest) (Artifacts, error) {
	if err := os.MkdirAll(g.dir, 0755); err != nil {
		return Artifacts{}, fmt.Errorf("create artifact dir: %w", err)
	}

	key := model.ArtifactKey(guest.Email)
	qrPath := filepath.Join(g.dir, model.QRFileName(key))
	compositeName := model.CompositeFileName(key)
	compositePath := filepath.Join(g.dir, compositeName)

	png, err := EncodeQR(guest.QRPayload(), qrPath, g.qrSize)
	if err != nil {
		return Artifacts{}, err
	}

	// 模板先渲染到临时文件，再交给浏览器按 file:// 打开
	tmp, err := os.CreateTemp("", "invite-*.html")
	if err != nil {
		return Artifacts{}, fmt.Errorf("create temp html: %w", err)
	}
	defer os.Remove(tmp.Name())

	absQR, err := filepath.Abs(qrPath)
	if err != nil {
		absQR = qrPath
	}
	data := TemplateData{
		Name:       guest.Name,
		Email:      guest.Email,
		Phone:      guest.Phone,
		Language:   guest.Language,
		QRCode:     PNGDataURI(png),
		QRCodeFile: template.URL(fileURL(absQR)),
	}
	execErr := g.templates.Execute(tmp, guest.Language, data)
	closeErr := tmp.Close()
	if execErr != nil {
		return Artifacts{}, execErr
	}
	if closeErr != nil {
		return Artifacts{}, fmt.Errorf("write temp html: %w", closeErr)
	}

	if err := g.rasterizer.Rasterize(ctx, tmp.Name(), compositePath); err != nil {
		return Artifacts{}, fmt.Errorf("render %s: %w", compositeName, err)
	}

	return Artifacts{
		QRPath:        qrPath,
		CompositePath: compositePath,
		CompositeName: compositeName,
	}, nil
}
