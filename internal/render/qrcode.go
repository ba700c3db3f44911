package render

import (
	"fmt"
	"os"

	qrcode "github.com/skip2/go-qrcode"
)

// DefaultQRSize 二维码默认边长（像素）
const DefaultQRSize = 512

// EncodeQR 把 text 编码为 PNG 二维码并写入 path
func EncodeQR(text, path string, size int) ([]byte, error) {
	if size <= 0 {
		size = DefaultQRSize
	}

	png, err := qrcode.Encode(text, qrcode.Medium, size)
	if err != nil {
		return nil, fmt.Errorf("encode qr: %w", err)
	}
	if err := os.WriteFile(path, png, 0644); err != nil {
		return nil, fmt.Errorf("write qr %s: %w", path, err)
	}
	return png, nil
}
