package model

import "strings"

// ArtifactKey 由邮箱生成文件名安全的键
// "ana@x.com" -> "ana_x.com"
func ArtifactKey(email string) string {
	email = strings.ReplaceAll(strings.TrimSpace(email), "@", "_")

	var b strings.Builder
	b.Grow(len(email))
	for _, r := range email {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '_' || r == '-' || r == '+':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}

	key := b.String()
	// 避免 "." / ".." 之类的特殊名称
	if strings.Trim(key, ".") == "" {
		key = strings.ReplaceAll(key, ".", "_")
	}
	return key
}

// QRFileName 二维码文件名
func QRFileName(key string) string {
	return key + ".png"
}

// CompositeFileName 邀请函图片文件名
func CompositeFileName(key string) string {
	return key + "_full.png"
}
