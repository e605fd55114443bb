// Package contenttype infers MIME types from file extensions for published
// site assets.
package contenttype

import "strings"

// Binary is the opaque fallback type.
const Binary = "application/octet-stream"

var byExtension = map[string]string{
	"html":        "text/html; charset=utf-8",
	"htm":         "text/html; charset=utf-8",
	"css":         "text/css; charset=utf-8",
	"js":          "application/javascript; charset=utf-8",
	"mjs":         "application/javascript; charset=utf-8",
	"json":        "application/json; charset=utf-8",
	"png":         "image/png",
	"jpg":         "image/jpeg",
	"jpeg":        "image/jpeg",
	"gif":         "image/gif",
	"svg":         "image/svg+xml",
	"webp":        "image/webp",
	"ico":         "image/x-icon",
	"woff":        "font/woff",
	"woff2":       "font/woff2",
	"ttf":         "font/ttf",
	"otf":         "font/otf",
	"eot":         "application/vnd.ms-fontobject",
	"pdf":         "application/pdf",
	"xml":         "application/xml",
	"txt":         "text/plain; charset=utf-8",
	"map":         "application/json; charset=utf-8",
	"wasm":        "application/wasm",
	"webmanifest": "application/manifest+json",
}

// FromPath infers the content type for a file path, falling back to Binary
// when the extension is unknown or absent.
func FromPath(path string) string {
	ext := extension(path)
	if ext == "" {
		return Binary
	}
	if ct, ok := byExtension[ext]; ok {
		return ct
	}
	return Binary
}

// HasExtension reports whether the path's final segment carries a file
// extension. Dots followed by a slash (as in /api.v1/users) do not count.
func HasExtension(path string) bool {
	return extension(path) != ""
}

func extension(path string) string {
	idx := strings.LastIndexByte(path, '.')
	if idx == -1 || idx == len(path)-1 {
		return ""
	}
	after := path[idx+1:]
	if strings.ContainsRune(after, '/') {
		return ""
	}
	return strings.ToLower(after)
}
