// Package media classifies uploads into the media categories the Cloud API
// accepts and enforces the per-category size limits.
package media

import (
	"net/http"
	"path/filepath"
	"strings"

	"wabridge/internal/constants"
	"wabridge/internal/models"
)

const bytesPerMB = 1024 * 1024

// maxSizeMB holds the Cloud API upload limits per category.
var maxSizeMB = map[models.MessageType]float64{
	models.MessageTypeImage:    5,
	models.MessageTypeVideo:    16,
	models.MessageTypeAudio:    16,
	models.MessageTypeDocument: 100,
	models.MessageTypeSticker:  0.5,
}

// Detected is the result of classifying one upload.
type Detected struct {
	MimeType string
	Type     models.MessageType
}

// Router decides the MIME type and category of an upload.
type Router struct {
	maxUploadBytes int64
}

// NewRouter returns a Router. maxUploadBytes caps every category; zero keeps
// the per-category limits only.
func NewRouter(maxUploadBytes int64) *Router {
	return &Router{maxUploadBytes: maxUploadBytes}
}

// Detect picks a MIME type from the declared value, the file extension and
// finally the content sniffed from head, in that order.
func (r *Router) Detect(filename, declared string, head []byte) Detected {
	mimeType := normalizeMime(declared)
	if mimeType == "" || mimeType == constants.DefaultMimeType {
		if byExt, ok := constants.MimeTypes[strings.ToLower(filepath.Ext(filename))]; ok {
			mimeType = byExt
		}
	}
	if mimeType == "" || mimeType == constants.DefaultMimeType {
		if len(head) > 0 {
			mimeType = normalizeMime(http.DetectContentType(head))
		}
	}
	if mimeType == "" {
		mimeType = constants.DefaultMimeType
	}
	return Detected{MimeType: mimeType, Type: TypeForMime(mimeType)}
}

// TypeForMime maps a MIME type to its category. Unknown types are documents.
func TypeForMime(mimeType string) models.MessageType {
	switch {
	case mimeType == "image/webp":
		return models.MessageTypeSticker
	case strings.HasPrefix(mimeType, "image/"):
		return models.MessageTypeImage
	case strings.HasPrefix(mimeType, "video/"):
		return models.MessageTypeVideo
	case strings.HasPrefix(mimeType, "audio/"):
		return models.MessageTypeAudio
	default:
		return models.MessageTypeDocument
	}
}

// MaxSize returns the byte limit for a category.
func (r *Router) MaxSize(t models.MessageType) int64 {
	limitMB, ok := maxSizeMB[t]
	if !ok {
		limitMB = maxSizeMB[models.MessageTypeDocument]
	}
	limit := int64(limitMB * bytesPerMB)
	if r.maxUploadBytes > 0 && r.maxUploadBytes < limit {
		return r.maxUploadBytes
	}
	return limit
}

// ExtensionFor returns the file extension used when naming a download.
func ExtensionFor(mimeType string) string {
	if ext, ok := constants.MimeTypeToExtension[normalizeMime(mimeType)]; ok {
		return ext
	}
	return ""
}

func normalizeMime(v string) string {
	v = strings.TrimSpace(strings.ToLower(v))
	if i := strings.IndexByte(v, ';'); i >= 0 {
		v = strings.TrimSpace(v[:i])
	}
	return v
}
