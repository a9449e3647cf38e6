package constants

// MimeTypes maps file extensions to the MIME types the Cloud API accepts for upload
var MimeTypes = map[string]string{
	// Image formats
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".webp": "image/webp",

	// Video formats
	".mp4": "video/mp4",
	".3gp": "video/3gpp",

	// Document formats
	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".txt":  "text/plain",

	// Audio formats
	".ogg": "audio/ogg",
	".mp3": "audio/mpeg",
	".aac": "audio/aac",
	".amr": "audio/amr",
	".m4a": "audio/mp4",
}

// DefaultMimeType is the fallback MIME type for unknown file extensions
const DefaultMimeType = "application/octet-stream"

// MimeTypeToExtension maps MIME types to the extension used in download filenames
var MimeTypeToExtension = map[string]string{
	"image/jpeg":      ".jpg",
	"image/png":       ".png",
	"image/webp":      ".webp",
	"video/mp4":       ".mp4",
	"video/3gpp":      ".3gp",
	"application/pdf": ".pdf",
	"text/plain":      ".txt",
	"audio/ogg":       ".ogg",
	"audio/mpeg":      ".mp3",
	"audio/aac":       ".aac",
	"audio/amr":       ".amr",
	"audio/mp4":       ".m4a",
}
