package constants

import "strings"

// FileTypes holds the allowed source types for ingested documents.
var FileTypes = []string{"PDF", "IMAGE", "TXT"}

// AllowedExtensions holds the default allowed file extensions for document ingestion.
var AllowedExtensions = map[string]struct{}{
	"pdf":  {},
	"tif":  {},
	"tiff": {},
	"jpg":  {},
	"jpeg": {},
	"png":  {},
	"txt":  {},
}

// NormalizeExt lowercases and trims the dot from a file extension.
func NormalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// SourceTypeForExt maps a normalized extension onto one of FileTypes.
func SourceTypeForExt(ext string) string {
	switch ext {
	case "pdf":
		return "PDF"
	case "txt":
		return "TXT"
	default:
		return "IMAGE"
	}
}
