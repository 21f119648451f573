package validate

import (
	"fmt"
	"path"
	"regexp"
	"strings"
)

// DefaultMaxFileSize is 5 MiB
const DefaultMaxFileSize int64 = 5 * 1024 * 1024

var suspiciousFileNamePattern = regexp.MustCompile(`(?i)(\.(exe|bat|cmd|scr|pif|jar|com)$|script|virus|malware)`)

// FileMeta describes an upload before its contents are read
type FileMeta struct {
	Name string `json:"name" validate:"required"`
	Size int64  `json:"size" validate:"gte=0"`
	Type string `json:"type"`
}

// FileValidationResult accumulates every failed check
type FileValidationResult struct {
	Valid  bool     `json:"valid"`
	Issues []string `json:"issues"`
}

// ValidateFileUpload checks size, type and file name. A non-positive
// maxSize falls back to DefaultMaxFileSize. An empty allowedTypes accepts
// any type; otherwise the MIME type must contain an entry or the extension
// must equal one.
func ValidateFileUpload(file FileMeta, allowedTypes []string, maxSize int64) FileValidationResult {
	if maxSize <= 0 {
		maxSize = DefaultMaxFileSize
	}
	result := FileValidationResult{Valid: true, Issues: make([]string, 0)}

	if file.Size > maxSize {
		result.Valid = false
		result.Issues = append(result.Issues,
			fmt.Sprintf("File size exceeds limit (%dMB)", (maxSize+512*1024)/(1024*1024)))
	}

	if len(allowedTypes) > 0 && !typeAllowed(file, allowedTypes) {
		result.Valid = false
		result.Issues = append(result.Issues,
			"File type not allowed. Allowed: "+strings.Join(allowedTypes, ", "))
	}

	if suspiciousFileNamePattern.MatchString(file.Name) {
		result.Valid = false
		result.Issues = append(result.Issues, "Suspicious file name detected")
	}

	return result
}

func typeAllowed(file FileMeta, allowedTypes []string) bool {
	mime := strings.ToLower(file.Type)
	ext := strings.TrimPrefix(strings.ToLower(path.Ext(file.Name)), ".")
	for _, t := range allowedTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if strings.Contains(mime, t) || ext == strings.TrimPrefix(t, ".") {
			return true
		}
	}
	return false
}
