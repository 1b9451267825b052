package utils

import (
	"mime"
	"net/http"
	"os"
)

const fallbackMime = "application/octet-stream"

// DetectMimeAndExt sniffs the MIME type of a byte slice and maps it to a
// file extension. Empty or unrecognizable data comes back as
// ("application/octet-stream", ".png") so chart and attachment writers
// always have a usable name.
func DetectMimeAndExt(data []byte) (string, string) {
	if len(data) == 0 {
		return fallbackMime, ".png"
	}
	mimeType := http.DetectContentType(data)
	return mimeType, extFor(mimeType)
}

// DetectFileMimeAndExt sniffs a file on disk by its first 512 bytes.
func DetectFileMimeAndExt(path string) (string, string) {
	f, err := os.Open(path)
	if err != nil {
		return fallbackMime, ".png"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, err := f.Read(head)
	if err != nil || n == 0 {
		return fallbackMime, ".png"
	}
	return DetectMimeAndExt(head[:n])
}

// extFor picks the first registered extension for a MIME type, defaulting
// to ".png" when the type has no mapping.
func extFor(mimeType string) string {
	if exts, err := mime.ExtensionsByType(mimeType); err == nil && len(exts) > 0 {
		return exts[0]
	}
	return ".png"
}
