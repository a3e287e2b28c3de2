// Package engine implements the user-level operations of mkrk: ingest and
// manual tracking, categorize, verify, tagging, and the sign lifecycle.
// Commands call into this package; it owns the coupling between the
// stores, the integrity primitives, and the rules engine.
package engine

import "strings"

// mimeByExtension maps common evidence file extensions to mime types.
// Detection is by extension only; content sniffing is out of scope.
var mimeByExtension = map[string]string{
	"pdf":  "application/pdf",
	"doc":  "application/msword",
	"docx": "application/msword",
	"xls":  "application/vnd.ms-excel",
	"xlsx": "application/vnd.ms-excel",
	"csv":  "text/csv",
	"txt":  "text/plain",
	"md":   "text/markdown",
	"jpg":  "image/jpeg",
	"jpeg": "image/jpeg",
	"png":  "image/png",
	"gif":  "image/gif",
	"tiff": "image/tiff",
	"tif":  "image/tiff",
	"wav":  "audio/wav",
	"mp3":  "audio/mpeg",
	"mp4":  "video/mp4",
	"mkv":  "video/x-matroska",
	"html": "text/html",
	"htm":  "text/html",
	"json": "application/json",
	"xml":  "application/xml",
	"zip":  "application/zip",
	"eml":  "message/rfc822",
}

// GuessMime returns the mime type for a filename, or "" when unknown.
func GuessMime(filename string) string {
	i := strings.LastIndexByte(filename, '.')
	if i < 0 || i == len(filename)-1 {
		return ""
	}
	return mimeByExtension[strings.ToLower(filename[i+1:])]
}

// FileExtension returns the final extension segment of a path, without
// the dot. A path with no dot returns itself.
func FileExtension(path string) string {
	if i := strings.LastIndexByte(path, '.'); i >= 0 {
		return path[i+1:]
	}
	return path
}
