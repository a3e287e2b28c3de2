package model

import "time"

// TrackedFile is a file under evidentiary tracking.
//
// Path is unique per project and is the file's identity for references;
// SHA256 is the content hash recorded at ingest.
// Immutable records whether the OS immutable flag was actually set, which
// may be false even under an Immutable policy when setting the flag failed.
type TrackedFile struct {
	ID          int64
	Name        string
	Path        string
	SHA256      string
	Fingerprint string
	MimeType    string
	Size        int64
	IngestedAt  time.Time
	Provenance  string
	Immutable   bool
}

// FileTag is a tag applied to a file, snapshotting the file hash at
// tagging time. The tag is stale when that snapshot no longer matches
// the current content hash.
type FileTag struct {
	FileID   int64
	Tag      string
	FileHash string
}

// Stale reports whether the tag's hash snapshot diverged from currentHash.
func (t *FileTag) Stale(currentHash string) bool {
	return t.FileHash != "" && t.FileHash != currentHash
}
