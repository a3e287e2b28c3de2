package model

import "time"

// Sign records that a named approval was granted for a file at a specific
// content hash. Signs are never mutated after insertion; revocation only
// sets RevokedAt. Source records the origin for rule-created signs
// ("rule:<name>"); user-created signs leave it empty.
type Sign struct {
	ID         int64
	PipelineID int64
	FileID     int64
	FileHash   string
	SignName   string
	Signer     string
	SignedAt   time.Time
	Signature  string
	RevokedAt  *time.Time
	Source     string
}

// Valid reports whether the sign counts toward state derivation: not
// revoked and granted at the current content hash.
func (s *Sign) Valid(currentHash string) bool {
	return s.RevokedAt == nil && s.FileHash == currentHash
}

// StaleAt reports whether the sign is stale: not revoked but granted at a
// hash that no longer matches the file.
func (s *Sign) StaleAt(currentHash string) bool {
	return s.RevokedAt == nil && s.FileHash != currentHash
}
