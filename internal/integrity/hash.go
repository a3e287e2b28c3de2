// Package integrity provides the content-addressed primitives the rest of
// the system anchors on: streaming SHA-256 hashing, hash verification, and
// the platform immutable flag.
//
// Hashing is content-addressed rather than mtime-based so metadata edits
// and filesystem clock skew never produce false verification results.
package integrity

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"muckrake/internal/errdefs"
)

const hashBufSize = 64 * 1024

// HashFile computes the hex-encoded SHA-256 of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", errdefs.IO(fmt.Sprintf("failed to open %s", path), err)
	}
	defer f.Close()

	h := sha256.New()
	r := bufio.NewReaderSize(f, hashBufSize)
	if _, err := io.CopyBuffer(h, r, make([]byte, hashBufSize)); err != nil {
		return "", errdefs.IO(fmt.Sprintf("failed to read %s", path), err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// HashBytes hashes an in-memory buffer.
func HashBytes(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
