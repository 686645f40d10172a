package core

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Digest is the hex-encoded BLAKE3-256 digest of file contents.
//
// Digests are recorded around mutating transforms so a report shows that a
// signed artifact actually changed on disk.
type Digest string

// String returns the string representation of the Digest.
func (d Digest) String() string { return string(d) }

// DigestBytes computes the Digest of b.
func DigestBytes(b []byte) Digest {
	sum := blake3.Sum256(b)
	return Digest(hex.EncodeToString(sum[:]))
}

// DigestFile streams the file at path through BLAKE3.
func DigestFile(path string) (Digest, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", &FilesystemError{Op: "open", Path: path, Cause: err}
	}
	defer f.Close()

	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", &FilesystemError{Op: "read", Path: path, Cause: err}
	}
	return Digest(hex.EncodeToString(h.Sum(nil))), nil
}
