package core

import (
	"path/filepath"
	"sort"
	"strings"
)

// Category is the classification of a scanned file.
type Category string

const (
	CategoryDebugMap Category = "debug-map"
	CategorySignable Category = "signable"
	CategoryOther    Category = "other"
)

// DebugMapExtension is the extension of generated debug-map side files.
const DebugMapExtension = ".map"

// DefaultSignableExtensions is the allow-list used when none is configured.
var DefaultSignableExtensions = []string{".exe", ".msi", ".dll", ".nupkg"}

// ArtifactRecord represents a file discovered under the build output root.
//
// Records are created by the Scanner and never mutated afterwards; transforms
// receive them by value.
type ArtifactRecord struct {
	// AbsolutePath is the absolute path as walked from the scan root.
	AbsolutePath string `json:"path" yaml:"path"`

	// Extension is the lower-cased final extension including the dot.
	Extension string `json:"extension" yaml:"extension"`

	// SizeBytes is the file size observed at scan time.
	SizeBytes int64 `json:"size_bytes" yaml:"size_bytes"`

	Category Category `json:"category" yaml:"category"`
}

// Classifier maps file names to categories.
type Classifier struct {
	signable map[string]struct{}
}

// NewClassifier creates a Classifier whose Signable category is the given
// extension allow-list. A nil or empty list selects DefaultSignableExtensions.
func NewClassifier(signable []string) *Classifier {
	if len(signable) == 0 {
		signable = DefaultSignableExtensions
	}
	c := &Classifier{signable: make(map[string]struct{}, len(signable))}
	for _, ext := range signable {
		n := NormalizeExtension(ext)
		if n == "" || n == DebugMapExtension {
			continue
		}
		c.signable[n] = struct{}{}
	}
	return c
}

// Classify returns the normalized extension and category of path.
//
// Debug maps take precedence, so ".map" can never be made signable.
func (c *Classifier) Classify(path string) (string, Category) {
	ext := NormalizeExtension(filepath.Ext(path))
	if ext == DebugMapExtension {
		return ext, CategoryDebugMap
	}
	if c != nil {
		if _, ok := c.signable[ext]; ok {
			return ext, CategorySignable
		}
	}
	return ext, CategoryOther
}

// SignableExtensions returns the allow-list in sorted order.
func (c *Classifier) SignableExtensions() []string {
	out := make([]string, 0, len(c.signable))
	for ext := range c.signable {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}

// NormalizeExtension lower-cases ext and guarantees a leading dot.
// Blank input yields "".
func NormalizeExtension(ext string) string {
	ext = strings.ToLower(strings.TrimSpace(ext))
	if ext == "" || ext == "." {
		return ""
	}
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}
