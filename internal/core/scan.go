package core

import (
	"errors"
	"io/fs"
	"iter"
	"os"
	"path/filepath"
)

// Scanner walks a build output tree and classifies every regular file.
//
// Traversal uses an explicit stack instead of recursion and keeps a set of
// visited real directory paths, so symlink cycles terminate. Order is stable
// for identical trees: within a directory, files are yielded in name order,
// then subdirectories are descended in name order.
type Scanner struct {
	Classifier *Classifier
}

// NewScanner creates a Scanner. A nil classifier selects the default allow-list.
func NewScanner(c *Classifier) *Scanner {
	if c == nil {
		c = NewClassifier(nil)
	}
	return &Scanner{Classifier: c}
}

// Scan returns a lazy, finite sequence of records under root.
//
// The sequence is restartable: every iteration re-walks the tree and no state
// is cached between iterations. A root that does not exist (or is not a
// directory) yields nothing. Directories that cannot be read are reported as
// error elements and the walk continues with the remaining entries.
func (s *Scanner) Scan(root string) iter.Seq2[ArtifactRecord, error] {
	return func(yield func(ArtifactRecord, error) bool) {
		abs, err := filepath.Abs(root)
		if err != nil {
			yield(ArtifactRecord{}, &FilesystemError{Op: "abs", Path: root, Cause: err})
			return
		}
		info, err := os.Stat(abs)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return
			}
			yield(ArtifactRecord{}, &FilesystemError{Op: "stat", Path: abs, Cause: err})
			return
		}
		if !info.IsDir() {
			return
		}

		visitedDirs := make(map[string]struct{})
		seenFiles := make(map[string]struct{})
		stack := []string{abs}

		for len(stack) > 0 {
			dir := stack[len(stack)-1]
			stack = stack[:len(stack)-1]

			realDir, err := filepath.EvalSymlinks(dir)
			if err != nil {
				if !yield(ArtifactRecord{}, &FilesystemError{Op: "resolve", Path: dir, Cause: err}) {
					return
				}
				continue
			}
			if _, ok := visitedDirs[realDir]; ok {
				continue
			}
			visitedDirs[realDir] = struct{}{}

			// os.ReadDir returns entries sorted by filename.
			entries, err := os.ReadDir(dir)
			if err != nil {
				if !yield(ArtifactRecord{}, &FilesystemError{Op: "readdir", Path: dir, Cause: err}) {
					return
				}
				continue
			}

			var subdirs []string
			for _, e := range entries {
				path := filepath.Join(dir, e.Name())
				realPath := filepath.Join(realDir, e.Name())

				var fi fs.FileInfo
				if e.Type()&fs.ModeSymlink != 0 {
					fi, err = os.Stat(path)
					if err == nil && !fi.IsDir() {
						realPath, err = filepath.EvalSymlinks(path)
					}
				} else {
					fi, err = e.Info()
				}
				if err != nil {
					if !yield(ArtifactRecord{}, &FilesystemError{Op: "stat", Path: path, Cause: err}) {
						return
					}
					continue
				}

				if fi.IsDir() {
					subdirs = append(subdirs, path)
					continue
				}
				if !fi.Mode().IsRegular() {
					continue
				}
				if _, ok := seenFiles[realPath]; ok {
					continue
				}
				seenFiles[realPath] = struct{}{}

				ext, cat := s.Classifier.Classify(path)
				rec := ArtifactRecord{
					AbsolutePath: path,
					Extension:    ext,
					SizeBytes:    fi.Size(),
					Category:     cat,
				}
				if !yield(rec, nil) {
					return
				}
			}

			// Push in reverse so the lexicographically first subdirectory is popped first.
			for i := len(subdirs) - 1; i >= 0; i-- {
				stack = append(stack, subdirs[i])
			}
		}
	}
}

// Collect drains seq into records and errors.
func Collect(seq iter.Seq2[ArtifactRecord, error]) ([]ArtifactRecord, []error) {
	var records []ArtifactRecord
	var errs []error
	for rec, err := range seq {
		if err != nil {
			errs = append(errs, err)
			continue
		}
		records = append(records, rec)
	}
	return records, errs
}
