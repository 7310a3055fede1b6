package fs

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cespare/xxhash/v2"
	"github.com/charmbracelet/log"
	gitignore "github.com/sabhiram/go-gitignore"
)

var pdfMagic = []byte("%PDF-")

// Ignorer defines the interface for pattern matching.
type Ignorer interface {
	MatchesPath(path string) bool
}

// combinedIgnorer wraps two ignorers.
type combinedIgnorer struct {
	file     *gitignore.GitIgnore
	patterns *gitignore.GitIgnore
}

// MatchesPath returns true if the path matches any ignore pattern.
func (c *combinedIgnorer) MatchesPath(path string) bool {
	return c.file.MatchesPath(path) || c.patterns.MatchesPath(path)
}

// PDFWalker yields the PDFs under a root, honoring ignore rules.
type PDFWalker struct {
	opts    WalkOptions
	single  bool
	ignorer Ignorer
	stats   WalkStats
}

// NewPDFWalker creates a walker. Root may be a directory or one PDF file.
func NewPDFWalker(opts WalkOptions) (*PDFWalker, error) {
	root, err := filepath.Abs(opts.Root)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve root path: %w", err)
	}
	opts.Root = root

	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("root path does not exist: %w", err)
	}

	w := &PDFWalker{opts: opts, single: !info.IsDir()}
	if !w.single {
		w.initIgnorer()
	}
	return w, nil
}

// initIgnorer initializes the gitignore matcher.
func (w *PDFWalker) initIgnorer() {
	patterns := w.opts.IgnorePatterns

	if w.opts.UseGitignore {
		gitignorePath := filepath.Join(w.opts.Root, ".gitignore")
		if _, err := os.Stat(gitignorePath); err == nil {
			gi, err := gitignore.CompileIgnoreFile(gitignorePath)
			if err != nil {
				log.Warn("Failed to parse .gitignore", "path", gitignorePath, "error", err)
			} else {
				w.ignorer = &combinedIgnorer{
					file:     gi,
					patterns: gitignore.CompileIgnoreLines(patterns...),
				}
				return
			}
		}
	}

	w.ignorer = gitignore.CompileIgnoreLines(patterns...)
}

// Walk calls fn for every PDF in lexical order.
func (w *PDFWalker) Walk(fn func(FileInfo) error) error {
	w.stats = WalkStats{}

	if w.single {
		fi, ok, err := w.inspect(w.opts.Root, filepath.Base(w.opts.Root))
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%s is not a PDF", w.opts.Root)
		}
		return fn(fi)
	}

	return filepath.WalkDir(w.opts.Root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			log.Debug("Error accessing path", "path", path, "error", err)
			return nil
		}

		relPath, err := filepath.Rel(w.opts.Root, path)
		if err != nil {
			relPath = path
		}

		if d.IsDir() {
			if path != w.opts.Root && w.shouldSkip(d.Name(), relPath+"/") {
				w.stats.DirsSkipped++
				return filepath.SkipDir
			}
			return nil
		}

		if w.shouldSkip(d.Name(), relPath) || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			w.stats.FilesSkipped++
			return nil
		}

		fi, ok, err := w.inspect(path, relPath)
		if err != nil {
			log.Debug("Failed to inspect file", "path", path, "error", err)
			return nil
		}
		if !ok {
			w.stats.FilesSkipped++
			return nil
		}
		return fn(fi)
	})
}

// Stats returns the walk statistics.
func (w *PDFWalker) Stats() WalkStats {
	return w.stats
}

func (w *PDFWalker) shouldSkip(name, relPath string) bool {
	if name == ".git" {
		return true
	}
	if !w.opts.IncludeHidden && strings.HasPrefix(name, ".") {
		return true
	}
	return w.ignorer != nil && w.ignorer.MatchesPath(relPath)
}

// inspect checks size and PDF header and hashes the file.
func (w *PDFWalker) inspect(path, relPath string) (FileInfo, bool, error) {
	info, err := os.Stat(path)
	if err != nil {
		return FileInfo{}, false, err
	}
	if w.opts.MaxFileSize > 0 && info.Size() > w.opts.MaxFileSize {
		return FileInfo{}, false, nil
	}
	ok, err := IsPDF(path)
	if err != nil || !ok {
		return FileInfo{}, false, err
	}
	hash, err := HashFile(path)
	if err != nil {
		return FileInfo{}, false, err
	}

	w.stats.FilesFound++
	w.stats.TotalBytes += info.Size()
	return FileInfo{
		Path:    path,
		RelPath: relPath,
		Size:    info.Size(),
		ModTime: info.ModTime(),
		Hash:    hash,
	}, true, nil
}

// HashFile computes the xxhash of a file's contents.
func HashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	return HashReader(f)
}

// HashReader computes the xxhash of everything read from r.
func HashReader(r io.Reader) (string, error) {
	h := xxhash.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016x", h.Sum64()), nil
}

// HashContent computes the xxhash of content bytes.
func HashContent(content []byte) string {
	return fmt.Sprintf("%016x", xxhash.Sum64(content))
}

// IsPDF reports whether the file starts with the PDF header.
func IsPDF(path string) (bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return false, err
	}
	defer f.Close()

	buf := make([]byte, len(pdfMagic))
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return false, err
	}
	return bytes.Equal(buf[:n], pdfMagic), nil
}
