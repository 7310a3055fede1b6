package fs

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const minimalPDF = "%PDF-1.4\n%fake body\n"

func TestHashContent(t *testing.T) {
	h1 := HashContent([]byte("hello world"))
	h2 := HashContent([]byte("hello world"))
	h3 := HashContent([]byte("different"))

	assert.Equal(t, h1, h2)
	assert.NotEqual(t, h1, h3)
	assert.Len(t, h1, 16)

	fromReader, err := HashReader(strings.NewReader("hello world"))
	require.NoError(t, err)
	assert.Equal(t, h1, fromReader)
}

func TestIsPDF(t *testing.T) {
	dir := t.TempDir()
	pdf := filepath.Join(dir, "a.pdf")
	txt := filepath.Join(dir, "b.pdf")
	tiny := filepath.Join(dir, "c.pdf")
	require.NoError(t, os.WriteFile(pdf, []byte(minimalPDF), 0644))
	require.NoError(t, os.WriteFile(txt, []byte("plain text"), 0644))
	require.NoError(t, os.WriteFile(tiny, []byte("%P"), 0644))

	ok, err := IsPDF(pdf)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = IsPDF(txt)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = IsPDF(tiny)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPDFWalker(t *testing.T) {
	tmpDir := t.TempDir()

	files := map[string]string{
		"report.pdf":         minimalPDF,
		"Upper.PDF":          minimalPDF,
		"notes.txt":          "not a pdf",
		"fake.pdf":           "renamed text file",
		"papers/nested.pdf":  minimalPDF,
		"drafts/skip.pdf":    minimalPDF,
		".hidden/secret.pdf": minimalPDF,
		"node_modules/x.pdf": minimalPDF,
	}
	for path, content := range files {
		full := filepath.Join(tmpDir, path)
		require.NoError(t, os.MkdirAll(filepath.Dir(full), 0755))
		require.NoError(t, os.WriteFile(full, []byte(content), 0644))
	}
	require.NoError(t, os.WriteFile(filepath.Join(tmpDir, ".gitignore"), []byte("drafts/\n"), 0644))

	walk := func(t *testing.T, opts WalkOptions) ([]string, *PDFWalker) {
		t.Helper()
		w, err := NewPDFWalker(opts)
		require.NoError(t, err)
		var found []string
		require.NoError(t, w.Walk(func(fi FileInfo) error {
			assert.Len(t, fi.Hash, 16)
			found = append(found, fi.RelPath)
			return nil
		}))
		return found, w
	}

	t.Run("finds pdfs and honors ignore rules", func(t *testing.T) {
		found, w := walk(t, WalkOptions{
			Root:           tmpDir,
			UseGitignore:   true,
			IgnorePatterns: []string{"node_modules/"},
		})
		assert.ElementsMatch(t, []string{
			"report.pdf",
			"Upper.PDF",
			filepath.Join("papers", "nested.pdf"),
		}, found)

		stats := w.Stats()
		assert.Equal(t, 3, stats.FilesFound)
		assert.Greater(t, stats.TotalBytes, int64(0))
		assert.Greater(t, stats.DirsSkipped, 0)
	})

	t.Run("without gitignore", func(t *testing.T) {
		found, _ := walk(t, WalkOptions{Root: tmpDir})
		assert.Contains(t, found, filepath.Join("drafts", "skip.pdf"))
		assert.Contains(t, found, filepath.Join("node_modules", "x.pdf"))
		assert.NotContains(t, found, filepath.Join(".hidden", "secret.pdf"))
	})

	t.Run("includes hidden when configured", func(t *testing.T) {
		found, _ := walk(t, WalkOptions{Root: tmpDir, IncludeHidden: true})
		assert.Contains(t, found, filepath.Join(".hidden", "secret.pdf"))
	})

	t.Run("respects max file size", func(t *testing.T) {
		found, _ := walk(t, WalkOptions{Root: tmpDir, MaxFileSize: 4})
		assert.Empty(t, found)
	})

	t.Run("single file root", func(t *testing.T) {
		found, _ := walk(t, WalkOptions{Root: filepath.Join(tmpDir, "report.pdf")})
		assert.Equal(t, []string{"report.pdf"}, found)
	})
}

func TestPDFWalkerErrors(t *testing.T) {
	t.Run("non-existent root", func(t *testing.T) {
		_, err := NewPDFWalker(WalkOptions{Root: "/nonexistent/path"})
		assert.Error(t, err)
		assert.Contains(t, err.Error(), "does not exist")
	})

	t.Run("single file that is not a pdf", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "notes.txt")
		require.NoError(t, os.WriteFile(path, []byte("text"), 0644))

		w, err := NewPDFWalker(WalkOptions{Root: path})
		require.NoError(t, err)
		err = w.Walk(func(FileInfo) error { return nil })
		assert.Error(t, err)
	})
}
