package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragchat/internal/chunker"
	"github.com/nickcecere/ragchat/internal/filestore"
	"github.com/nickcecere/ragchat/internal/model"
	"github.com/nickcecere/ragchat/internal/repository"
	"github.com/nickcecere/ragchat/internal/store"
	"github.com/nickcecere/ragchat/internal/testutil"
)

// fakeExtractor serves pages by filename suffix so tests avoid PDF parsing.
type fakeExtractor struct {
	pages map[string][]chunker.Page
	fail  map[string]error
}

func (f *fakeExtractor) Extract(_ context.Context, path string) ([]chunker.Page, error) {
	base := filepath.Base(path)
	for name, err := range f.fail {
		if strings.HasSuffix(base, name) {
			return nil, err
		}
	}
	for name, pages := range f.pages {
		if strings.HasSuffix(base, name) {
			return pages, nil
		}
	}
	return nil, ErrExtractionFailed
}

func words(prefix string, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = prefix + string(rune('a'+i%26))
	}
	return strings.Join(out, " ")
}

type fixture struct {
	store    *store.SQLiteStore
	embedder *testutil.HashEmbedder
	chunker  *chunker.Chunker
	extract  *fakeExtractor
	pipeline *Pipeline
	repos    *repository.Repositories
	files    *filestore.Local
	service  *Service
}

func setup(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()

	st, err := store.NewSQLiteStore(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	db, err := repository.Open(context.Background(), "sqlite", filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	repos := repository.New(db)
	t.Cleanup(func() { repos.Close() })

	files, err := filestore.NewLocal(filepath.Join(dir, "uploads"))
	require.NoError(t, err)

	ch, err := chunker.New(chunker.Options{ChunkSize: 50, Overlap: 10})
	require.NoError(t, err)

	f := &fixture{
		store:    st,
		embedder: testutil.NewHashEmbedder(),
		chunker:  ch,
		extract:  &fakeExtractor{pages: map[string][]chunker.Page{}, fail: map[string]error{}},
		repos:    repos,
		files:    files,
	}
	f.pipeline = NewPipeline(st, f.embedder, ch, f.extract)
	f.service = NewService(f.pipeline, st, repos.Documents, files)
	return f
}

func TestPDFExtractor(t *testing.T) {
	path := testutil.WritePDF(t, t.TempDir(), "doc.pdf", []string{"Hello world", "", "Third page text"})

	pages, err := PDFExtractor{}.Extract(context.Background(), path)
	require.NoError(t, err)
	require.Len(t, pages, 2)
	assert.Equal(t, 1, pages[0].Number)
	assert.Contains(t, pages[0].Text, "Hello world")
	assert.Equal(t, 3, pages[1].Number)
	assert.Contains(t, pages[1].Text, "Third page text")
}

func TestPDFExtractorFailures(t *testing.T) {
	dir := t.TempDir()

	t.Run("not a pdf", func(t *testing.T) {
		path := filepath.Join(dir, "notes.pdf")
		require.NoError(t, os.WriteFile(path, []byte("plain text"), 0644))
		_, err := PDFExtractor{}.Extract(context.Background(), path)
		assert.ErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := PDFExtractor{}.Extract(context.Background(), filepath.Join(dir, "missing.pdf"))
		assert.ErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("no text", func(t *testing.T) {
		path := testutil.WritePDF(t, dir, "blank.pdf", []string{"", ""})
		_, err := PDFExtractor{}.Extract(context.Background(), path)
		assert.ErrorIs(t, err, ErrExtractionFailed)
	})
}

func TestIngestStampsMetadata(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["a.pdf"] = []chunker.Page{
		{Number: 1, Text: words("p", 25)},
		{Number: 2, Text: words("q", 5)},
	}

	n, err := f.pipeline.Ingest(ctx, 7, 1, "/uploads/1/7_a.pdf")
	require.NoError(t, err)
	assert.Greater(t, n, 1)

	records, err := f.store.Fetch(ctx, "user_1_default", nil)
	require.NoError(t, err)
	require.Len(t, records, n)

	for i, r := range records {
		assert.Equal(t, store.ChunkID(7, i), r.ID)
		assert.Equal(t, "7", r.Metadata[store.KeyDocID])
		assert.Equal(t, int64(i), r.Metadata[store.KeyChunkIndex])
		assert.NotEmpty(t, r.Text)
	}
	assert.Equal(t, int64(2), records[len(records)-1].Metadata[store.KeyPageNumber])
}

func TestIngestFailures(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	t.Run("only disallowed characters", func(t *testing.T) {
		f.extract.pages["symbols.pdf"] = []chunker.Page{{Number: 1, Text: "@@@ ### $$$"}}
		_, err := f.pipeline.Ingest(ctx, 1, 1, "symbols.pdf")
		assert.ErrorIs(t, err, ErrExtractionFailed)
	})

	t.Run("embedder down", func(t *testing.T) {
		f.extract.pages["ok.pdf"] = []chunker.Page{{Number: 1, Text: "some text"}}
		f.embedder.Fail(nil)
		defer func() { f.embedder.Err = nil }()

		_, err := f.pipeline.Ingest(ctx, 2, 1, "ok.pdf")
		assert.Error(t, err)
	})

	_, err := f.store.Get(ctx, "user_1_default")
	assert.ErrorIs(t, err, store.ErrCollectionNotFound, "failed ingests leave no collection behind")
}

func TestUploadAndRemove(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["alpha.pdf"] = []chunker.Page{{Number: 1, Text: words("alpha", 30)}}
	f.extract.pages["beta.pdf"] = []chunker.Page{{Number: 1, Text: words("beta", 30)}}

	alpha, err := f.service.Upload(ctx, 1, "alpha.pdf", strings.NewReader("%PDF alpha"))
	require.NoError(t, err)
	beta, err := f.service.Upload(ctx, 1, "beta.pdf", strings.NewReader("%PDF beta"))
	require.NoError(t, err)

	assert.Equal(t, "user_1_default", alpha.CollectionRef)
	assert.Greater(t, alpha.ChunkCount, 0)
	assert.FileExists(t, alpha.FilePath)

	stored, err := f.repos.Documents.GetByIDAndUserID(ctx, alpha.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, alpha.ChunkCount, stored.ChunkCount)

	require.NoError(t, f.service.Remove(ctx, 1, alpha.ID))

	alphaLeft, err := f.store.Count(ctx, "user_1_default", store.Where(store.Eq(store.KeyDocID, alpha.ID)))
	require.NoError(t, err)
	assert.Zero(t, alphaLeft)

	betaLeft, err := f.store.Count(ctx, "user_1_default", store.Where(store.Eq(store.KeyDocID, beta.ID)))
	require.NoError(t, err)
	assert.Equal(t, beta.ChunkCount, betaLeft)

	assert.NoFileExists(t, alpha.FilePath)
	gone, err := f.repos.Documents.GetByIDAndUserID(ctx, alpha.ID, 1)
	require.NoError(t, err)
	assert.Nil(t, gone)

	// removing the last document drops the collection
	require.NoError(t, f.service.Remove(ctx, 1, beta.ID))
	_, err = f.store.Get(ctx, "user_1_default")
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestUploadDuplicate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["a.pdf"] = []chunker.Page{{Number: 1, Text: "hello there"}}

	first, err := f.service.Upload(ctx, 1, "a.pdf", strings.NewReader("same bytes"))
	require.NoError(t, err)

	dup, err := f.service.Upload(ctx, 1, "a.pdf", strings.NewReader("same bytes"))
	assert.ErrorIs(t, err, ErrDuplicateDocument)
	assert.Equal(t, first.ID, dup.ID)

	// another user may upload the same file
	_, err = f.service.Upload(ctx, 2, "a.pdf", strings.NewReader("same bytes"))
	assert.NoError(t, err)
}

func TestUploadFailureCompensates(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["good.pdf"] = []chunker.Page{{Number: 1, Text: words("good", 20)}}
	f.extract.fail["bad.pdf"] = errors.Join(ErrExtractionFailed, errors.New("corrupt"))

	good, err := f.service.Upload(ctx, 1, "good.pdf", strings.NewReader("good"))
	require.NoError(t, err)

	_, err = f.service.Upload(ctx, 1, "bad.pdf", strings.NewReader("bad"))
	require.ErrorIs(t, err, ErrExtractionFailed)

	docs, err := f.repos.Documents.ListByUserID(ctx, 1)
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, good.ID, docs[0].ID)

	entries, err := os.ReadDir(filepath.Join(f.files.Root(), "1"))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "the failed upload's file is removed")

	n, err := f.store.Count(ctx, "user_1_default", nil)
	require.NoError(t, err)
	assert.Equal(t, good.ChunkCount, n)
}

func TestRemoveLegacyDocument(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	doc := &model.Document{UserID: 1, Filename: "old.pdf"}
	require.NoError(t, f.repos.Documents.Create(ctx, doc))
	legacy := store.LegacyCollectionName(1, doc.ID)
	doc.CollectionRef = legacy
	require.NoError(t, f.repos.Documents.Update(ctx, doc))

	_, err := f.store.GetOrCreate(ctx, legacy)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, legacy, []store.Record{{ID: store.ChunkID(doc.ID, 0), Vector: []float32{1, 0}, Text: "old"}}))

	require.NoError(t, f.service.Remove(ctx, 1, doc.ID))

	_, err = f.store.Get(ctx, legacy)
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestRemoveNotFound(t *testing.T) {
	f := setup(t)
	err := f.service.Remove(context.Background(), 1, 404)
	assert.ErrorIs(t, err, ErrDocumentNotFound)
}

// interleavingStore runs a hook once just before the wrapped call, to
// place another operation between two steps of the code under test.
type interleavingStore struct {
	store.Store
	beforeDropIfEmpty func()
	beforeInsert      func(name string)
	deleteErr         error
}

func (s *interleavingStore) DropIfEmpty(ctx context.Context, name string) (bool, error) {
	if fn := s.beforeDropIfEmpty; fn != nil {
		s.beforeDropIfEmpty = nil
		fn()
	}
	return s.Store.DropIfEmpty(ctx, name)
}

func (s *interleavingStore) Insert(ctx context.Context, name string, records []store.Record) error {
	if fn := s.beforeInsert; fn != nil {
		s.beforeInsert = nil
		fn(name)
	}
	return s.Store.Insert(ctx, name, records)
}

func (s *interleavingStore) DeleteByFilter(ctx context.Context, name string, filter *store.Filter) ([]string, error) {
	if s.deleteErr != nil {
		return nil, s.deleteErr
	}
	return s.Store.DeleteByFilter(ctx, name, filter)
}

func (f *fixture) wrap() (*interleavingStore, *Pipeline, *Service) {
	st := &interleavingStore{Store: f.store}
	p := NewPipeline(st, f.embedder, f.chunker, f.extract)
	return st, p, NewService(p, st, f.repos.Documents, f.files)
}

func TestRemoveLastDocumentKeepsConcurrentIngest(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["alpha.pdf"] = []chunker.Page{{Number: 1, Text: words("alpha", 30)}}
	f.extract.pages["beta.pdf"] = []chunker.Page{{Number: 1, Text: words("beta", 30)}}

	alpha, err := f.service.Upload(ctx, 1, "alpha.pdf", strings.NewReader("%PDF alpha"))
	require.NoError(t, err)

	st, pipeline, svc := f.wrap()
	var betaChunks int
	st.beforeDropIfEmpty = func() {
		n, err := pipeline.Ingest(ctx, 99, 1, "beta.pdf")
		require.NoError(t, err)
		betaChunks = n
	}

	require.NoError(t, svc.Remove(ctx, 1, alpha.ID))
	require.Greater(t, betaChunks, 0)

	n, err := f.store.Count(ctx, "user_1_default", store.Where(store.Eq(store.KeyDocID, 99)))
	require.NoError(t, err)
	assert.Equal(t, betaChunks, n)
}

func TestIngestRecreatesCollectionDroppedBeforeInsert(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["alpha.pdf"] = []chunker.Page{{Number: 1, Text: words("alpha", 30)}}

	st, pipeline, _ := f.wrap()
	st.beforeInsert = func(name string) {
		require.NoError(t, f.store.Drop(ctx, name))
	}

	n, err := pipeline.Ingest(ctx, 5, 1, "alpha.pdf")
	require.NoError(t, err)

	stored, err := f.store.Count(ctx, "user_1_default", nil)
	require.NoError(t, err)
	assert.Equal(t, n, stored)
}

func TestRemoveKeepsRowWhenChunkRemovalFails(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.extract.pages["alpha.pdf"] = []chunker.Page{{Number: 1, Text: words("alpha", 30)}}

	alpha, err := f.service.Upload(ctx, 1, "alpha.pdf", strings.NewReader("%PDF alpha"))
	require.NoError(t, err)

	st, _, svc := f.wrap()
	st.deleteErr = errors.New("disk full")

	err = svc.Remove(ctx, 1, alpha.ID)
	require.Error(t, err)

	kept, err := f.repos.Documents.GetByIDAndUserID(ctx, alpha.ID, 1)
	require.NoError(t, err)
	require.NotNil(t, kept)
	assert.Equal(t, "user_1_default", kept.CollectionRef)

	n, err := f.store.Count(ctx, "user_1_default", nil)
	require.NoError(t, err)
	assert.Equal(t, alpha.ChunkCount, n)
	assert.FileExists(t, alpha.FilePath)
}
