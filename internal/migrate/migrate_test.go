package migrate

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickcecere/ragchat/internal/model"
	"github.com/nickcecere/ragchat/internal/repository"
	"github.com/nickcecere/ragchat/internal/store"
)

// flakyStore fails Fetch on one collection a fixed number of times.
type flakyStore struct {
	store.Store
	failOn   string
	failures int
}

func (f *flakyStore) Fetch(ctx context.Context, name string, filter *store.Filter) ([]store.Record, error) {
	if name == f.failOn && f.failures > 0 {
		f.failures--
		return nil, errors.New("disk hiccup")
	}
	return f.Store.Fetch(ctx, name, filter)
}

type fixture struct {
	dir   string
	repos *repository.Repositories
	store *store.SQLiteStore
	docs  map[int64][]model.Document
}

// setup creates users 1 and 2 with two legacy documents of three chunks
// each, plus user 3 without documents.
func setup(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	dir := t.TempDir()

	db, err := repository.Open(ctx, "sqlite", filepath.Join(dir, "app.db"))
	require.NoError(t, err)
	repos := repository.New(db)
	t.Cleanup(func() { repos.Close() })

	st, err := store.NewSQLiteStore(filepath.Join(dir, "vectors.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	f := &fixture{dir: dir, repos: repos, store: st, docs: map[int64][]model.Document{}}
	for uid := int64(1); uid <= 3; uid++ {
		_, err := repos.Users.Ensure(ctx, uid)
		require.NoError(t, err)
	}
	for uid := int64(1); uid <= 2; uid++ {
		for n := 0; n < 2; n++ {
			doc := model.Document{UserID: uid, Filename: fmt.Sprintf("u%d-%d.pdf", uid, n)}
			require.NoError(t, repos.Documents.Create(ctx, &doc))
			legacy := store.LegacyCollectionName(uid, doc.ID)
			require.NoError(t, repos.Documents.UpdateCollectionRef(ctx, doc.ID, legacy))
			doc.CollectionRef = legacy

			_, err := st.GetOrCreate(ctx, legacy)
			require.NoError(t, err)
			var recs []store.Record
			for i := 0; i < 3; i++ {
				recs = append(recs, store.Record{
					ID:     store.ChunkID(doc.ID, i),
					Vector: []float32{float32(doc.ID), float32(i), 0.5},
					Text:   fmt.Sprintf("user %d doc %d chunk %d", uid, doc.ID, i),
					Metadata: store.Metadata{
						store.KeyDocID:      store.FormatID(doc.ID),
						store.KeyPageNumber: i + 1,
						store.KeyChunkIndex: i,
					},
				})
			}
			require.NoError(t, st.Insert(ctx, legacy, recs))
			f.docs[uid] = append(f.docs[uid], doc)
		}
	}
	return f
}

func (f *fixture) snapshot(t *testing.T) map[string][]store.Record {
	t.Helper()
	ctx := context.Background()
	cols, err := f.store.List(ctx, "")
	require.NoError(t, err)
	out := make(map[string][]store.Record, len(cols))
	for _, c := range cols {
		recs, err := f.store.Fetch(ctx, c.Name, nil)
		require.NoError(t, err)
		out[c.Name] = recs
	}
	return out
}

func (f *fixture) refs(t *testing.T) map[int64]string {
	t.Helper()
	out := map[int64]string{}
	for uid := range f.docs {
		docs, err := f.repos.Documents.ListByUserID(context.Background(), uid)
		require.NoError(t, err)
		for _, d := range docs {
			out[d.ID] = d.CollectionRef
		}
	}
	return out
}

func names(m map[string][]store.Record) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (f *fixture) migration(st store.Store) *ConsolidateCollections {
	return NewConsolidateCollections(f.repos.Users, f.repos.Documents, st)
}

func TestConsolidateUpThenDownRestoresLegacyLayout(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	m := f.migration(f.store)

	before := f.snapshot(t)
	refsBefore := f.refs(t)
	require.Len(t, before, 4)

	summary, err := m.Up(ctx, newLog(1))
	require.NoError(t, err)
	require.NoError(t, summary.Err())
	assert.Equal(t, Summary{Users: 2, Documents: 4, Migrated: 4, Vectors: 12}, summary)

	after := f.snapshot(t)
	assert.Equal(t, []string{"user_1_default", "user_2_default"}, names(after))
	assert.Len(t, after["user_1_default"], 6)
	assert.Len(t, after["user_2_default"], 6)
	for id, ref := range f.refs(t) {
		assert.Equal(t, "user_"+fmt.Sprint(refOwner(t, refsBefore[id]))+"_default", ref)
	}

	summary, err = m.Down(ctx, newLog(1))
	require.NoError(t, err)
	assert.Equal(t, 12, summary.Vectors)
	assert.Empty(t, summary.Errors)

	restored := f.snapshot(t)
	assert.Equal(t, names(before), names(restored))
	for name, recs := range before {
		require.Len(t, restored[name], 3, name)
		assert.Equal(t, recs, restored[name], name)
	}
	assert.Equal(t, refsBefore, f.refs(t))
}

func refOwner(t *testing.T, legacy string) int64 {
	uid, _, ok := store.ParseLegacyCollectionName(legacy)
	require.True(t, ok, legacy)
	return uid
}

func TestConsolidateAddsMissingDocID(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	// a legacy collection written before doc_id was stamped
	doc := model.Document{UserID: 3, Filename: "old.pdf"}
	require.NoError(t, f.repos.Documents.Create(ctx, &doc))
	legacy := store.LegacyCollectionName(3, doc.ID)
	require.NoError(t, f.repos.Documents.UpdateCollectionRef(ctx, doc.ID, legacy))
	_, err := f.store.GetOrCreate(ctx, legacy)
	require.NoError(t, err)
	require.NoError(t, f.store.Insert(ctx, legacy, []store.Record{{
		ID: store.ChunkID(doc.ID, 0), Vector: []float32{1, 0, 0}, Text: "bare",
		Metadata: store.Metadata{store.KeyPageNumber: 1},
	}}))

	_, err = f.migration(f.store).Up(ctx, newLog(1))
	require.NoError(t, err)

	recs, err := f.store.Fetch(ctx, "user_3_default", store.Where(store.Eq(store.KeyDocID, doc.ID)))
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, store.FormatID(doc.ID), recs[0].Metadata[store.KeyDocID])
}

func TestConsolidateResumesAfterPartialFailure(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	second := f.docs[1][1]
	flaky := &flakyStore{Store: f.store, failOn: second.CollectionRef, failures: 1}
	state, err := LoadState(filepath.Join(f.dir, "state.json"))
	require.NoError(t, err)
	runner := NewRunner(state, f.migration(flaky))

	reports, err := runner.RunAll(ctx)
	require.ErrorIs(t, err, ErrPartialFailure)
	require.Len(t, reports, 1)
	assert.Equal(t, StatusFailed, reports[0].Status)
	assert.Equal(t, 3, reports[0].Summary.Migrated)
	require.Len(t, reports[0].Summary.Errors, 1)
	assert.Contains(t, reports[0].Summary.Errors[0], fmt.Sprintf("Doc %d", second.ID))

	// the failed document still lives in its legacy collection
	_, err = f.store.Get(ctx, second.CollectionRef)
	require.NoError(t, err)
	first := f.docs[1][0]
	firstBefore, err := f.store.Fetch(ctx, "user_1_default", store.Where(store.Eq(store.KeyDocID, first.ID)))
	require.NoError(t, err)
	require.Len(t, firstBefore, 3)

	reports, err = runner.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, StatusCompleted, reports[0].Status)
	assert.Equal(t, 1, reports[0].Summary.Migrated)
	assert.Equal(t, 3, reports[0].Summary.Skipped)
	assert.Equal(t, 3, reports[0].Summary.Vectors)

	firstAfter, err := f.store.Fetch(ctx, "user_1_default", store.Where(store.Eq(store.KeyDocID, first.ID)))
	require.NoError(t, err)
	assert.Equal(t, firstBefore, firstAfter)

	_, err = f.store.Get(ctx, second.CollectionRef)
	assert.ErrorIs(t, err, store.ErrCollectionNotFound)
}

func TestConsolidateMissingLegacyCollection(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	gone := f.docs[2][0]
	require.NoError(t, f.store.Drop(ctx, gone.CollectionRef))

	summary, err := f.migration(f.store).Up(ctx, newLog(1))
	require.NoError(t, err)
	assert.ErrorIs(t, summary.Err(), ErrPartialFailure)
	assert.Equal(t, 3, summary.Migrated)
	require.Len(t, summary.Errors, 1)
	assert.Contains(t, summary.Errors[0], "not found")
	assert.Equal(t, gone.CollectionRef, f.refs(t)[gone.ID])
}

func TestConsolidateDryRunDoesNotMutate(t *testing.T) {
	f := setup(t)
	before := f.snapshot(t)

	p, err := f.migration(f.store).DryRun(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 3, p.TotalUsers)
	assert.Equal(t, 2, p.UsersToProcess)
	assert.Equal(t, 4, p.TotalDocuments)
	assert.Equal(t, 4, p.DocumentsToMigrate)
	assert.Equal(t, 12, p.EstimatedChunks)
	assert.Equal(t, []string{"user_1_default", "user_2_default"}, p.CollectionsToCreate)
	assert.Len(t, p.CollectionsToDelete, 4)

	assert.Equal(t, before, f.snapshot(t))
}

func TestRunnerLifecycle(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	statePath := filepath.Join(f.dir, "state", "migration_state.json")

	state, err := LoadState(statePath)
	require.NoError(t, err)
	runner := NewRunner(state, f.migration(f.store))

	st := runner.Status()
	assert.Equal(t, 1, st.Total)
	assert.Equal(t, 1, st.Pending)
	assert.Equal(t, StatusPending, st.Migrations[0].Status)

	previews, err := runner.DryRun(ctx)
	require.NoError(t, err)
	require.Len(t, previews, 1)
	assert.Equal(t, 12, previews[0].Preview.EstimatedChunks)

	reports, err := runner.RunAll(ctx)
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, StatusCompleted, reports[0].Status)
	assert.NotEmpty(t, reports[0].Logs)

	// state survives a restart
	reloaded, err := LoadState(statePath)
	require.NoError(t, err)
	rec := reloaded.Get(1)
	assert.Equal(t, StatusCompleted, rec.Status)
	require.NotNil(t, rec.CompletedAt)
	assert.Equal(t, 12, rec.Summary.Vectors)

	runner = NewRunner(reloaded, f.migration(f.store))
	reports, err = runner.RunAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, reports)

	previews, err = runner.DryRun(ctx)
	require.NoError(t, err)
	assert.Empty(t, previews)

	rep, err := runner.RollbackLast(ctx)
	require.NoError(t, err)
	require.NotNil(t, rep)
	assert.Equal(t, StatusPending, rep.Status)
	assert.Equal(t, StatusPending, runner.Status().Migrations[0].Status)
	assert.Nil(t, runner.Status().Migrations[0].CompletedAt)

	rep, err = runner.RollbackLast(ctx)
	require.NoError(t, err)
	assert.Nil(t, rep)

	entries, err := os.ReadDir(filepath.Dir(statePath))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "no temp files left behind")
}

func TestStateTransitions(t *testing.T) {
	state, err := LoadState(filepath.Join(t.TempDir(), "s.json"))
	require.NoError(t, err)

	_, err = state.Transition(1, StatusCompleted, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, StatusPending, state.Get(1).Status)

	_, err = state.Transition(1, StatusRunning, nil)
	require.NoError(t, err)
	_, err = state.Transition(1, StatusRollingBack, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	assert.True(t, CanTransition(StatusFailed, StatusRunning))
	assert.True(t, CanTransition(StatusRollingBack, StatusPending))
	assert.False(t, CanTransition(StatusPending, StatusRollingBack))
}

func TestLoadStateRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.json")
	require.NoError(t, os.WriteFile(path, []byte("{nope"), 0644))

	_, err := LoadState(path)
	assert.Error(t, err)
}

func TestRunnerRecoversInterruptedRun(t *testing.T) {
	f := setup(t)
	state, err := LoadState(filepath.Join(f.dir, "s.json"))
	require.NoError(t, err)
	_, err = state.Transition(1, StatusRunning, nil)
	require.NoError(t, err)

	reports, err := NewRunner(state, f.migration(f.store)).RunAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, reports[0].Status)
}
