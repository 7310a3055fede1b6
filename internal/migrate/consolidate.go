package migrate

import (
	"context"
	"errors"
	"fmt"

	"github.com/nickcecere/ragchat/internal/model"
	"github.com/nickcecere/ragchat/internal/store"
)

// Users lists every user.
type Users interface {
	List(ctx context.Context) ([]model.User, error)
}

// Documents reads and repoints document records.
type Documents interface {
	ListByUserID(ctx context.Context, userID int64) ([]model.Document, error)
	UpdateCollectionRef(ctx context.Context, id int64, ref string) error
}

// ConsolidateCollections moves every legacy per-document collection
// doc_{uid}_{doc} into the owner's user_{uid}_default collection, tagging
// each vector with its doc_id.
type ConsolidateCollections struct {
	users Users
	docs  Documents
	store store.Store
}

func NewConsolidateCollections(users Users, docs Documents, st store.Store) *ConsolidateCollections {
	return &ConsolidateCollections{users: users, docs: docs, store: st}
}

func (*ConsolidateCollections) Version() int { return 1 }

func (*ConsolidateCollections) Name() string {
	return "Consolidate Collections - Per-Document to Per-User"
}

// Up migrates document by document. A failed document is recorded and the
// run goes on; documents already pointing at a user collection are skipped.
func (c *ConsolidateCollections) Up(ctx context.Context, l *Log) (Summary, error) {
	var s Summary

	users, err := c.users.List(ctx)
	if err != nil {
		return s, err
	}
	l.Info("Found users", "count", len(users))

	for _, u := range users {
		docs, err := c.docs.ListByUserID(ctx, u.ID)
		if err != nil {
			return s, err
		}
		if len(docs) == 0 {
			continue
		}
		s.Users++
		s.Documents += len(docs)

		target, err := store.OpenUserCollection(ctx, c.store, u.ID, store.KindDefault)
		if err != nil {
			return s, err
		}
		l.Info("Processing user", "user_id", u.ID, "documents", len(docs), "collection", target.Name)

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return s, err
			}
			if store.IsUserCollection(doc.CollectionRef, u.ID) {
				s.Skipped++
				continue
			}
			n, err := c.migrateDocument(ctx, u.ID, doc, target.Name)
			if err != nil {
				l.Error("Failed to migrate document", "user_id", u.ID, "doc_id", doc.ID, "error", err)
				s.Errors = append(s.Errors, fmt.Sprintf("User %d, Doc %d: %v", u.ID, doc.ID, err))
				continue
			}
			l.Info("Migrated document", "doc_id", doc.ID, "vectors", n)
			s.Migrated++
			s.Vectors += n
		}
	}

	l.Info("Migration summary",
		"users", s.Users,
		"documents", s.Documents,
		"migrated", s.Migrated,
		"skipped", s.Skipped,
		"vectors", s.Vectors,
		"errors", len(s.Errors),
	)
	return s, nil
}

func (c *ConsolidateCollections) migrateDocument(ctx context.Context, userID int64, doc model.Document, target string) (int, error) {
	source := doc.CollectionRef
	if source == "" {
		source = store.LegacyCollectionName(userID, doc.ID)
	}
	docID := doc.ID
	if _, parsed, ok := store.ParseLegacyCollectionName(source); ok {
		docID = parsed
	}

	if _, err := c.store.Get(ctx, source); err != nil {
		if errors.Is(err, store.ErrCollectionNotFound) {
			return 0, fmt.Errorf("old collection %s not found", source)
		}
		return 0, err
	}
	records, err := c.store.Fetch(ctx, source, nil)
	if err != nil {
		return 0, err
	}

	docKey := store.FormatID(docID)
	for i := range records {
		if records[i].Metadata == nil {
			records[i].Metadata = store.Metadata{}
		}
		if _, ok := records[i].Metadata[store.KeyDocID]; !ok {
			records[i].Metadata[store.KeyDocID] = docKey
		}
	}

	// a previous interrupted run may have copied some of them already
	byDoc := store.Where(store.Eq(store.KeyDocID, docID))
	if _, err := c.store.DeleteByFilter(ctx, target, byDoc); err != nil {
		return 0, err
	}
	if len(records) > 0 {
		if err := c.store.Insert(ctx, target, records); err != nil {
			return 0, err
		}
	}
	n, err := c.store.Count(ctx, target, byDoc)
	if err != nil {
		return 0, err
	}
	if n != len(records) {
		return 0, fmt.Errorf("expected %d vectors in %s, found %d", len(records), target, n)
	}

	if err := c.docs.UpdateCollectionRef(ctx, doc.ID, target); err != nil {
		return 0, err
	}
	if err := c.store.Drop(ctx, source); err != nil {
		return n, fmt.Errorf("vectors moved but %s was not dropped: %w", source, err)
	}
	return n, nil
}

// Down splits each user's default collection back into per-document
// collections and drops it once it is empty.
func (c *ConsolidateCollections) Down(ctx context.Context, l *Log) (Summary, error) {
	var s Summary

	users, err := c.users.List(ctx)
	if err != nil {
		return s, err
	}

	for _, u := range users {
		docs, err := c.docs.ListByUserID(ctx, u.ID)
		if err != nil {
			return s, err
		}
		if len(docs) == 0 {
			continue
		}
		s.Users++
		s.Documents += len(docs)

		unified := store.UserCollectionName(u.ID, store.KindDefault)
		if _, err := c.store.Get(ctx, unified); err != nil {
			if errors.Is(err, store.ErrCollectionNotFound) {
				l.Warn("User collection not found, skipping", "user_id", u.ID)
				continue
			}
			return s, err
		}

		for _, doc := range docs {
			if err := ctx.Err(); err != nil {
				return s, err
			}
			n, err := c.splitDocument(ctx, u.ID, doc, unified)
			if err != nil {
				l.Error("Failed to roll back document", "user_id", u.ID, "doc_id", doc.ID, "error", err)
				s.Errors = append(s.Errors, fmt.Sprintf("User %d, Doc %d: %v", u.ID, doc.ID, err))
				continue
			}
			if n == 0 {
				s.Skipped++
				continue
			}
			l.Info("Restored document collection", "doc_id", doc.ID, "vectors", n)
			s.Migrated++
			s.Vectors += n
		}

		dropped, err := c.store.DropIfEmpty(ctx, unified)
		if err != nil {
			return s, err
		}
		if dropped {
			l.Info("Deleted empty user collection", "collection", unified)
		}
	}

	l.Info("Rollback summary", "users", s.Users, "restored", s.Migrated, "vectors", s.Vectors, "errors", len(s.Errors))
	return s, nil
}

func (c *ConsolidateCollections) splitDocument(ctx context.Context, userID int64, doc model.Document, unified string) (int, error) {
	byDoc := store.Where(store.Eq(store.KeyDocID, doc.ID))
	records, err := c.store.Fetch(ctx, unified, byDoc)
	if err != nil {
		return 0, err
	}
	if len(records) == 0 {
		return 0, nil
	}

	legacy := store.LegacyCollectionName(userID, doc.ID)
	// start from an empty collection in case an earlier rollback stopped halfway
	if err := c.store.Drop(ctx, legacy); err != nil {
		return 0, err
	}
	if _, err := c.store.GetOrCreate(ctx, legacy); err != nil {
		return 0, err
	}
	if err := c.store.Insert(ctx, legacy, records); err != nil {
		return 0, err
	}
	if err := c.docs.UpdateCollectionRef(ctx, doc.ID, legacy); err != nil {
		return 0, err
	}
	if _, err := c.store.DeleteByFilter(ctx, unified, byDoc); err != nil {
		return 0, err
	}
	return len(records), nil
}

// DryRun counts what Up would move. It only reads.
func (c *ConsolidateCollections) DryRun(ctx context.Context) (Preview, error) {
	p := Preview{CollectionsToCreate: []string{}, CollectionsToDelete: []string{}}

	users, err := c.users.List(ctx)
	if err != nil {
		return p, err
	}
	p.TotalUsers = len(users)

	for _, u := range users {
		docs, err := c.docs.ListByUserID(ctx, u.ID)
		if err != nil {
			return p, err
		}
		if len(docs) == 0 {
			continue
		}
		p.UsersToProcess++
		p.TotalDocuments += len(docs)
		p.CollectionsToCreate = append(p.CollectionsToCreate, store.UserCollectionName(u.ID, store.KindDefault))

		for _, doc := range docs {
			if store.IsUserCollection(doc.CollectionRef, u.ID) {
				continue
			}
			p.DocumentsToMigrate++

			source := doc.CollectionRef
			if source == "" {
				source = store.LegacyCollectionName(u.ID, doc.ID)
			}
			n, err := c.store.Count(ctx, source, nil)
			if errors.Is(err, store.ErrCollectionNotFound) {
				continue
			}
			if err != nil {
				return p, err
			}
			p.EstimatedChunks += n
			p.CollectionsToDelete = append(p.CollectionsToDelete, source)
		}
	}
	return p, nil
}
