package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragchat/internal/fs"
	"github.com/nickcecere/ragchat/internal/model"
	"github.com/nickcecere/ragchat/internal/store"
)

// DocumentRepository is the slice of the relational store uploads need.
type DocumentRepository interface {
	Create(ctx context.Context, doc *model.Document) error
	Update(ctx context.Context, doc *model.Document) error
	GetByIDAndUserID(ctx context.Context, id, userID int64) (*model.Document, error)
	GetByHash(ctx context.Context, userID int64, hash string) (*model.Document, error)
	DeleteByIDAndUserID(ctx context.Context, id, userID int64) error
	DeleteWith(ctx context.Context, id, userID int64, fn func(ctx context.Context) error) error
}

// FileStore keeps the raw uploads.
type FileStore interface {
	Save(ctx context.Context, r io.Reader, userID, docID int64, filename string) (string, error)
	Delete(path string) (bool, error)
}

// Service owns the document lifecycle: the row, the raw file and the chunks.
type Service struct {
	pipeline *Pipeline
	store    store.Store
	docs     DocumentRepository
	files    FileStore
}

func NewService(p *Pipeline, st store.Store, docs DocumentRepository, files FileStore) *Service {
	return &Service{pipeline: p, store: st, docs: docs, files: files}
}

// UploadFile uploads the PDF at path under its base name.
func (s *Service) UploadFile(ctx context.Context, userID int64, path string) (*model.Document, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrExtractionFailed, err)
	}
	defer f.Close()
	return s.Upload(ctx, userID, filepath.Base(path), f)
}

// Upload stores a new document and indexes it. Any failure after the row is
// created removes the inserted chunks, the saved file and the row. A file
// whose content the user already uploaded returns the existing document
// with ErrDuplicateDocument.
func (s *Service) Upload(ctx context.Context, userID int64, filename string, r io.Reader) (*model.Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("failed to read upload: %w", err)
	}
	hash := fs.HashContent(data)

	existing, err := s.docs.GetByHash(ctx, userID, hash)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return existing, fmt.Errorf("%w: %s matches document %d", ErrDuplicateDocument, filename, existing.ID)
	}

	doc := &model.Document{
		UserID:      userID,
		Filename:    filepath.Base(filename),
		ContentHash: hash,
		FileSize:    int64(len(data)),
	}
	if err := s.docs.Create(ctx, doc); err != nil {
		return nil, err
	}

	if err := s.index(ctx, doc, data); err != nil {
		s.compensate(doc)
		return nil, err
	}

	log.Info("Uploaded document", "doc_id", doc.ID, "user_id", userID, "file", doc.Filename, "chunks", doc.ChunkCount)
	return doc, nil
}

func (s *Service) index(ctx context.Context, doc *model.Document, data []byte) error {
	path, err := s.files.Save(ctx, bytes.NewReader(data), doc.UserID, doc.ID, doc.Filename)
	if err != nil {
		return err
	}
	doc.FilePath = path

	n, err := s.pipeline.Ingest(ctx, doc.ID, doc.UserID, path)
	if err != nil {
		return err
	}

	doc.ChunkCount = n
	doc.CollectionRef = store.UserCollectionName(doc.UserID, store.KindDefault)
	return s.docs.Update(ctx, doc)
}

// compensate runs on a fresh context so a canceled upload still cleans up.
func (s *Service) compensate(doc *model.Document) {
	ctx := context.Background()

	if _, err := s.pipeline.RemoveChunks(ctx, doc.UserID, doc.ID); err != nil {
		log.Warn("Failed to remove chunks of failed upload", "doc_id", doc.ID, "error", err)
	}
	if doc.FilePath != "" {
		if _, err := s.files.Delete(doc.FilePath); err != nil {
			log.Warn("Failed to remove file of failed upload", "path", doc.FilePath, "error", err)
		}
	}
	if err := s.docs.DeleteByIDAndUserID(ctx, doc.ID, doc.UserID); err != nil {
		log.Warn("Failed to remove row of failed upload", "doc_id", doc.ID, "error", err)
	}
}

// Remove deletes a document: its chunks (or its whole legacy collection),
// its raw file and its row. The row and the vectors go together: when
// removing the vectors fails the row stays. Other documents in the same
// collection are untouched.
func (s *Service) Remove(ctx context.Context, userID, docID int64) error {
	doc, err := s.docs.GetByIDAndUserID(ctx, docID, userID)
	if err != nil {
		return err
	}
	if doc == nil {
		return fmt.Errorf("%w: %d", ErrDocumentNotFound, docID)
	}

	vectorsGone := false
	err = s.docs.DeleteWith(ctx, docID, userID, func(ctx context.Context) error {
		if err := s.removeVectors(ctx, doc); err != nil {
			return err
		}
		vectorsGone = true
		return nil
	})
	if err != nil {
		if vectorsGone {
			log.Error("Document row kept after its vectors were removed", "doc_id", docID, "user_id", userID, "error", err)
		}
		return err
	}

	if doc.FilePath != "" {
		if _, err := s.files.Delete(doc.FilePath); err != nil {
			log.Warn("Failed to delete document file", "path", doc.FilePath, "error", err)
		}
	}

	log.Info("Removed document", "doc_id", docID, "user_id", userID)
	return nil
}

func (s *Service) removeVectors(ctx context.Context, doc *model.Document) error {
	if store.IsUserCollection(doc.CollectionRef, doc.UserID) {
		ids, err := s.pipeline.RemoveChunks(ctx, doc.UserID, doc.ID)
		if err != nil {
			return err
		}
		log.Debug("Removed document chunks", "doc_id", doc.ID, "count", len(ids))
		return nil
	}

	legacy := doc.CollectionRef
	if legacy == "" {
		legacy = store.LegacyCollectionName(doc.UserID, doc.ID)
	}
	if err := s.store.Drop(ctx, legacy); err != nil && !errors.Is(err, store.ErrCollectionNotFound) {
		return fmt.Errorf("failed to drop legacy collection %s: %w", legacy, err)
	}
	return nil
}
