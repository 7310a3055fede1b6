package watcher

import (
	"context"
	"errors"
	"path/filepath"

	"github.com/charmbracelet/log"

	"github.com/nickcecere/ragchat/internal/ingest"
	"github.com/nickcecere/ragchat/internal/model"
)

// Uploader adds and removes documents.
type Uploader interface {
	UploadFile(ctx context.Context, userID int64, path string) (*model.Document, error)
	Remove(ctx context.Context, userID, docID int64) error
}

// DocumentFinder finds a user's document by filename.
type DocumentFinder interface {
	GetByFilename(ctx context.Context, userID int64, filename string) (*model.Document, error)
}

// IngestHandler uploads inbox PDFs for one user. A changed file replaces
// the document with the same filename; unchanged content is ignored.
type IngestHandler struct {
	userID int64
	up     Uploader
	docs   DocumentFinder
}

func NewIngestHandler(userID int64, up Uploader, docs DocumentFinder) *IngestHandler {
	return &IngestHandler{userID: userID, up: up, docs: docs}
}

func (h *IngestHandler) Added(ctx context.Context, path string) error {
	previous, err := h.docs.GetByFilename(ctx, h.userID, filepath.Base(path))
	if err != nil {
		return err
	}

	doc, err := h.up.UploadFile(ctx, h.userID, path)
	if errors.Is(err, ingest.ErrDuplicateDocument) {
		log.Debug("Content already uploaded", "file", filepath.Base(path), "doc_id", doc.ID)
		return nil
	}
	if err != nil {
		return err
	}

	if previous != nil && previous.ID != doc.ID {
		if err := h.up.Remove(ctx, h.userID, previous.ID); err != nil {
			return err
		}
		log.Debug("Replaced document", "old_doc_id", previous.ID, "doc_id", doc.ID)
	}
	return nil
}

func (h *IngestHandler) Removed(ctx context.Context, path string) error {
	doc, err := h.docs.GetByFilename(ctx, h.userID, filepath.Base(path))
	if err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	return h.up.Remove(ctx, h.userID, doc.ID)
}
