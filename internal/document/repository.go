// Package document persists uploaded documents, their raw files and their
// detected chapters in object storage.
package document

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sort"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/internal/util"
	"github.com/unalkalkan/bookcast/pkg/types"
)

// rawFormats are tried in order when the metadata does not name a format.
var rawFormats = []string{"epub", "pdf", "txt"}

// Repository handles document persistence
type Repository interface {
	// SaveDocument stores document metadata, replacing any previous version
	SaveDocument(ctx context.Context, doc *types.Document) error

	// GetDocument retrieves document metadata by ID
	GetDocument(ctx context.Context, docID string) (*types.Document, error)

	// ListDocuments returns all documents, newest first
	ListDocuments(ctx context.Context) ([]*types.Document, error)

	// SaveChapter stores one chapter
	SaveChapter(ctx context.Context, chapter *types.Chapter) error

	// GetChapter retrieves a chapter by ID
	GetChapter(ctx context.Context, docID, chapterID string) (*types.Chapter, error)

	// ListChapters returns a document's chapters ordered by number
	ListChapters(ctx context.Context, docID string) ([]*types.Chapter, error)

	// SaveRawFile stores the uploaded file
	SaveRawFile(ctx context.Context, docID string, data []byte, format string) error

	// GetRawFile retrieves the uploaded file and its format
	GetRawFile(ctx context.Context, docID string) ([]byte, string, error)

	// DeleteDocument removes metadata, chapters and the raw file
	DeleteDocument(ctx context.Context, docID string) error
}

// StorageRepository implements Repository using a storage adapter
type StorageRepository struct {
	storage storage.Adapter
}

// NewRepository creates a new document repository
func NewRepository(storageAdapter storage.Adapter) *StorageRepository {
	return &StorageRepository{
		storage: storageAdapter,
	}
}

func (r *StorageRepository) SaveDocument(ctx context.Context, doc *types.Document) error {
	return r.putJSON(ctx, util.DocumentMetadataKey(doc.ID), doc)
}

func (r *StorageRepository) GetDocument(ctx context.Context, docID string) (*types.Document, error) {
	var doc types.Document
	if err := r.getJSON(ctx, util.DocumentMetadataKey(docID), &doc); err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFoundf("document not found: %s", docID)
		}
		return nil, fmt.Errorf("failed to get document metadata: %w", err)
	}
	return &doc, nil
}

func (r *StorageRepository) ListDocuments(ctx context.Context) ([]*types.Document, error) {
	keys, err := r.storage.List(ctx, "documents/")
	if err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}

	docs := make([]*types.Document, 0)
	for _, key := range keys {
		// documents/{id}/metadata.json only
		if path.Base(key) != "metadata.json" || path.Dir(path.Dir(key)) != "documents" {
			continue
		}

		var doc types.Document
		if err := r.getJSON(ctx, key, &doc); err != nil {
			continue // Skip documents that can't be read
		}
		docs = append(docs, &doc)
	}

	sort.SliceStable(docs, func(i, j int) bool {
		return docs[i].UploadedAt.After(docs[j].UploadedAt)
	})
	return docs, nil
}

func (r *StorageRepository) SaveChapter(ctx context.Context, chapter *types.Chapter) error {
	return r.putJSON(ctx, util.ChapterKey(chapter.DocumentID, chapter.ID), chapter)
}

func (r *StorageRepository) GetChapter(ctx context.Context, docID, chapterID string) (*types.Chapter, error) {
	var chapter types.Chapter
	if err := r.getJSON(ctx, util.ChapterKey(docID, chapterID), &chapter); err != nil {
		if errors.Is(err, domainerrors.ErrNotFound) {
			return nil, domainerrors.NotFoundf("chapter not found: %s", chapterID)
		}
		return nil, fmt.Errorf("failed to get chapter: %w", err)
	}
	return &chapter, nil
}

func (r *StorageRepository) ListChapters(ctx context.Context, docID string) ([]*types.Chapter, error) {
	keys, err := r.storage.List(ctx, util.DocumentPrefix(docID)+"chapters/")
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}

	chapters := make([]*types.Chapter, 0, len(keys))
	for _, key := range keys {
		var chapter types.Chapter
		if err := r.getJSON(ctx, key, &chapter); err != nil {
			return nil, fmt.Errorf("failed to read chapter %s: %w", key, err)
		}
		chapters = append(chapters, &chapter)
	}

	sort.Slice(chapters, func(i, j int) bool {
		return chapters[i].Number < chapters[j].Number
	})
	return chapters, nil
}

func (r *StorageRepository) SaveRawFile(ctx context.Context, docID string, data []byte, format string) error {
	if err := storage.PutBytes(ctx, r.storage, util.DocumentRawKey(docID, format), data); err != nil {
		return fmt.Errorf("failed to store raw file: %w", err)
	}
	return nil
}

func (r *StorageRepository) GetRawFile(ctx context.Context, docID string) ([]byte, string, error) {
	formats := rawFormats
	if doc, err := r.GetDocument(ctx, docID); err == nil && doc.Format != "" {
		formats = []string{doc.Format}
	}

	for _, format := range formats {
		data, err := storage.GetBytes(ctx, r.storage, util.DocumentRawKey(docID, format))
		if errors.Is(err, domainerrors.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, "", err
		}
		return data, format, nil
	}
	return nil, "", domainerrors.NotFoundf("raw file not found for document %s", docID)
}

func (r *StorageRepository) DeleteDocument(ctx context.Context, docID string) error {
	exists, err := r.storage.Exists(ctx, util.DocumentMetadataKey(docID))
	if err != nil {
		return err
	}
	if !exists {
		return domainerrors.NotFoundf("document not found: %s", docID)
	}
	if _, err := storage.DeletePrefix(ctx, r.storage, util.DocumentPrefix(docID)); err != nil {
		return fmt.Errorf("failed to delete document %s: %w", docID, err)
	}
	return nil
}

func (r *StorageRepository) putJSON(ctx context.Context, key string, v any) error {
	return storage.PutJSON(ctx, r.storage, key, v)
}

func (r *StorageRepository) getJSON(ctx context.Context, key string, v any) error {
	return storage.GetJSON(ctx, r.storage, key, v)
}

var _ Repository = (*StorageRepository)(nil)
