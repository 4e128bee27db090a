package document

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainerrors "github.com/unalkalkan/bookcast/internal/errors"
	"github.com/unalkalkan/bookcast/internal/storage"
	"github.com/unalkalkan/bookcast/pkg/types"
)

func TestDocumentRepository(t *testing.T) {
	storageAdapter, err := storage.NewLocalAdapter(t.TempDir())
	require.NoError(t, err)
	defer storageAdapter.Close()

	repo := NewRepository(storageAdapter)
	ctx := context.Background()
	now := time.Now()

	t.Run("SaveAndGetDocument", func(t *testing.T) {
		doc := &types.Document{
			ID:         "doc-1",
			Title:      "Test Book",
			Author:     "Test Author",
			Language:   "en",
			Format:     "txt",
			UploadedAt: now,
			Status:     types.DocumentReady,
		}
		require.NoError(t, repo.SaveDocument(ctx, doc))

		got, err := repo.GetDocument(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, doc.Title, got.Title)
		assert.Equal(t, doc.Format, got.Format)

		_, err = repo.GetDocument(ctx, "missing")
		assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	})

	t.Run("ListChaptersByNumber", func(t *testing.T) {
		for _, n := range []int{3, 1, 2} {
			ch := &types.Chapter{
				ID:         chapterID(n),
				DocumentID: "doc-1",
				Number:     n,
				Title:      "Chapter",
				Paragraphs: []string{"text"},
			}
			require.NoError(t, repo.SaveChapter(ctx, ch))
		}

		chapters, err := repo.ListChapters(ctx, "doc-1")
		require.NoError(t, err)
		require.Len(t, chapters, 3)
		for i, ch := range chapters {
			assert.Equal(t, i+1, ch.Number)
		}

		ch, err := repo.GetChapter(ctx, "doc-1", chapterID(2))
		require.NoError(t, err)
		assert.Equal(t, 2, ch.Number)

		_, err = repo.GetChapter(ctx, "doc-1", "chapter_999")
		assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	})

	t.Run("RawFile", func(t *testing.T) {
		raw := make([]byte, 100*1024)
		for i := range raw {
			raw[i] = byte(i)
		}
		require.NoError(t, repo.SaveRawFile(ctx, "doc-1", raw, "txt"))

		data, format, err := repo.GetRawFile(ctx, "doc-1")
		require.NoError(t, err)
		assert.Equal(t, "txt", format)
		assert.Equal(t, raw, data)

		_, _, err = repo.GetRawFile(ctx, "doc-nothing")
		assert.ErrorIs(t, err, domainerrors.ErrNotFound)
	})

	t.Run("ListDocumentsNewestFirst", func(t *testing.T) {
		require.NoError(t, repo.SaveDocument(ctx, &types.Document{ID: "doc-2", Title: "Newer", UploadedAt: now.Add(time.Hour)}))

		docs, err := repo.ListDocuments(ctx)
		require.NoError(t, err)
		require.Len(t, docs, 2, "chapter files are not documents")
		assert.Equal(t, "doc-2", docs[0].ID)
		assert.Equal(t, "doc-1", docs[1].ID)
	})

	t.Run("DeleteDocument", func(t *testing.T) {
		require.NoError(t, repo.DeleteDocument(ctx, "doc-1"))

		_, err := repo.GetDocument(ctx, "doc-1")
		assert.ErrorIs(t, err, domainerrors.ErrNotFound)
		chapters, err := repo.ListChapters(ctx, "doc-1")
		require.NoError(t, err)
		assert.Empty(t, chapters)

		assert.ErrorIs(t, repo.DeleteDocument(ctx, "doc-1"), domainerrors.ErrNotFound)
	})
}

func chapterID(n int) string {
	return []string{"", "chapter_001", "chapter_002", "chapter_003"}[n]
}
