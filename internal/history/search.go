package history

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/blevesearch/bleve/v2"
	"github.com/blevesearch/bleve/v2/analysis/analyzer/keyword"
	"github.com/blevesearch/bleve/v2/analysis/lang/en"
	"github.com/blevesearch/bleve/v2/mapping"
	"github.com/blevesearch/bleve/v2/search/query"

	"github.com/unalkalkan/bookcast/pkg/types"
)

// searchDoc is what gets indexed for one conversion.
type searchDoc struct {
	Title      string `json:"title"`
	Provider   string `json:"provider"`
	Voice      string `json:"voice"`
	Status     string `json:"status"`
	DocumentID string `json:"document_id"`
}

// searchIndex is an in-memory bleve index rebuilt from the database on open.
type searchIndex struct {
	index bleve.Index
	mu    sync.RWMutex
}

func newSearchIndex() (*searchIndex, error) {
	index, err := bleve.NewMemOnly(buildIndexMapping())
	if err != nil {
		return nil, fmt.Errorf("create search index: %w", err)
	}
	return &searchIndex{index: index}, nil
}

// buildIndexMapping stems titles and keeps the other fields as exact keywords.
func buildIndexMapping() mapping.IndexMapping {
	indexMapping := bleve.NewIndexMapping()
	indexMapping.DefaultAnalyzer = en.AnalyzerName

	docMapping := bleve.NewDocumentMapping()

	titleFieldMapping := bleve.NewTextFieldMapping()
	titleFieldMapping.Analyzer = en.AnalyzerName
	docMapping.AddFieldMappingsAt("title", titleFieldMapping)

	for _, field := range []string{"provider", "voice", "status", "document_id"} {
		fm := bleve.NewTextFieldMapping()
		fm.Analyzer = keyword.Name
		docMapping.AddFieldMappingsAt(field, fm)
	}

	indexMapping.DefaultMapping = docMapping
	return indexMapping
}

func toSearchDoc(rec *types.ConversionRecord) searchDoc {
	return searchDoc{
		Title:      rec.Title,
		Provider:   rec.Provider,
		Voice:      rec.VoiceID,
		Status:     rec.Status,
		DocumentID: rec.DocumentID,
	}
}

func (s *searchIndex) add(rec *types.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Index(rec.ID, toSearchDoc(rec))
}

func (s *searchIndex) addAll(records []*types.ConversionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := s.index.NewBatch()
	for _, rec := range records {
		if err := batch.Index(rec.ID, toSearchDoc(rec)); err != nil {
			return fmt.Errorf("index conversion %s: %w", rec.ID, err)
		}
	}
	if err := s.index.Batch(batch); err != nil {
		return fmt.Errorf("index batch: %w", err)
	}
	return nil
}

func (s *searchIndex) remove(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Delete(id)
}

// search returns matching IDs in relevance order.
func (s *searchIndex) search(ctx context.Context, q string, limit int) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	req := bleve.NewSearchRequestOptions(buildSearchQuery(q), limit, 0, false)
	result, err := s.index.SearchInContext(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("execute search: %w", err)
	}

	ids := make([]string, 0, len(result.Hits))
	for _, hit := range result.Hits {
		ids = append(ids, hit.ID)
	}
	return ids, nil
}

func (s *searchIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.index.Close()
}

// buildSearchQuery matches the title with stemming and typo tolerance, and
// any single term exactly against provider, voice and status.
func buildSearchQuery(q string) query.Query {
	q = strings.TrimSpace(q)

	titleMatch := bleve.NewMatchQuery(q)
	titleMatch.SetField("title")
	titleMatch.SetBoost(3.0)

	queries := []query.Query{titleMatch}

	if !strings.Contains(q, " ") {
		fuzzy := bleve.NewFuzzyQuery(strings.ToLower(q))
		fuzzy.SetField("title")
		fuzzy.SetFuzziness(1)
		fuzzy.SetBoost(0.8)
		queries = append(queries, fuzzy)

		if len(q) >= 2 {
			prefix := bleve.NewPrefixQuery(strings.ToLower(q))
			prefix.SetField("title")
			prefix.SetBoost(0.5)
			queries = append(queries, prefix)
		}
	}

	for _, field := range []string{"provider", "voice", "status"} {
		tq := bleve.NewTermQuery(q)
		tq.SetField(field)
		queries = append(queries, tq)
	}

	return bleve.NewDisjunctionQuery(queries...)
}
