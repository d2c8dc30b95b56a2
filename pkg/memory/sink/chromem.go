package sink

import (
	"context"
	"fmt"
	"runtime"

	chromem "github.com/philippgille/chromem-go"
)

// ChromemSink is the default, zero-external-dependency backend: an
// embedded pure-Go vector store. Grounded on the teacher's
// pkg/vector/chromem.go ChromemProvider (GetOrCreateCollection /
// AddDocuments / QueryEmbedding with a pre-computed, identity-style
// embedding function), adapted from the generic Provider interface
// directly onto Sink/Episode.
type ChromemSink struct {
	db   *chromem.DB
	col  *chromem.Collection
	dims int
}

func identityEmbed(ctx context.Context, text string) ([]float32, error) {
	return nil, fmt.Errorf("sink: chromem embedding function should not be invoked; vectors are precomputed")
}

// NewChromemSink opens (or creates) an in-memory chromem collection. persistPath,
// when non-empty, enables gzip-compressed file persistence across restarts.
func NewChromemSink(persistPath string) (*ChromemSink, error) {
	var db *chromem.DB
	var err error
	if persistPath != "" {
		db, err = chromem.NewPersistentDB(persistPath, true)
		if err != nil {
			return nil, fmt.Errorf("sink: chromem persistent db: %w", err)
		}
	} else {
		db = chromem.NewDB()
	}
	col, err := db.GetOrCreateCollection("episodes", nil, identityEmbed)
	if err != nil {
		return nil, fmt.Errorf("sink: chromem collection: %w", err)
	}
	return &ChromemSink{db: db, col: col, dims: 64}, nil
}

func (s *ChromemSink) Send(ctx context.Context, episodes []Episode) error {
	docs := make([]chromem.Document, 0, len(episodes))
	for _, ep := range episodes {
		content := contentOf(ep)
		docs = append(docs, chromem.Document{
			ID:      episodeID(ep),
			Content: content,
			Metadata: map[string]string{
				"type": ep.Type, "phase": ep.Phase,
				"group_id": ep.GroupID, "session_id": ep.SessionID,
			},
			Embedding: pseudoEmbed(content, s.dims),
		})
	}
	if len(docs) == 0 {
		return nil
	}
	if err := s.col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("sink: chromem add documents: %w", err)
	}
	return nil
}

func (s *ChromemSink) Search(ctx context.Context, groupID, query string, topK int) ([]SearchHit, error) {
	results, err := s.col.QueryEmbedding(ctx, pseudoEmbed(query, s.dims), topK, map[string]string{"group_id": groupID}, nil)
	if err != nil {
		return nil, fmt.Errorf("sink: chromem query: %w", err)
	}
	hits := make([]SearchHit, 0, len(results))
	for _, r := range results {
		hits = append(hits, SearchHit{Content: r.Content, RawScore: float64(r.Similarity), Metadata: map[string]any{"type": r.Metadata["type"], "phase": r.Metadata["phase"]}})
	}
	return hits, nil
}

func (s *ChromemSink) Close() error { return nil }
