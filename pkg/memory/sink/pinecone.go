package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/pinecone-io/go-pinecone/pinecone"
	"google.golang.org/protobuf/types/known/structpb"
)

// PineconeSink adapts the teacher's Pinecone database provider into a
// Sink. Grounded on pkg/databases/pinecone.go's getIndexConnection /
// Upsert / Search calls, simplified to a single fixed index.
type PineconeSink struct {
	client    *pinecone.Client
	indexName string
	dims      int
}

// NewPineconeSink builds a sink against the named index using apiKey.
func NewPineconeSink(apiKey, host, indexName string) (*PineconeSink, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("sink: pinecone api key is required")
	}
	client, err := pinecone.NewClient(pinecone.NewClientParams{ApiKey: apiKey, Host: host})
	if err != nil {
		return nil, fmt.Errorf("sink: pinecone client: %w", err)
	}
	if indexName == "" {
		indexName = "gtd-coach-memory"
	}
	return &PineconeSink{client: client, indexName: indexName, dims: 64}, nil
}

func (s *PineconeSink) conn(ctx context.Context) (*pinecone.IndexConnection, error) {
	index, err := s.client.DescribeIndex(ctx, s.indexName)
	if err != nil {
		return nil, fmt.Errorf("sink: describe index %s: %w", s.indexName, err)
	}
	return s.client.Index(pinecone.NewIndexConnParams{Host: index.Host})
}

func (s *PineconeSink) Send(ctx context.Context, episodes []Episode) error {
	indexConn, err := s.conn(ctx)
	if err != nil {
		return err
	}
	defer indexConn.Close()

	vectors := make([]*pinecone.Vector, 0, len(episodes))
	for _, ep := range episodes {
		content := contentOf(ep)
		metadata, err := structpb.NewStruct(map[string]any{
			"content": content, "type": ep.Type, "phase": ep.Phase,
			"group_id": ep.GroupID, "session_id": ep.SessionID,
			"timestamp": ep.Timestamp.Format(time.RFC3339Nano),
		})
		if err != nil {
			return fmt.Errorf("sink: pinecone metadata: %w", err)
		}
		vectors = append(vectors, &pinecone.Vector{
			Id: episodeID(ep), Values: pseudoEmbedPtr(content, s.dims), Metadata: metadata,
		})
	}
	if len(vectors) == 0 {
		return nil
	}
	if _, err := indexConn.UpsertVectors(ctx, vectors); err != nil {
		return fmt.Errorf("sink: pinecone upsert: %w", err)
	}
	return nil
}

func (s *PineconeSink) Search(ctx context.Context, groupID, query string, topK int) ([]SearchHit, error) {
	indexConn, err := s.conn(ctx)
	if err != nil {
		return nil, err
	}
	defer indexConn.Close()

	filter, err := structpb.NewStruct(map[string]any{"group_id": groupID})
	if err != nil {
		return nil, fmt.Errorf("sink: pinecone filter: %w", err)
	}
	vec := pseudoEmbed(query, s.dims)
	resp, err := indexConn.QueryByVectorValues(ctx, &pinecone.QueryByVectorValuesRequest{
		Vector: vec, TopK: uint32(topK), MetadataFilter: filter, IncludeMetadata: true,
	})
	if err != nil {
		return nil, fmt.Errorf("sink: pinecone query: %w", err)
	}
	hits := make([]SearchHit, 0, len(resp.Matches))
	for _, m := range resp.Matches {
		if m.Vector == nil || m.Vector.Metadata == nil {
			continue
		}
		meta := m.Vector.Metadata.AsMap()
		content, _ := meta["content"].(string)
		var ts time.Time
		if tsStr, ok := meta["timestamp"].(string); ok {
			ts, _ = time.Parse(time.RFC3339Nano, tsStr)
		}
		hits = append(hits, SearchHit{Content: content, RawScore: float64(m.Score), Timestamp: ts, Metadata: meta})
	}
	return hits, nil
}

func (s *PineconeSink) Close() error { return nil }

func pseudoEmbedPtr(text string, dims int) []float32 { return pseudoEmbed(text, dims) }
