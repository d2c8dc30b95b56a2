package sink

import (
	"context"
	"fmt"
	"time"

	"github.com/qdrant/go-client/qdrant"
)

// QdrantSink adapts the teacher's Qdrant database provider into a Sink:
// episodes are embedded with pseudoEmbed and upserted as points; search
// does a vector similarity lookup filtered to a group_id match.
// Grounded on the teacher's qdrant.go NewClient/Upsert/Search calls
// (buildQdrantFilter, convertQdrantResults), simplified to the single
// collection-per-sink shape this system needs.
type QdrantSink struct {
	client     *qdrant.Client
	collection string
	dims       int
}

// NewQdrantSink dials host:port (gRPC) and ensures the collection exists.
func NewQdrantSink(ctx context.Context, host string, port int, apiKey string, useTLS bool, collection string) (*QdrantSink, error) {
	client, err := qdrant.NewClient(&qdrant.Config{Host: host, Port: port, APIKey: apiKey, UseTLS: useTLS})
	if err != nil {
		return nil, fmt.Errorf("sink: qdrant client: %w", err)
	}
	s := &QdrantSink{client: client, collection: collection, dims: 64}
	exists, err := client.CollectionExists(ctx, collection)
	if err != nil {
		return nil, fmt.Errorf("sink: qdrant collection check: %w", err)
	}
	if !exists {
		if err := client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: collection,
			VectorsConfig:  qdrant.NewVectorsConfig(&qdrant.VectorParams{Size: uint64(s.dims), Distance: qdrant.Distance_Cosine}),
		}); err != nil {
			return nil, fmt.Errorf("sink: qdrant create collection: %w", err)
		}
	}
	return s, nil
}

func (s *QdrantSink) Send(ctx context.Context, episodes []Episode) error {
	points := make([]*qdrant.PointStruct, 0, len(episodes))
	for _, ep := range episodes {
		content := contentOf(ep)
		metadata := map[string]any{
			"content":    content,
			"type":       ep.Type,
			"phase":      ep.Phase,
			"group_id":   ep.GroupID,
			"session_id": ep.SessionID,
			"timestamp":  ep.Timestamp.Format(time.RFC3339Nano),
		}
		payload := make(map[string]*qdrant.Value, len(metadata))
		for k, v := range metadata {
			val, err := qdrant.NewValue(v)
			if err != nil {
				return fmt.Errorf("sink: qdrant payload value %q: %w", k, err)
			}
			payload[k] = val
		}
		points = append(points, &qdrant.PointStruct{
			Id:      qdrant.NewID(episodeID(ep)),
			Vectors: qdrant.NewVectors(pseudoEmbed(content, s.dims)...),
			Payload: payload,
		})
	}
	if len(points) == 0 {
		return nil
	}
	if _, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{CollectionName: s.collection, Points: points}); err != nil {
		return fmt.Errorf("sink: qdrant upsert: %w", err)
	}
	return nil
}

func (s *QdrantSink) Search(ctx context.Context, groupID, query string, topK int) ([]SearchHit, error) {
	searchRequest := &qdrant.SearchPoints{
		CollectionName: s.collection,
		Vector:         pseudoEmbed(query, s.dims),
		Limit:          uint64(topK),
		Filter:         buildGroupFilter(groupID),
		WithPayload:    qdrant.NewWithPayload(true),
		WithVectors:    qdrant.NewWithVectors(false),
	}
	searchResult, err := s.client.GetPointsClient().Search(ctx, searchRequest)
	if err != nil {
		return nil, fmt.Errorf("sink: qdrant search: %w", err)
	}
	return convertHits(searchResult.Result), nil
}

func (s *QdrantSink) Close() error { return nil }

func buildGroupFilter(groupID string) *qdrant.Filter {
	val, _ := qdrant.NewValue(groupID)
	return &qdrant.Filter{
		Must: []*qdrant.Condition{{
			ConditionOneOf: &qdrant.Condition_Field{
				Field: &qdrant.FieldCondition{
					Key:   "group_id",
					Match: &qdrant.Match{MatchValue: &qdrant.Match_Keyword{Keyword: val.GetStringValue()}},
				},
			},
		}},
	}
}

func convertHits(points []*qdrant.ScoredPoint) []SearchHit {
	hits := make([]SearchHit, 0, len(points))
	for _, point := range points {
		metadata := make(map[string]any)
		for key, value := range point.Payload {
			switch v := value.Kind.(type) {
			case *qdrant.Value_StringValue:
				metadata[key] = v.StringValue
			case *qdrant.Value_IntegerValue:
				metadata[key] = v.IntegerValue
			case *qdrant.Value_DoubleValue:
				metadata[key] = v.DoubleValue
			case *qdrant.Value_BoolValue:
				metadata[key] = v.BoolValue
			}
		}
		content, _ := metadata["content"].(string)
		var ts time.Time
		if tsStr, ok := metadata["timestamp"].(string); ok {
			ts, _ = time.Parse(time.RFC3339Nano, tsStr)
		}
		hits = append(hits, SearchHit{Content: content, RawScore: float64(point.Score), Timestamp: ts, Metadata: metadata})
	}
	return hits
}

func contentOf(ep Episode) string {
	if c, ok := ep.Data["content"].(string); ok {
		return c
	}
	return ep.Type
}

func episodeID(ep Episode) string {
	return fmt.Sprintf("%08x", pseudoEmbedID(ep))
}

func pseudoEmbedID(ep Episode) uint32 {
	key := ep.SessionID + ep.Type + ep.Timestamp.String()
	var h uint32 = 2166136261
	for i := 0; i < len(key); i++ {
		h ^= uint32(key[i])
		h *= 16777619
	}
	return h
}
