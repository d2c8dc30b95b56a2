package sink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// HTTPGraphSink is the primary MemoryClient backend: a plain HTTP client
// against an external entity-graph service addressed by MEMORY_URI (§6),
// optionally authenticated with MEMORY_USER/MEMORY_PASSWORD. Grounded on
// the teacher's chroma.go constructor (bare net/http.Client, TLS left to
// the default transport, scheme+host composed from config) — the
// entity-graph service itself is an external collaborator per spec §1,
// so only its HTTP interface is implemented here.
type HTTPGraphSink struct {
	baseURL    string
	user       string
	password   string
	httpClient *http.Client
}

// NewHTTPGraphSink builds a sink pointed at baseURL (e.g. http://localhost:8000).
func NewHTTPGraphSink(baseURL, user, password string) *HTTPGraphSink {
	return &HTTPGraphSink{
		baseURL:    baseURL,
		user:       user,
		password:   password,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *HTTPGraphSink) authenticate(req *http.Request) {
	if s.user != "" {
		req.SetBasicAuth(s.user, s.password)
	}
}

func (s *HTTPGraphSink) do(ctx context.Context, method, path string, body any) ([]byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		reader = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	s.authenticate(req)

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("sink: request failed: %w", err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("sink: read response: %w", err)
	}
	if resp.StatusCode >= 400 && resp.StatusCode < 500 {
		return nil, &TerminalError{Err: fmt.Errorf("sink: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))}
	}
	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("sink: %s %s: status %d: %s", method, path, resp.StatusCode, string(data))
	}
	return data, nil
}

// Send submits episodes to the entity-graph service's bulk-episode
// endpoint.
func (s *HTTPGraphSink) Send(ctx context.Context, episodes []Episode) error {
	_, err := s.do(ctx, http.MethodPost, "/episodes", map[string]any{"episodes": episodes})
	return err
}

type graphSearchResponse struct {
	Hits []struct {
		Content   string         `json:"content"`
		Score     float64        `json:"score"`
		Timestamp time.Time      `json:"timestamp"`
		Metadata  map[string]any `json:"metadata"`
	} `json:"hits"`
}

// Search queries the entity-graph service, scoped to groupID.
func (s *HTTPGraphSink) Search(ctx context.Context, groupID, query string, topK int) ([]SearchHit, error) {
	data, err := s.do(ctx, http.MethodPost, "/search", map[string]any{
		"group_id": groupID, "query": query, "top_k": topK,
	})
	if err != nil {
		return nil, err
	}
	var resp graphSearchResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, fmt.Errorf("sink: decode search response: %w", err)
	}
	hits := make([]SearchHit, 0, len(resp.Hits))
	for _, h := range resp.Hits {
		hits = append(hits, SearchHit{Content: h.Content, RawScore: h.Score, Timestamp: h.Timestamp, Metadata: h.Metadata})
	}
	return hits, nil
}

func (s *HTTPGraphSink) Close() error { return nil }
