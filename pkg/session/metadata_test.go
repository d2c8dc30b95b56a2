package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeAnnotationsEmptyMetadata(t *testing.T) {
	ann, err := DecodeAnnotations(Record{})
	require.NoError(t, err)
	assert.Equal(t, Annotations{}, ann)
}

func TestDecodeAnnotationsRoundTrip(t *testing.T) {
	rec := Record{Metadata: []byte(`{"captures_count":3,"priorities_count":2,"tool_call_count":11}`)}
	ann, err := DecodeAnnotations(rec)
	require.NoError(t, err)
	assert.Equal(t, Annotations{CapturesCount: 3, PrioritiesCount: 2, ToolCallCount: 11}, ann)
}

func TestDecodeAnnotationsTolerantOfMissingFields(t *testing.T) {
	rec := Record{Metadata: []byte(`{"captures_count":5}`)}
	ann, err := DecodeAnnotations(rec)
	require.NoError(t, err)
	assert.Equal(t, 5, ann.CapturesCount)
	assert.Equal(t, 0, ann.PrioritiesCount)
}

func TestDecodeAnnotationsInvalidJSON(t *testing.T) {
	rec := Record{Metadata: []byte(`not json`)}
	_, err := DecodeAnnotations(rec)
	assert.Error(t, err)
}
