// Copyright 2025 Kadir Pekel
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package todotool

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalFileSourceMissingFileIsEmptyInbox(t *testing.T) {
	src, err := NewLocalFileSource(filepath.Join(t.TempDir(), "inbox.json"))
	require.NoError(t, err)

	items, err := src.FetchInbox(context.Background())
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestLocalFileSourceReplaceThenFetchRoundTrips(t *testing.T) {
	src, err := NewLocalFileSource(filepath.Join(t.TempDir(), "nested", "inbox.json"))
	require.NoError(t, err)

	require.NoError(t, src.Replace([]string{"Taxes", "Car MOT", "Mom's birthday"}))

	items, err := src.FetchInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"Taxes", "Car MOT", "Mom's birthday"}, items)
}

func TestLocalFileSourceReplaceOverwritesPriorContents(t *testing.T) {
	src, err := NewLocalFileSource(filepath.Join(t.TempDir(), "inbox.json"))
	require.NoError(t, err)

	require.NoError(t, src.Replace([]string{"first"}))
	require.NoError(t, src.Replace([]string{"second", "third"}))

	items, err := src.FetchInbox(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"second", "third"}, items)
}

func TestNewLocalFileSourceDefaultsToHomeDir(t *testing.T) {
	src, err := NewLocalFileSource("")
	require.NoError(t, err)
	assert.Contains(t, src.path, ".gtd-coach")
	assert.Contains(t, src.path, "inbox.json")
}
