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

package observability

import (
	"context"
	"os"
	"path/filepath"
)

// Prompt is one fetched prompt body plus the version the dashboard groups
// spans by.
type Prompt struct {
	Name    string
	Version string
	Body    string
}

// RemotePromptSource fetches a prompt from an external prompt-management
// service (e.g. a Langfuse-style registry). It is the first link in the
// PromptRegistry fallback chain.
type RemotePromptSource interface {
	Fetch(ctx context.Context, name string) (Prompt, error)
}

// PromptRegistry resolves a logical prompt name to its current body and
// version, falling back from a remote source to local files to a
// hard-coded built-in so a prompt fetch never blocks the agent loop
// (§4.7 "Prompt fetch falls back to local files, then to hard-coded
// minimal prompts").
type PromptRegistry struct {
	remote   RemotePromptSource
	localDir string
	builtins map[string]string
}

// NewPromptRegistry builds a registry. remote may be nil to skip the
// remote tier entirely (e.g. when no prompt-management backend is
// configured).
func NewPromptRegistry(remote RemotePromptSource, localDir string, builtins map[string]string) *PromptRegistry {
	if builtins == nil {
		builtins = map[string]string{}
	}
	return &PromptRegistry{remote: remote, localDir: localDir, builtins: builtins}
}

// Get resolves name through the Remote -> Local -> BuiltIn chain,
// returning the first tier that succeeds.
func (r *PromptRegistry) Get(ctx context.Context, name string) Prompt {
	if r.remote != nil {
		if p, err := r.remote.Fetch(ctx, name); err == nil && p.Body != "" {
			return p
		}
	}
	if r.localDir != "" {
		if body, err := os.ReadFile(filepath.Join(r.localDir, name+".md")); err == nil {
			return Prompt{Name: name, Version: "local", Body: string(body)}
		}
	}
	if body, ok := r.builtins[name]; ok {
		return Prompt{Name: name, Version: "builtin", Body: body}
	}
	return Prompt{Name: name, Version: "builtin", Body: ""}
}

// DefaultPhasePrompts are the minimal hard-coded phase-guidance strings
// from §4.2, used as the BuiltIn tier when neither a remote service nor
// local override is available.
func DefaultPhasePrompts() map[string]string {
	return map[string]string{
		"phase.STARTUP":        "Check readiness, set a positive tone.",
		"phase.MIND_SWEEP":     "Capture quickly, no filtering.",
		"phase.PROJECT_REVIEW": "Identify next actions.",
		"phase.PRIORITIZATION": "Top 3 for the week, ABC method.",
		"phase.WRAP_UP":        "Save, celebrate, reinforce.",
	}
}
