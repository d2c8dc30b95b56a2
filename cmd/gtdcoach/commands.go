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

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/gtdcoach/agent/pkg/checkpoint"
	gtdconfig "github.com/gtdcoach/agent/pkg/config"
	"github.com/gtdcoach/agent/pkg/session"
	"github.com/gtdcoach/agent/pkg/state"
)

// WeeklyCmd runs the weekly review workflow (§3.1).
type WeeklyCmd struct {
	UseAgent   bool `help:"Force agent-mode execution." name:"use-agent"`
	SkipTiming bool `help:"Skip the Timing app context fetch." name:"skip-timing"`
}

func (c *WeeklyCmd) Run() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.SkipTiming {
		a.cfg.DisableTiming = true
	}

	sessionID := state.NewSessionID(time.Now())
	st := state.New(sessionID, state.WorkflowWeeklyReview, "default", state.AccountabilityMode(firstNonEmpty(a.cfg.AgentMode, "adaptive")))
	st.SkipTiming = a.cfg.DisableTiming
	st.EnsureDefaults()

	core, _, tracer, err := a.newCore(ctx, state.WorkflowWeeklyReview, sessionID, st.UserID)
	if err != nil {
		return err
	}

	final, err := a.runSession(ctx, core, st, tracer)
	if err != nil {
		return err
	}
	printSummary(final)
	return nil
}

// DailyCmd runs the daily clarify workflow (§3.2).
type DailyCmd struct {
	AgentMode     string `help:"Execution mode." enum:"workflow,agent,hybrid" default:"agent" name:"agent-mode"`
	Accountability string `help:"Coaching tone." enum:"gentle,firm,adaptive" default:"adaptive"`
	Resume        string `help:"Resume a specific session id." name:"resume"`
	UserID        string `help:"User identifier." name:"user-id" default:"default"`
	TestMode      bool   `help:"Run without live side effects." name:"test-mode"`
	Verbose       bool   `help:"Mark the session verbose in its state (the log level stays at info)." name:"verbose"`
}

func (c *DailyCmd) Run() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	if c.Resume != "" {
		return resumeByID(ctx, a, c.Resume)
	}

	sessionID := state.NewSessionID(time.Now())
	st := state.New(sessionID, state.WorkflowDailyClarify, c.UserID, state.AccountabilityMode(c.Accountability))
	st.TestMode = c.TestMode
	st.Verbose = c.Verbose
	st.EnsureDefaults()

	core, _, tracer, err := a.newCore(ctx, state.WorkflowDailyClarify, sessionID, c.UserID)
	if err != nil {
		return err
	}

	final, err := a.runSession(ctx, core, st, tracer)
	if err != nil {
		return err
	}
	printSummary(final)
	return nil
}

// ResumeCmd resumes a suspended session from its latest checkpoint (§4.4).
type ResumeCmd struct {
	Last bool   `help:"Resume the most recently active session." name:"last"`
	ID   string `arg:"" optional:"" help:"Session id to resume."`
}

func (c *ResumeCmd) Run() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	id := c.ID
	if c.Last || id == "" {
		last, err := readLastSession()
		if err != nil {
			return wrapConfigErr(fmt.Errorf("no last session recorded: %w", err))
		}
		id = last
	}
	return resumeByID(ctx, a, id)
}

// resumeByID rehydrates state from the latest checkpoint for a session's
// thread and continues the ReAct loop from there, per §4.4's "reload the
// channel_values from the checkpoint and rebuild State from them".
func resumeByID(ctx context.Context, a *app, sessionID string) error {
	rec, err := a.sessions.Get(ctx, sessionID)
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no session metadata found for %q", sessionID)
	}

	cp, err := a.checkpoints.Latest(ctx, rec.ThreadID)
	if err != nil {
		return err
	}
	if cp == nil {
		return fmt.Errorf("no checkpoint found for thread %q", rec.ThreadID)
	}

	var st state.State
	if err := checkpoint.Decode(cp, &st); err != nil {
		return fmt.Errorf("decode checkpoint: %w", err)
	}
	st.EnsureDefaults()

	core, _, tracer, err := a.newCore(ctx, st.WorkflowType, st.SessionID, st.UserID)
	if err != nil {
		return err
	}

	final, err := a.runSession(ctx, core, &st, tracer)
	if err != nil {
		return err
	}
	printSummary(final)
	return nil
}

// StatusCmd reports the most recently touched session's state.
type StatusCmd struct{}

func (c *StatusCmd) Run() error {
	ctx := context.Background()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	recent, err := a.sessions.ListRecent(ctx, "default", 1)
	if err != nil {
		return err
	}
	if len(recent) == 0 {
		fmt.Println("no sessions recorded yet")
		return nil
	}
	rec := recent[0]
	fmt.Printf("session:   %s\n", rec.SessionID)
	fmt.Printf("workflow:  %s\n", rec.WorkflowType)
	fmt.Printf("phase:     %s\n", rec.Phase)
	fmt.Printf("completed: %v\n", rec.Completed)
	fmt.Printf("errors:    %d\n", rec.ErrorCount)
	fmt.Printf("updated:   %s\n", rec.UpdatedAt.Format(time.RFC3339))
	if ann, err := session.DecodeAnnotations(rec); err == nil {
		fmt.Printf("captures:  %d\n", ann.CapturesCount)
		fmt.Printf("priorities: %d\n", ann.PrioritiesCount)
		fmt.Printf("tool calls: %d\n", ann.ToolCallCount)
	}
	return nil
}

// ConfigCmd inspects or edits the persisted configuration (§6).
type ConfigCmd struct {
	Show  ConfigShowCmd  `cmd:"" help:"Print the effective configuration."`
	Init  ConfigInitCmd  `cmd:"" help:"Write the default configuration file."`
	Get   ConfigGetCmd   `cmd:"" help:"Print one configuration key."`
	Set   ConfigSetCmd   `cmd:"" help:"Set one configuration key."`
	Reset ConfigResetCmd `cmd:"" help:"Reset the configuration file to defaults."`
	Env   ConfigEnvCmd   `cmd:"" help:"List recognized environment variables and their values."`
}

type ConfigShowCmd struct{}

func (c *ConfigShowCmd) Run() error {
	cfg, err := gtdconfig.Load()
	if err != nil {
		return wrapConfigErr(err)
	}
	return printJSON(cfg)
}

type ConfigInitCmd struct{}

func (c *ConfigInitCmd) Run() error {
	return wrapConfigErr(gtdconfig.Save(gtdconfig.Default()))
}

type ConfigGetCmd struct {
	Key string `arg:""`
}

func (c *ConfigGetCmd) Run() error {
	cfg, err := gtdconfig.Load()
	if err != nil {
		return wrapConfigErr(err)
	}
	v, err := gtdconfig.Get(cfg, c.Key)
	if err != nil {
		return wrapConfigErr(err)
	}
	fmt.Println(v)
	return nil
}

type ConfigSetCmd struct {
	Key   string `arg:""`
	Value string `arg:""`
}

func (c *ConfigSetCmd) Run() error {
	cfg, err := gtdconfig.Load()
	if err != nil {
		return wrapConfigErr(err)
	}
	cfg, err = gtdconfig.Set(cfg, c.Key, c.Value)
	if err != nil {
		return wrapConfigErr(err)
	}
	return wrapConfigErr(gtdconfig.Save(cfg))
}

type ConfigResetCmd struct{}

func (c *ConfigResetCmd) Run() error {
	return wrapConfigErr(gtdconfig.Save(gtdconfig.Default()))
}

type ConfigEnvCmd struct{}

func (c *ConfigEnvCmd) Run() error {
	for k, v := range gtdconfig.EnvSummary() {
		fmt.Printf("%s=%s\n", k, v)
	}
	return nil
}

// TestCmd runs a component smoke test (§6).
type TestCmd struct {
	Component string `arg:"" enum:"llm,timing,memory,tracer,agent,all" default:"all"`
}

func (c *TestCmd) Run() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	components := []string{c.Component}
	if c.Component == "all" {
		components = []string{"llm", "timing", "memory", "tracer", "agent"}
	}
	for _, comp := range components {
		if err := a.testComponent(ctx, comp); err != nil {
			fmt.Printf("%-8s FAIL: %v\n", comp, err)
			return err
		}
		fmt.Printf("%-8s OK\n", comp)
	}
	return nil
}

func (a *app) testComponent(ctx context.Context, name string) error {
	switch name {
	case "llm":
		return a.llmClient.HealthCheck(ctx)
	case "timing":
		if a.cfg.DisableTiming {
			return nil
		}
		return nil
	case "memory":
		if a.memoryStore == nil {
			return fmt.Errorf("memory store not configured")
		}
		_, err := a.memoryStore.Search(ctx, "healthcheck", 1)
		return err
	case "tracer":
		if a.obs == nil {
			return fmt.Errorf("observability manager not configured")
		}
		return nil
	case "agent":
		sessionID := state.NewSessionID(time.Now())
		core, _, _, err := a.newCore(ctx, state.WorkflowDailyClarify, sessionID, "test")
		if err != nil {
			return err
		}
		_ = core
		return nil
	default:
		return fmt.Errorf("unknown component %q", name)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func printSummary(st *state.State) {
	fmt.Printf("\nsession %s complete: phase=%s captures=%d projects=%d priorities=%d\n",
		st.SessionID, st.CurrentPhase, len(st.Captures), len(st.Projects), len(st.WeeklyPriorities))
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
