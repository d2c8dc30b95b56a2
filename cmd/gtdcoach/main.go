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

// Command gtdcoach is the GTD coaching agent CLI: weekly review, daily
// clarify, resume, status and config/test utilities, per spec §6. Built
// with kong, the same flag-parsing library the teacher's own cmd/hector
// uses.
package main

import (
	"fmt"
	"os"

	"github.com/alecthomas/kong"
)

// exit codes per §6: 0 success, 1 user-interrupt-or-runtime-error, 2
// configuration error.
const (
	exitOK     = 0
	exitRuntime = 1
	exitConfig  = 2
)

var cli struct {
	Weekly WeeklyCmd `cmd:"" help:"Run a weekly review session."`
	Daily  DailyCmd  `cmd:"" help:"Run a daily clarify session."`
	Resume ResumeCmd `cmd:"" help:"Resume a previously suspended session."`
	Status StatusCmd `cmd:"" help:"Show the most recent session's status."`
	Config ConfigCmd `cmd:"" help:"Inspect or edit the persisted configuration."`
	Test   TestCmd   `cmd:"" help:"Run a component smoke test (llm, timing, memory, tracer, agent, all)."`
}

func main() {
	parser := kong.Parse(&cli,
		kong.Name("gtdcoach"),
		kong.Description("A GTD weekly-review and daily-clarify coaching agent."),
		kong.UsageOnError(),
	)
	err := parser.Run()
	if err == nil {
		os.Exit(exitOK)
	}
	if ce, ok := err.(*configError); ok {
		fmt.Fprintln(os.Stderr, "config error:", ce.err)
		os.Exit(exitConfig)
	}
	fmt.Fprintln(os.Stderr, "error:", err)
	os.Exit(exitRuntime)
}

// configError marks an error as a configuration failure (exit code 2)
// rather than a runtime one (exit code 1).
type configError struct{ err error }

func (c *configError) Error() string { return c.err.Error() }

func wrapConfigErr(err error) error {
	if err == nil {
		return nil
	}
	return &configError{err: err}
}
