// Copyright (c) 2025, WSO2 LLC. (https://www.wso2.com).
//
// WSO2 LLC. licenses this file to you under the Apache License,
// Version 2.0 (the "License"); you may not use this file except
// in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied. See the License for the
// specific language governing permissions and limitations
// under the License.


package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/webhook-relay/internal/automation"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
)

var errBlocked = errors.New("one or more constraint violations require blocking the event")

type evaluateFlags struct {
	eventPath  string
	specPath   string
	outputPath string
	tags       string
}

type evaluationSummary struct {
	EvaluatedEvents int                      `json:"evaluated_events"`
	TriggeredRules  int                      `json:"triggered_rules"`
	Violations      []rules.ConstraintResult `json:"violations"`
}

func newEvaluateCmd() *cobra.Command {
	var f evaluateFlags
	cmd := &cobra.Command{
		Use:   "evaluate",
		Short: "Evaluate a recorded messaging webhook body against a rule document",
		Long: `Evaluate every event of a recorded webhook body and write the results.

Exits non-zero when any event is blocked by a constraint. A missing event
file, missing rule document or empty event list is reported and skipped.

Example:
  relayctl evaluate --event tmp/event.json --spec rules.yaml --output tmp/result.json --tags vip,trial`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEvaluate(cmd.OutOrStdout(), cmd.ErrOrStderr(), f)
		},
	}
	cmd.Flags().StringVar(&f.eventPath, "event", "tmp/event.json", "webhook body to evaluate")
	cmd.Flags().StringVar(&f.specPath, "spec", "rules.yaml", "rule document")
	cmd.Flags().StringVar(&f.outputPath, "output", "", "write the evaluation as JSON to this file")
	cmd.Flags().StringVar(&f.tags, "tags", "", "comma-separated tags of the evaluated user")
	return cmd
}

func runEvaluate(stdout, stderr io.Writer, f evaluateFlags) error {
	for _, p := range []struct{ label, path string }{{"event payload", f.eventPath}, {"rule document", f.specPath}} {
		if _, err := os.Stat(p.path); errors.Is(err, fs.ErrNotExist) {
			fmt.Fprintf(stderr, "%s not found at %s, skipping evaluation\n", p.label, p.path)
			return nil
		}
	}

	body, err := readJSON(f.eventPath)
	if err != nil {
		return err
	}
	events := automation.DeriveEvents(body, classify.NewLineCommands(nil).Derive)
	if len(events) == 0 {
		fmt.Fprintln(stdout, "no messaging events in payload, nothing to evaluate")
		return nil
	}

	spec, err := rules.Load(f.specPath)
	if err != nil {
		return err
	}
	engine := rules.NewEngine(spec, rules.WithLogger(slog.New(slog.NewTextHandler(stderr, nil))))

	user := &core.UserState{Tags: splitTags(f.tags)}
	for i := range events {
		events[i].User = user
	}
	report, err := automation.Evaluate(engine, events)
	if err != nil {
		return err
	}

	if f.outputPath != "" {
		if err := writeReport(f.outputPath, report); err != nil {
			return err
		}
	}

	summary := summarize(report, len(events))
	out, err := json.MarshalIndent(summary, "", "  ")
	if err != nil {
		return err
	}
	if len(summary.Violations) > 0 {
		fmt.Fprintln(stderr, "constraint violations detected")
		fmt.Fprintln(stderr, string(out))
	} else {
		fmt.Fprintln(stdout, "evaluation completed without violations")
		fmt.Fprintln(stdout, string(out))
	}

	if report.Blocked {
		return errBlocked
	}
	return nil
}

func summarize(report automation.Report, evaluated int) evaluationSummary {
	s := evaluationSummary{EvaluatedEvents: evaluated, Violations: []rules.ConstraintResult{}}
	for _, r := range report.Results {
		s.TriggeredRules += len(r.Triggered)
		for _, v := range r.Violations {
			s.Violations = append(s.Violations, v.Constraints...)
		}
	}
	return s
}

func writeReport(path string, report automation.Report) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
