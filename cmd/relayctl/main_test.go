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
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/fingerprint"
)

const specDoc = `
version: "2025-01"
events: [add_line, cmd_detail, line_message]
constraints:
  phi_filter:
    enabled: true
    action_on_detect: remove_and_warn
    patterns:
      - type: email
        regex: '[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}'
rules:
  - id: welcome
    when: event == 'add_line'
    do:
      - send_message:
          template: scenario_add_line
  - id: detail
    when: event == 'cmd_detail'
    if: not user.tags.contains('detail_sent')
    do:
      - send_message:
          template: scenario_cmd_detail
    limits:
      max_sends: 1
  - id: analyse
    when: event == 'line_message'
    do:
      - action: noop
    constraints:
      - type: phi_filter
`

const followBody = `{"destination":"U0","events":[{"type":"follow","timestamp":1718020800000,"replyToken":"rt","source":{"type":"user","userId":"U1"}}]}`

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestValidateSpec(t *testing.T) {
	dir := t.TempDir()
	good := writeFile(t, dir, "rules.yaml", specDoc)
	bad := writeFile(t, dir, "bad.yaml", "rules: not-a-list\n")

	out, _, err := run(t, "validate-spec", good)
	require.NoError(t, err)
	assert.Contains(t, out, "ok (3 events, 3 rules)")

	_, _, err = run(t, "validate-spec", bad)
	assert.Error(t, err)

	_, _, err = run(t, "validate-spec")
	assert.Error(t, err)
}

func TestEvaluateWritesReport(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "rules.yaml", specDoc)
	event := writeFile(t, dir, "event.json", followBody)
	output := filepath.Join(dir, "out", "result.json")

	stdout, _, err := run(t, "evaluate", "--event", event, "--spec", spec, "--output", output)
	require.NoError(t, err)
	assert.Contains(t, stdout, "without violations")

	data, err := os.ReadFile(output)
	require.NoError(t, err)
	var report struct {
		Results []struct {
			Event     string `json:"event"`
			Triggered []struct {
				RuleID string `json:"ruleId"`
			} `json:"triggered"`
			Violations []any `json:"violations"`
			Limits     []any `json:"limits"`
		} `json:"results"`
		Blocked bool `json:"blocked"`
	}
	require.NoError(t, json.Unmarshal(data, &report))
	assert.False(t, report.Blocked)
	require.Len(t, report.Results, 1)
	assert.Equal(t, "add_line", report.Results[0].Event)
	require.Len(t, report.Results[0].Triggered, 1)
	assert.Equal(t, "welcome", report.Results[0].Triggered[0].RuleID)
	assert.Len(t, report.Results[0].Limits, 1)
}

func TestEvaluateUserTags(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "rules.yaml", specDoc)
	event := writeFile(t, dir, "event.json",
		`{"events":[{"type":"message","source":{"type":"user","userId":"U1"},"message":{"type":"text","id":"m1","text":"開発事例を見る"}}]}`)

	stdout, _, err := run(t, "evaluate", "--event", event, "--spec", spec)
	require.NoError(t, err)
	assert.Contains(t, stdout, `"triggered_rules": 1`)

	stdout, _, err = run(t, "evaluate", "--event", event, "--spec", spec, "--tags", " detail_sent , vip")
	require.NoError(t, err)
	assert.Contains(t, stdout, `"triggered_rules": 0`)
}

func TestEvaluateBlocked(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "rules.yaml", specDoc)
	event := writeFile(t, dir, "event.json",
		`{"events":[{"type":"message","source":{"type":"user","userId":"U1"},"message":{"type":"text","id":"m1","text":"write to me@example.com"}}]}`)

	_, stderr, err := run(t, "evaluate", "--event", event, "--spec", spec)
	require.ErrorIs(t, err, errBlocked)
	assert.Contains(t, stderr, "constraint violations detected")
}

func TestEvaluateSkipsMissingInputs(t *testing.T) {
	dir := t.TempDir()
	spec := writeFile(t, dir, "rules.yaml", specDoc)
	empty := writeFile(t, dir, "empty.json", `{"events":[]}`)

	_, stderr, err := run(t, "evaluate", "--event", filepath.Join(dir, "missing.json"), "--spec", spec)
	require.NoError(t, err)
	assert.Contains(t, stderr, "not found")

	stdout, _, err := run(t, "evaluate", "--event", empty, "--spec", spec)
	require.NoError(t, err)
	assert.Contains(t, stdout, "nothing to evaluate")
}

func TestFingerprintCommand(t *testing.T) {
	dir := t.TempDir()
	event := writeFile(t, dir, "event.json", followBody)

	stdout, _, err := run(t, "fingerprint", "--file", event, "--salt", "pepper")
	require.NoError(t, err)

	payload, err := readJSON(event)
	require.NoError(t, err)
	want, _ := fingerprint.Compute(core.EventTypeLine, payload, fingerprint.Options{HashSalt: "pepper"})
	assert.Equal(t, want, strings.TrimSpace(stdout))

	_, _, err = run(t, "fingerprint", "--file", event, "--type", "bogus")
	assert.Error(t, err)
}

func TestSplitTags(t *testing.T) {
	assert.Equal(t, []string{"a", "b"}, splitTags(" a, ,b,"))
	assert.Nil(t, splitTags(""))
}
