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

// Package classify assigns an event type to an inbound body and maps
// messaging events onto rule event names.
package classify

import (
	"strings"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
)

// Detect classifies a decoded webhook body. A top-level "events" array marks
// a messaging-channel delivery; a progress_id, event_type or task_id marks an
// AI progress report.
func Detect(payload any) core.EventType {
	obj, ok := core.AsObject(payload)
	if !ok {
		return core.EventTypeUnknown
	}
	if _, ok := obj["events"].([]any); ok {
		return core.EventTypeLine
	}
	if core.Truthy(obj["progress_id"]) || core.Truthy(obj["event_type"]) || core.Truthy(obj["task_id"]) {
		return core.EventTypeProgress
	}
	return core.EventTypeUnknown
}

// DefaultCommands maps exact message texts to rule event names.
var DefaultCommands = map[string]string{
	"#詳しく":       "cmd_detail",
	"#参加":        "cmd_participate",
	"#完了":        "cmd_done",
	"#受講開始":      "cmd_start_course",
	"#つまずき":      "cmd_stuck",
	"#規約":        "cmd_regulation",
	"#通知停止":      "unsubscribe",
	"#再開":        "resubscribe",
	"開発事例のご案内":   "cmd_detail",
	"開発事例を見る":    "cmd_detail",
	"プレゼントの受け取り": "cmd_gift",
	"限定プレゼント":    "cmd_gift",
	"お問い合わせ":     "cmd_contact",
	"相談したい":      "cmd_contact",
	"導入支援の相談":    "cmd_contact",
	"導入支援":       "cmd_contact",
}

const (
	EventUnknown         = "line_unknown"
	EventFollow          = "add_line"
	EventUnfollow        = "unsubscribe"
	EventCommandUnmapped = "line_command_unmapped"
	EventMessage         = "line_message"
	EventPostback        = "line_postback"
)

// LineCommands classifies messaging events with a command table.
type LineCommands struct {
	Commands map[string]string
}

// NewLineCommands returns a classifier over commands, or DefaultCommands when
// commands is empty.
func NewLineCommands(commands map[string]string) *LineCommands {
	if len(commands) == 0 {
		commands = DefaultCommands
	}
	return &LineCommands{Commands: commands}
}

// Derive implements core.Deriver.
func (c *LineCommands) Derive(event any) core.Derived {
	if _, ok := core.AsObject(event); !ok {
		return core.Derived{EventName: EventUnknown}
	}

	typ := core.StringOf(core.Coalesce(core.Lookup(event, "type"), "unknown"))
	switch typ {
	case "follow":
		return core.Derived{EventName: EventFollow}
	case "unfollow":
		return core.Derived{EventName: EventUnfollow}
	}

	if core.StringOf(core.Lookup(event, "message", "type")) == "text" {
		text, _ := core.StringField(core.Lookup(event, "message", "text"))
		text = strings.TrimSpace(text)
		if text != "" {
			if name, ok := c.Commands[text]; ok {
				return core.Derived{EventName: name, Command: text}
			}
			if strings.HasPrefix(text, "#") {
				return core.Derived{EventName: EventCommandUnmapped, Command: text}
			}
		}
	}

	switch typ {
	case "message":
		return core.Derived{EventName: EventMessage, Command: core.StringOf(core.Lookup(event, "message", "text"))}
	case "postback":
		return core.Derived{EventName: EventPostback}
	default:
		return core.Derived{EventName: "line_" + typ}
	}
}
