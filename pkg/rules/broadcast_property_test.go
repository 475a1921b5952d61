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

package rules

import (
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

func TestBroadcastProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	now := time.Date(2025, 6, 10, 12, 0, 0, 0, time.UTC)

	properties.Property("allowed sends never exceed the monthly cap", prop.ForAll(
		func(count, max int) bool {
			d := EvaluateBroadcast(BroadcastInput{
				Metadata:    map[string]any{MetaBroadcastMonthKey: MonthKey(now), MetaBroadcastCountMonth: count},
				Templates:   []string{"t"},
				MaxPerMonth: max,
				Now:         now,
			})
			if !d.Allowed {
				return d.Reason == ReasonMonthlyLimit && count+1 > max
			}
			return d.Patch[MetaBroadcastCountMonth] == count+1 && count+1 <= max
		},
		gen.IntRange(0, 10), gen.IntRange(1, 10),
	))

	properties.Property("a stale month key resets the counter", prop.ForAll(
		func(count int) bool {
			d := EvaluateBroadcast(BroadcastInput{
				Metadata:    map[string]any{MetaBroadcastMonthKey: "1999-01", MetaBroadcastCountMonth: count},
				Templates:   []string{"t"},
				MaxPerMonth: 1,
				Now:         now,
			})
			return d.Allowed && d.Patch[MetaBroadcastCountMonth] == 1
		},
		gen.IntRange(0, 1000),
	))

	properties.TestingRun(t)
}
