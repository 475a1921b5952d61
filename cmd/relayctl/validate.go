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
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/rules"
)

func newValidateSpecCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate-spec <file>",
		Short: "Validate a rule document against the schema",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			spec, err := rules.Load(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: ok (%d events, %d rules)\n", args[0], len(spec.Events), len(spec.Rules))
			return nil
		},
	}
}
