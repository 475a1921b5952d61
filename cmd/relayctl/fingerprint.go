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
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/classify"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/core"
	"github.com/wso2/api-platform/gateway/webhook-relay/pkg/fingerprint"
)

func newFingerprintCmd() *cobra.Command {
	var (
		eventType string
		file      string
		salt      string
		signature string
		verbose   bool
	)
	cmd := &cobra.Command{
		Use:   "fingerprint",
		Short: "Print the deduplication fingerprint of a webhook body",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(file)
			if err != nil {
				return err
			}
			payload, err := readJSON(file)
			if err != nil {
				return err
			}

			typ := core.EventType(eventType)
			if typ == "" {
				typ = classify.Detect(payload)
			}
			if !typ.Known() {
				return fmt.Errorf("unsupported event type %q", typ)
			}

			fp, inputs := fingerprint.Compute(typ, payload, fingerprint.Options{
				HashSalt:  salt,
				Signature: signature,
				RawBody:   data,
			})
			out := cmd.OutOrStdout()
			fmt.Fprintln(out, fp)
			if verbose {
				fmt.Fprintf(out, "type: %s\ninputs: %s\n", typ, strings.Join(inputs, "|"))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&eventType, "type", "", "event type (line_event or manus_progress); detected when empty")
	cmd.Flags().StringVar(&file, "file", "", "webhook body")
	cmd.Flags().StringVar(&salt, "salt", os.Getenv("HASH_SALT"), "actor hash salt")
	cmd.Flags().StringVar(&signature, "signature", "", "signature header of the delivery")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print fingerprint inputs")
	_ = cmd.MarkFlagRequired("file")
	return cmd
}
