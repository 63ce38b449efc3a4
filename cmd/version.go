// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

package cmd

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

// buildVersion and buildDate are overridden at build time with
// -ldflags "-X github.com/kaleido-io/jsonrpc-reverseproxy/cmd.buildVersion=..."
var (
	buildVersion = "unknown"
	buildDate    = "unknown"
)

type versionInfo struct {
	Version string `json:"Version"`
	Date    string `json:"buildDate"`
	License string `json:"License"`
}

func versionCommand() *cobra.Command {
	var outputJSON bool
	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version of this proxy binary",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := versionInfo{
				Version: buildVersion,
				Date:    buildDate,
				License: "Apache-2.0",
			}
			if outputJSON {
				b, _ := json.MarshalIndent(info, "", "  ")
				fmt.Println(string(b))
				return nil
			}
			fmt.Printf("%s\n", info.Version)
			return nil
		},
	}
	versionCmd.Flags().BoolVarP(&outputJSON, "json", "j", false, "output in JSON format")
	return versionCmd
}
