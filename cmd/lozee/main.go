// Copyright 2024 Lozee Project
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

// Command lozee runs the chat relay and offers offline tooling around it.
package main

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/lozee/lozee-relay/internal/relay"
)

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "lozee",
		Short:        "Lozee chat relay",
		Long:         "Relays counselling chat turns to the language model and splits each reply into display text and analysis.",
		Version:      relay.Version,
		SilenceUsage: true,
	}

	rootCmd.AddCommand(newServeCmd(), newSplitCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
