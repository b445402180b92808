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

package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/lozee/lozee-relay/internal/splitter"
)

type splitOutput struct {
	Text     string            `json:"text"`
	Analysis splitter.Analysis `json:"analysis"`
	Outcome  string            `json:"outcome"`
}

func newSplitCmd() *cobra.Command {
	var strategy, sentinel string

	cmd := &cobra.Command{
		Use:   "split [file]",
		Short: "Split a saved model reply into display text and analysis",
		Long: "Reads a raw model reply from the named file, or from stdin when no file\n" +
			"or \"-\" is given, and prints the split result as JSON.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			locator, err := splitter.ParseStrategy(strategy, sentinel)
			if err != nil {
				return err
			}

			raw, err := readReply(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			result := splitter.New(splitter.WithLocator(locator)).Split(raw)
			return writeSplit(cmd.OutOrStdout(), result)
		},
	}

	cmd.Flags().StringVarP(&strategy, "strategy", "s", splitter.StrategyFirst, "Where the analysis starts: first, last or sentinel")
	cmd.Flags().StringVar(&sentinel, "sentinel", splitter.DefaultSentinel, "Marker that opens the analysis for the sentinel strategy")

	return cmd
}

// readReply drops the trailing newline that shells and editors append
func readReply(stdin io.Reader, args []string) (string, error) {
	in := stdin
	if len(args) == 1 && args[0] != "-" {
		f, err := os.Open(args[0])
		if err != nil {
			return "", fmt.Errorf("failed to open reply: %w", err)
		}
		defer func() { _ = f.Close() }()
		in = f
	}

	data, err := io.ReadAll(in)
	if err != nil {
		return "", fmt.Errorf("failed to read reply: %w", err)
	}
	return strings.TrimRight(string(data), "\r\n"), nil
}

func writeSplit(w io.Writer, result splitter.Result) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(splitOutput{
		Text:     result.Display,
		Analysis: result.Analysis,
		Outcome:  result.Outcome.String(),
	})
}
