package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/nfrund/modular/internal/topics"
)

var patternOutputFormat string

var patternCmd = &cobra.Command{
	Use:   "pattern",
	Short: "Parse topic patterns and test them against topics",
	Long: `Tools for working with subscription patterns.

Examples:
  # Show how a pattern is parsed
  modular pattern parse 'chat.{room}.>'

  # Test topics against a pattern
  modular pattern match 'chat.{room}.sent' chat.lobby.sent chat.lobby.read`,
}

var patternParseCmd = &cobra.Command{
	Use:   "parse <pattern>",
	Short: "Parse a pattern and show its segments",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := topics.Parse(args[0])
		if err != nil {
			return err
		}
		d := newPatternDisplay(p)
		if patternOutputFormat == "json" {
			return writeJSON(cmd.OutOrStdout(), d)
		}
		writePatternTable(cmd.OutOrStdout(), d)
		return nil
	},
}

var patternMatchCmd = &cobra.Command{
	Use:   "match <pattern> <topic>...",
	Short: "Test topics against a pattern",
	Long: `Test one or more topics against a pattern. The command fails when any
topic does not match, so it can be used in scripts.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := topics.Parse(args[0])
		if err != nil {
			return err
		}

		results := make([]MatchDisplay, 0, len(args)-1)
		misses := 0
		for _, topic := range args[1:] {
			ok := p.Matches(topic)
			if !ok {
				misses++
			}
			results = append(results, MatchDisplay{Topic: topic, Matches: ok})
		}

		if patternOutputFormat == "json" {
			if err := writeJSON(cmd.OutOrStdout(), results); err != nil {
				return err
			}
		} else {
			writeMatchTable(cmd.OutOrStdout(), results)
		}

		if misses > 0 {
			return fmt.Errorf("%d of %d topics did not match", misses, len(results))
		}
		return nil
	},
}

func init() {
	patternCmd.PersistentFlags().StringVarP(&patternOutputFormat, "format", "f", "table", "output format (table or json)")
	patternCmd.AddCommand(patternParseCmd, patternMatchCmd)
	rootCmd.AddCommand(patternCmd)
}
