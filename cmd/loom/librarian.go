package main

import (
	"fmt"
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
	"storyloom/internal/librarian"
	"storyloom/internal/types"
)

var librarianCmd = &cobra.Command{
	Use:     "librarian",
	Aliases: []string{"lib"},
	Short:   "Background analysis: status, runs, suggestions, chat",
}

var librarianStatusCmd = &cobra.Command{
	Use:   "status [story-id]",
	Short: "Show the librarian's run state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			state, err := e.Store.LoadLibrarianState(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Status: %s\n", state.Observed())
			if state.LastRunAt != nil {
				fmt.Printf("Last run: %s (%dms)\n", humanize.Time(*state.LastRunAt), state.LastDurationMs)
			}
			if state.LastError != "" {
				fmt.Printf("Last error: %s\n", state.LastError)
			}
			return nil
		})
	},
}

var librarianRunCmd = &cobra.Command{
	Use:   "run [story-id]",
	Short: "Analyze the story now, bypassing the debounce",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			analysis, err := e.Librarian.RunNow(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			printAnalysis(analysis)
			return nil
		})
	},
}

var librarianAnalysesCmd = &cobra.Command{
	Use:   "analyses [story-id]",
	Short: "List stored analyses, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			analyses, err := e.Store.ListAnalyses(args[0])
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Created", "Chain", "Suggestions"})
			for _, a := range analyses {
				t.AppendRow(table.Row{a.ID, humanize.Time(a.CreatedAt), a.ChainLength, len(a.KnowledgeSuggestions)})
			}
			t.Render()
			return nil
		})
	},
}

var librarianShowCmd = &cobra.Command{
	Use:   "show [story-id] [analysis-id]",
	Short: "Show one analysis (latest when analysis-id is omitted)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			var analysis *types.Analysis
			var err error
			if len(args) == 2 {
				analysis, err = e.Store.GetAnalysis(args[0], args[1])
			} else {
				analysis, err = e.Store.LatestAnalysis(args[0])
			}
			if err != nil {
				return err
			}
			printAnalysis(analysis)
			return nil
		})
	},
}

var librarianAcceptCmd = &cobra.Command{
	Use:   "accept [story-id] [analysis-id] [index]",
	Short: "Accept a knowledge suggestion, creating the fragment",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			index, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			f, err := librarian.AcceptSuggestion(e.Store, args[0], args[1], index)
			if err != nil {
				return err
			}
			fmt.Printf("Created knowledge fragment %s (%s)\n", f.Name, f.ID)
			return nil
		})
	},
}

var librarianChatCmd = &cobra.Command{
	Use:   "chat [story-id] [message]",
	Short: "Ask the librarian about the story",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			reply, err := e.Analyst.Chat(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Println(reply)
			return nil
		})
	},
}

func printAnalysis(a *types.Analysis) {
	fmt.Printf("Analysis %s (%s, %d sections)\n", a.ID, humanize.Time(a.CreatedAt), a.ChainLength)
	if a.Summary != "" {
		fmt.Printf("\n%s\n", a.Summary)
	}
	if len(a.Directions) > 0 {
		fmt.Println("\nDirections:")
		for _, d := range a.Directions {
			fmt.Printf("  - %s\n", d)
		}
	}
	if len(a.KnowledgeSuggestions) > 0 {
		fmt.Println("\nKnowledge suggestions:")
		for i, s := range a.KnowledgeSuggestions {
			mark := " "
			if s.Accepted {
				mark = "x"
			}
			fmt.Printf("  [%s] %d: %s\n", mark, i, s.Title)
		}
	}
	if len(a.Annotations) > 0 {
		fmt.Printf("\nAnnotated %d fragments\n", len(a.Annotations))
	}
}

func init() {
	librarianCmd.AddCommand(
		librarianStatusCmd, librarianRunCmd, librarianAnalysesCmd,
		librarianShowCmd, librarianAcceptCmd, librarianChatCmd,
	)
}
