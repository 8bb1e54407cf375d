package main

import (
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
)

var (
	logsLimit    int
	logsMessages bool
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "Inspect the generation log",
}

var logsListCmd = &cobra.Command{
	Use:   "list [story-id]",
	Short: "List generation records, newest first",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			records, err := e.Store.ListGenerationRecords(args[0], logsLimit)
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Mode", "Finish", "Steps", "Duration", "When"})
			for _, r := range records {
				finish := r.FinishReason
				if r.StepsExceeded {
					finish += " (step cap)"
				}
				dur := time.Duration(r.DurationMs) * time.Millisecond
				t.AppendRow(table.Row{r.ID, r.Mode, finish, r.StepCount, dur.Round(time.Millisecond), humanize.Time(r.CreatedAt)})
			}
			t.Render()
			return nil
		})
	},
}

var logsShowCmd = &cobra.Command{
	Use:   "show [story-id] [log-id]",
	Short: "Show one generation record",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			r, err := e.Store.GetGenerationRecord(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("ID:       %s\n", r.ID)
			fmt.Printf("Mode:     %s\n", r.Mode)
			fmt.Printf("Provider: %s (%s)\n", r.ProviderID, r.Model)
			fmt.Printf("Branch:   %s\n", r.BranchID)
			fmt.Printf("Finish:   %s (steps=%d, exceeded=%v)\n", r.FinishReason, r.StepCount, r.StepsExceeded)
			fmt.Printf("Duration: %s\n", (time.Duration(r.DurationMs) * time.Millisecond).Round(time.Millisecond))
			if r.Usage != nil {
				fmt.Printf("Tokens:   %d in / %d out\n", r.Usage.InputTokens, r.Usage.OutputTokens)
			}
			if r.FragmentID != "" {
				fmt.Printf("Fragment: %s\n", r.FragmentID)
			}
			if r.Input != "" {
				fmt.Printf("\nInput:\n%s\n", r.Input)
			}
			if len(r.ToolCalls) > 0 {
				fmt.Println("\nTool calls:")
				for _, tc := range r.ToolCalls {
					status := "ok"
					if tc.Error != "" {
						status = tc.Error
					}
					fmt.Printf("  %s (%dms) %s\n", tc.Call.Name, tc.DurationMs, status)
				}
			}
			if logsMessages {
				fmt.Println("\nMessages:")
				for _, m := range r.Messages {
					fmt.Printf("--- %s ---\n%s\n", m.Role, m.Content)
				}
			}
			fmt.Printf("\nText:\n%s\n", r.Text)
			return nil
		})
	},
}

func init() {
	logsListCmd.Flags().IntVar(&logsLimit, "limit", 20, "Maximum records to list (0 = all)")
	logsShowCmd.Flags().BoolVar(&logsMessages, "messages", false, "Include the full prompt transcript")

	logsCmd.AddCommand(logsListCmd, logsShowCmd)
}
