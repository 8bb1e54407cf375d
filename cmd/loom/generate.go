package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"storyloom/internal/engine"
	"storyloom/internal/pipeline"
	"storyloom/internal/types"
)

var (
	genMode     string
	genFragment string
	genNoSave   bool
)

var generateCmd = &cobra.Command{
	Use:   "generate [story-id] [input]",
	Short: "Generate prose, streaming text to stdout",
	Long: `Runs the generation pipeline for a story and streams the model's text
to stdout as it arrives. Phase changes and tool activity go to stderr.

Modes:
  generate    append a new section to the chain (default)
  regenerate  add a variation of an existing passage (--fragment)
  refine      rewrite an existing passage per the input (--fragment)

Interrupting with Ctrl-C stops the stream; the run itself completes in the
background and the result is still saved unless --no-save is set.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			ch, err := e.Pipeline.Generate(ctx, pipeline.Request{
				StoryID:    args[0],
				Input:      args[1],
				Mode:       types.GenerateMode(genMode),
				FragmentID: genFragment,
				SaveResult: !genNoSave,
			})
			if err != nil {
				return err
			}

			var failed error
			for ev := range ch {
				switch ev.Type {
				case types.EventText:
					fmt.Print(ev.Text)
				case types.EventPhase:
					fmt.Fprintf(os.Stderr, "[%s]\n", ev.Text)
				case types.EventToolCall:
					fmt.Fprintf(os.Stderr, "[tool] %s\n", ev.ToolCall.Name)
				case types.EventError:
					failed = ev.Err
				case types.EventDone:
					fmt.Println()
					fmt.Fprintf(os.Stderr, "[done] finish=%s", ev.FinishReason)
					if ev.Usage != nil {
						fmt.Fprintf(os.Stderr, " tokens=%d/%d", ev.Usage.InputTokens, ev.Usage.OutputTokens)
					}
					fmt.Fprintln(os.Stderr)
				}
			}
			return failed
		})
	},
}

func init() {
	generateCmd.Flags().StringVar(&genMode, "mode", string(types.ModeGenerate), "generate|regenerate|refine")
	generateCmd.Flags().StringVar(&genFragment, "fragment", "", "Source fragment for regenerate/refine")
	generateCmd.Flags().BoolVar(&genNoSave, "no-save", false, "Stream only; do not persist the result")
}
