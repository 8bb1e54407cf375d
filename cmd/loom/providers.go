package main

import (
	"fmt"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
	"storyloom/internal/types"
)

var (
	providerKind    string
	providerAPIKey  string
	providerBaseURL string
	providerModel   string
	providerModels  []string
)

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Manage the model provider registry",
}

var providersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured providers",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			defaultID := e.Providers.DefaultID()
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Kind", "Default Model", ""})
			for _, p := range e.Providers.List() {
				mark := ""
				if p.ID == defaultID {
					mark = "*"
				}
				t.AppendRow(table.Row{p.ID, p.Name, p.Kind, p.DefaultModel, mark})
			}
			t.Render()
			return nil
		})
	},
}

var providersAddCmd = &cobra.Command{
	Use:   "add [name]",
	Short: "Add a provider (the first one becomes the default)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			added, err := e.Providers.Add(types.ProviderConfig{
				Name:         args[0],
				Kind:         providerKind,
				APIKey:       providerAPIKey,
				BaseURL:      providerBaseURL,
				DefaultModel: providerModel,
				Models:       providerModels,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Added provider %s (%s)\n", added.Name, added.ID)
			return nil
		})
	},
}

var providersRemoveCmd = &cobra.Command{
	Use:   "remove [provider-id]",
	Short: "Remove a provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Providers.Remove(args[0])
		})
	},
}

var providersDefaultCmd = &cobra.Command{
	Use:   "set-default [provider-id]",
	Short: "Set the default provider",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Providers.SetDefault(args[0])
		})
	},
}

var providersUseCmd = &cobra.Command{
	Use:   "use [story-id] [provider-id]",
	Short: "Pin a story to a provider (and optionally a model)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.UpdateStory(args[0], func(meta *types.StoryMeta) error {
				meta.Settings.ProviderID = args[1]
				if providerModel != "" {
					meta.Settings.Model = providerModel
				}
				return nil
			})
			if err != nil {
				return err
			}
			target := args[1]
			if providerModel != "" {
				target = strings.Join([]string{args[1], providerModel}, " / ")
			}
			fmt.Printf("Story %s now uses %s\n", args[0], target)
			return nil
		})
	},
}

func init() {
	providersAddCmd.Flags().StringVar(&providerKind, "kind", types.ProviderKindGemini, "Provider kind (gemini|mock)")
	providersAddCmd.Flags().StringVar(&providerAPIKey, "api-key", "", "API key (falls back to config / GEMINI_API_KEY)")
	providersAddCmd.Flags().StringVar(&providerBaseURL, "base-url", "", "API base URL override")
	providersAddCmd.Flags().StringVar(&providerModel, "model", "", "Default model")
	providersAddCmd.Flags().StringSliceVar(&providerModels, "models", nil, "Known model names")
	providersUseCmd.Flags().StringVar(&providerModel, "model", "", "Model override for the story")

	providersCmd.AddCommand(providersListCmd, providersAddCmd, providersRemoveCmd, providersDefaultCmd, providersUseCmd)
}
