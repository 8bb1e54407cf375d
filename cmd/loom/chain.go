package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
)

var chainCmd = &cobra.Command{
	Use:   "chain",
	Short: "Inspect and reorder the prose chain",
}

var chainShowCmd = &cobra.Command{
	Use:   "show [story-id]",
	Short: "Show the chain with variations per section",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			chain, err := e.Store.GetChain(args[0])
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"#", "Active", "Name", "Variations"})
			for i, section := range chain {
				name := ""
				if f, err := e.Store.GetFragment(args[0], section.Active); err == nil {
					name = f.Name
				}
				t.AppendRow(table.Row{i, section.Active, name, len(section.ProseFragments)})
			}
			t.Render()
			return nil
		})
	},
}

var chainSectionCmd = &cobra.Command{
	Use:   "section [story-id] [index]",
	Short: "List the variations of one section",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			chain, err := e.Store.GetChain(args[0])
			if err != nil {
				return err
			}
			if index < 0 || index >= len(chain) {
				return fmt.Errorf("section index out of range (chain has %d sections)", len(chain))
			}
			section := chain[index]
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Ver", ""})
			for _, id := range section.ProseFragments {
				name, version := "", 0
				if f, err := e.Store.GetFragment(args[0], id); err == nil {
					name, version = f.Name, f.Version
				}
				active := ""
				if id == section.Active {
					active = "*"
				}
				t.AppendRow(table.Row{id, name, version, active})
			}
			t.Render()
			return nil
		})
	},
}

var chainActivateCmd = &cobra.Command{
	Use:   "activate [story-id] [index] [fragment-id]",
	Short: "Switch a section's active variation",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			return e.Store.SwitchActive(args[0], index, args[2])
		})
	},
}

var chainReorderCmd = &cobra.Command{
	Use:   "reorder [story-id] [indices...]",
	Short: "Reorder sections (a permutation of current indices, e.g. 2 0 1)",
	Args:  cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			order := make([]int, 0, len(args)-1)
			for _, a := range args[1:] {
				i, err := strconv.Atoi(a)
				if err != nil {
					return fmt.Errorf("indices must be numbers: %w", err)
				}
				order = append(order, i)
			}
			return e.Store.ReorderChain(args[0], order)
		})
	},
}

var archiveRemoved bool

var chainRemoveCmd = &cobra.Command{
	Use:   "remove [story-id] [index]",
	Short: "Remove a section from the chain",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			index, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("index must be a number: %w", err)
			}
			removed, err := e.Store.RemoveSection(args[0], index)
			if err != nil {
				return err
			}
			if archiveRemoved {
				for _, id := range removed {
					if _, err := e.Store.ArchiveFragment(args[0], id); err != nil {
						return err
					}
				}
			}
			fmt.Printf("Removed section %s (%d variations)\n", args[1], len(removed))
			if !archiveRemoved && len(removed) > 0 {
				fmt.Printf("Detached fragments: %s\n", strings.Join(removed, ", "))
			}
			return nil
		})
	},
}

var chainAddCmd = &cobra.Command{
	Use:   "add [story-id] [fragment-id]",
	Short: "Append an existing prose fragment as a new section",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			index, err := e.Store.AddSection(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Added section %d\n", index)
			return nil
		})
	},
}

func init() {
	chainRemoveCmd.Flags().BoolVar(&archiveRemoved, "archive", false, "Archive the section's variations")

	chainCmd.AddCommand(chainShowCmd, chainSectionCmd, chainActivateCmd, chainReorderCmd, chainRemoveCmd, chainAddCmd)
}
