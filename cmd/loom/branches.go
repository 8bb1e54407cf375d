package main

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
)

var (
	branchParent    string
	branchForkAfter int
)

var branchesCmd = &cobra.Command{
	Use:   "branches",
	Short: "Manage story branches",
}

var branchesListCmd = &cobra.Command{
	Use:   "list [story-id]",
	Short: "List branches",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			state, err := e.Store.ListBranches(args[0])
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Parent", "Fork After", "Created", ""})
			for _, b := range state.Branches {
				active := ""
				if b.ID == state.ActiveBranchID {
					active = "*"
				}
				t.AppendRow(table.Row{b.ID, b.Name, b.ParentID, b.ForkAfterIndex, humanize.Time(b.CreatedAt), active})
			}
			t.Render()
			return nil
		})
	},
}

var branchesCreateCmd = &cobra.Command{
	Use:   "create [story-id] [name]",
	Short: "Fork a branch from the active one",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			parent := branchParent
			if parent == "" {
				active, err := e.Store.ActiveBranch(args[0])
				if err != nil {
					return err
				}
				parent = active.ID
			}
			forkAfter := branchForkAfter
			if !cmd.Flags().Changed("fork-after") {
				// Default: carry the parent's whole chain across.
				chain, err := e.Store.GetChain(args[0])
				if err != nil {
					return err
				}
				forkAfter = len(chain) - 1
			}
			b, err := e.Store.CreateBranch(args[0], args[1], parent, forkAfter)
			if err != nil {
				return err
			}
			fmt.Printf("Created branch %s (%s)\n", b.Name, b.ID)
			return nil
		})
	},
}

var branchesSwitchCmd = &cobra.Command{
	Use:   "switch [story-id] [branch-id]",
	Short: "Switch the active branch",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Store.SwitchBranch(args[0], args[1])
		})
	},
}

var branchesDeleteCmd = &cobra.Command{
	Use:   "delete [story-id] [branch-id]",
	Short: "Delete a branch and its overlay",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Store.DeleteBranch(args[0], args[1])
		})
	},
}

func init() {
	branchesCreateCmd.Flags().StringVar(&branchParent, "parent", "", "Parent branch id (default: active branch)")
	branchesCreateCmd.Flags().IntVar(&branchForkAfter, "fork-after", -1, "Chain section index to fork after (default: end of chain; -1 forks an empty chain)")

	branchesCmd.AddCommand(branchesListCmd, branchesCreateCmd, branchesSwitchCmd, branchesDeleteCmd)
}
