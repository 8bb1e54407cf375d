package main

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/engine"
)

var storyDescription string

var storiesCmd = &cobra.Command{
	Use:   "stories",
	Short: "Manage story workspaces",
}

var storiesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stories",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			stories, err := e.Store.ListStories()
			if err != nil {
				return err
			}
			folders, err := e.Store.ListFolders()
			if err != nil {
				return err
			}
			folderNames := make(map[string]string, len(folders))
			for _, f := range folders {
				folderNames[f.ID] = f.Name
			}

			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Folder", "Updated"})
			for _, s := range stories {
				t.AppendRow(table.Row{s.ID, s.Name, folderNames[s.FolderID], humanize.Time(s.UpdatedAt)})
			}
			t.Render()
			return nil
		})
	},
}

var storiesCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a story",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			meta, err := e.Store.CreateStory(args[0], storyDescription)
			if err != nil {
				return err
			}
			fmt.Printf("Created story %s (%s)\n", meta.Name, meta.ID)
			return nil
		})
	},
}

var storiesShowCmd = &cobra.Command{
	Use:   "show [story-id]",
	Short: "Show story metadata and settings",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			meta, err := e.Store.GetStory(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("ID:          %s\n", meta.ID)
			fmt.Printf("Name:        %s\n", meta.Name)
			if meta.Description != "" {
				fmt.Printf("Description: %s\n", meta.Description)
			}
			if meta.Summary != "" {
				fmt.Printf("Summary:     %s\n", meta.Summary)
			}
			fmt.Printf("Provider:    %s\n", orDefault(meta.Settings.ProviderID, "(default)"))
			fmt.Printf("Model:       %s\n", orDefault(meta.Settings.Model, "(provider default)"))
			fmt.Printf("Created:     %s\n", humanize.Time(meta.CreatedAt))
			fmt.Printf("Updated:     %s\n", humanize.Time(meta.UpdatedAt))
			return nil
		})
	},
}

var storiesDeleteCmd = &cobra.Command{
	Use:   "delete [story-id]",
	Short: "Delete a story and all of its data",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			if err := e.Store.DeleteStory(args[0]); err != nil {
				return err
			}
			fmt.Printf("Deleted story %s\n", args[0])
			return nil
		})
	},
}

var storiesMoveCmd = &cobra.Command{
	Use:   "move [story-id] [folder-id]",
	Short: "Move a story into a folder (empty folder-id moves to root)",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			folderID := ""
			if len(args) == 2 {
				folderID = args[1]
			}
			if err := e.Store.MoveStory(args[0], folderID); err != nil {
				return err
			}
			fmt.Println("Moved")
			return nil
		})
	},
}

var foldersCmd = &cobra.Command{
	Use:   "folders",
	Short: "Manage story folders",
}

var foldersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List folders",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			folders, err := e.Store.ListFolders()
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Name", "Parent"})
			for _, f := range folders {
				t.AppendRow(table.Row{f.ID, f.Name, f.ParentID})
			}
			t.Render()
			return nil
		})
	},
}

var folderParent string

var foldersCreateCmd = &cobra.Command{
	Use:   "create [name]",
	Short: "Create a folder",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			f, err := e.Store.CreateFolder(args[0], folderParent)
			if err != nil {
				return err
			}
			fmt.Printf("Created folder %s (%s)\n", f.Name, f.ID)
			return nil
		})
	},
}

var foldersRenameCmd = &cobra.Command{
	Use:   "rename [folder-id] [name]",
	Short: "Rename a folder",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			f, err := e.Store.RenameFolder(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("Renamed folder %s to %s\n", f.ID, f.Name)
			return nil
		})
	},
}

var foldersDeleteCmd = &cobra.Command{
	Use:   "delete [folder-id]",
	Short: "Delete a folder (stories move to its parent)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Store.DeleteFolder(args[0])
		})
	},
}

func newTable() table.Writer {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)
	return t
}

func orDefault(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

func init() {
	storiesCreateCmd.Flags().StringVar(&storyDescription, "description", "", "Story description")
	foldersCreateCmd.Flags().StringVar(&folderParent, "parent", "", "Parent folder id")

	storiesCmd.AddCommand(storiesListCmd, storiesCreateCmd, storiesShowCmd, storiesDeleteCmd, storiesMoveCmd)
	foldersCmd.AddCommand(foldersListCmd, foldersCreateCmd, foldersRenameCmd, foldersDeleteCmd)
}
