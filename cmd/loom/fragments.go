package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"storyloom/internal/diff"
	"storyloom/internal/engine"
	"storyloom/internal/store"
	"storyloom/internal/types"
)

var (
	fragType        string
	fragName        string
	fragDesc        string
	fragContent     string
	fragContentFile string
	fragTags        []string
	includeArchived bool
	showContent     bool
	diffAgainst     int
)

var fragmentsCmd = &cobra.Command{
	Use:     "fragments",
	Aliases: []string{"frag"},
	Short:   "Manage story fragments",
}

var fragmentsListCmd = &cobra.Command{
	Use:   "list [story-id]",
	Short: "List fragments on the active branch",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			frags, err := e.Store.ListFragments(args[0], store.ListOptions{
				Type:            types.FragmentType(fragType),
				IncludeArchived: includeArchived,
			})
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"ID", "Type", "Name", "Tags", "Ver", "Updated"})
			for _, f := range frags {
				name := f.Name
				if f.Archived {
					name += " (archived)"
				}
				t.AppendRow(table.Row{f.ID, f.Type, name, strings.Join(f.Tags, ","), f.Version, humanize.Time(f.UpdatedAt)})
			}
			t.Render()
			return nil
		})
	},
}

var fragmentsShowCmd = &cobra.Command{
	Use:   "show [story-id] [fragment-id]",
	Short: "Show one fragment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			f, branchID, err := e.Store.ResolveFragment(args[0], args[1])
			if err != nil {
				return err
			}
			fmt.Printf("ID:      %s\n", f.ID)
			fmt.Printf("Type:    %s\n", f.Type)
			fmt.Printf("Name:    %s\n", f.Name)
			if f.Description != "" {
				fmt.Printf("Desc:    %s\n", f.Description)
			}
			fmt.Printf("Branch:  %s\n", branchID)
			fmt.Printf("Version: %d\n", f.Version)
			if len(f.Tags) > 0 {
				fmt.Printf("Tags:    %s\n", strings.Join(f.Tags, ", "))
			}
			if len(f.Refs) > 0 {
				fmt.Printf("Refs:    %s\n", strings.Join(f.Refs, ", "))
			}
			if f.Locked() {
				fmt.Println("Locked:  yes")
			}
			if showContent || f.Content != "" {
				fmt.Printf("\n%s\n", f.Content)
			}
			return nil
		})
	},
}

var fragmentsCreateCmd = &cobra.Command{
	Use:   "create [story-id]",
	Short: "Create a fragment",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			content, err := readContent()
			if err != nil {
				return err
			}
			f, err := e.Store.CreateFragment(args[0], &types.Fragment{
				Type:        types.FragmentType(fragType),
				Name:        fragName,
				Description: fragDesc,
				Content:     content,
				Tags:        fragTags,
			})
			if err != nil {
				return err
			}
			fmt.Printf("Created %s %s (%s)\n", f.Type, f.Name, f.ID)
			return nil
		})
	},
}

var fragmentsEditCmd = &cobra.Command{
	Use:   "edit [story-id] [fragment-id]",
	Short: "Update fragment fields, recording a version",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			var patch store.FieldsPatch
			if cmd.Flags().Changed("name") {
				patch.Name = &fragName
			}
			if cmd.Flags().Changed("description") {
				patch.Description = &fragDesc
			}
			if cmd.Flags().Changed("content") || cmd.Flags().Changed("content-file") {
				content, err := readContent()
				if err != nil {
					return err
				}
				patch.Content = &content
			}
			f, err := e.Store.UpdateVersioned(args[0], args[1], patch, "manual edit")
			if err != nil {
				return err
			}
			fmt.Printf("Updated %s (version %d)\n", f.ID, f.Version)
			return nil
		})
	},
}

var fragmentsArchiveCmd = &cobra.Command{
	Use:   "archive [story-id] [fragment-id]",
	Short: "Archive a fragment (hidden from context and lists)",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.ArchiveFragment(args[0], args[1])
			return err
		})
	},
}

var fragmentsRestoreCmd = &cobra.Command{
	Use:   "restore [story-id] [fragment-id]",
	Short: "Restore an archived fragment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.RestoreFragment(args[0], args[1])
			return err
		})
	},
}

var fragmentsDeleteCmd = &cobra.Command{
	Use:   "delete [story-id] [fragment-id]",
	Short: "Delete a fragment permanently",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			return e.Store.DeleteFragment(args[0], args[1])
		})
	},
}

var fragmentsTagCmd = &cobra.Command{
	Use:   "tag [story-id] [fragment-id] [tag]",
	Short: "Add a tag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.AddTag(args[0], args[1], args[2])
			return err
		})
	},
}

var fragmentsUntagCmd = &cobra.Command{
	Use:   "untag [story-id] [fragment-id] [tag]",
	Short: "Remove a tag",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.RemoveTag(args[0], args[1], args[2])
			return err
		})
	},
}

var fragmentsRefCmd = &cobra.Command{
	Use:   "ref [story-id] [from-id] [to-id]",
	Short: "Add a reference between fragments",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.AddRef(args[0], args[1], args[2])
			return err
		})
	},
}

var fragmentsUnrefCmd = &cobra.Command{
	Use:   "unref [story-id] [from-id] [to-id]",
	Short: "Remove a reference",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			_, err := e.Store.RemoveRef(args[0], args[1], args[2])
			return err
		})
	},
}

var versionsCmd = &cobra.Command{
	Use:   "versions",
	Short: "Inspect and revert fragment version history",
}

var versionsListCmd = &cobra.Command{
	Use:   "list [story-id] [fragment-id]",
	Short: "List recorded versions of a fragment",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			versions, err := e.Store.ListVersions(args[0], args[1])
			if err != nil {
				return err
			}
			t := newTable()
			t.AppendHeader(table.Row{"Version", "Name", "Reason", "Created"})
			for _, v := range versions {
				t.AppendRow(table.Row{v.Version, v.Name, v.Reason, humanize.Time(v.CreatedAt)})
			}
			t.Render()
			return nil
		})
	},
}

var versionsShowCmd = &cobra.Command{
	Use:   "show [story-id] [fragment-id] [version]",
	Short: "Show one version, optionally as a diff against another",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			version, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("version must be a number: %w", err)
			}
			snap, err := e.Store.GetVersion(args[0], args[1], version)
			if err != nil {
				return err
			}
			if diffAgainst == 0 {
				fmt.Printf("Version %d (%s)\n\n%s\n", snap.Version, snap.Reason, snap.Content)
				return nil
			}
			base, err := e.Store.GetVersion(args[0], args[1], diffAgainst)
			if err != nil {
				return err
			}
			r := diff.Versions(base, snap)
			fmt.Printf("v%d -> v%d (+%d -%d)\n%s", base.Version, snap.Version, r.Added, r.Removed, diff.Render(r))
			return nil
		})
	},
}

var versionsRevertCmd = &cobra.Command{
	Use:   "revert [story-id] [fragment-id] [version]",
	Short: "Revert a fragment to an earlier version",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(func(e *engine.Engine) error {
			version, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("version must be a number: %w", err)
			}
			f, err := e.Store.RevertToVersion(args[0], args[1], version)
			if err != nil {
				return err
			}
			fmt.Printf("Reverted %s to version %d (now version %d)\n", f.ID, version, f.Version)
			return nil
		})
	},
}

// readContent resolves the fragment body from --content, --content-file,
// or stdin when the file argument is "-".
func readContent() (string, error) {
	if fragContentFile == "" {
		return fragContent, nil
	}
	if fragContentFile == "-" {
		data, err := io.ReadAll(os.Stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	data, err := os.ReadFile(fragContentFile)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func init() {
	fragmentsListCmd.Flags().StringVar(&fragType, "type", "", "Filter by fragment type")
	fragmentsListCmd.Flags().BoolVar(&includeArchived, "archived", false, "Include archived fragments")
	fragmentsShowCmd.Flags().BoolVar(&showContent, "content", false, "Print content even when empty")
	fragmentsCreateCmd.Flags().StringVar(&fragType, "type", "knowledge", "Fragment type")
	fragmentsCreateCmd.Flags().StringVar(&fragName, "name", "", "Fragment name")
	fragmentsCreateCmd.Flags().StringVar(&fragDesc, "description", "", "Fragment description")
	fragmentsCreateCmd.Flags().StringVar(&fragContent, "content", "", "Fragment content")
	fragmentsCreateCmd.Flags().StringVar(&fragContentFile, "content-file", "", "Read content from a file (- for stdin)")
	fragmentsCreateCmd.Flags().StringSliceVar(&fragTags, "tag", nil, "Tags (repeatable)")
	fragmentsEditCmd.Flags().StringVar(&fragName, "name", "", "New name")
	fragmentsEditCmd.Flags().StringVar(&fragDesc, "description", "", "New description")
	fragmentsEditCmd.Flags().StringVar(&fragContent, "content", "", "New content")
	fragmentsEditCmd.Flags().StringVar(&fragContentFile, "content-file", "", "Read new content from a file (- for stdin)")
	versionsShowCmd.Flags().IntVar(&diffAgainst, "diff", 0, "Diff against this version")

	fragmentsCmd.AddCommand(
		fragmentsListCmd, fragmentsShowCmd, fragmentsCreateCmd, fragmentsEditCmd,
		fragmentsArchiveCmd, fragmentsRestoreCmd, fragmentsDeleteCmd,
		fragmentsTagCmd, fragmentsUntagCmd, fragmentsRefCmd, fragmentsUnrefCmd,
	)
	versionsCmd.AddCommand(versionsListCmd, versionsShowCmd, versionsRevertCmd)
}
