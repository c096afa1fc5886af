package main

import (
	"fmt"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"pensa/internal/domain"
)

func depCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "dep",
		Short: "Manage blocking dependencies",
	}
	cmd.AddCommand(depAddCmd(), depRemoveCmd(), depListCmd(), depTreeCmd(), depCyclesCmd())
	return cmd
}

func depAddCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "add <issue> <blocker>",
		Short: "Record that <issue> waits for <blocker>",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().AddDep(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func() { fmt.Printf("%s now depends on %s\n", res.IssueID, res.DependsOnID) })
		},
	}
}

func depRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "remove <issue> <blocker>",
		Aliases: []string{"rm"},
		Short:   "Remove a dependency",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().RemoveDep(cmd.Context(), args[0], args[1])
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func() { fmt.Printf("%s no longer depends on %s\n", res.IssueID, res.DependsOnID) })
		},
	}
}

func depListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list <issue>",
		Short: "List the direct blockers of an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListDeps(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderIssues(items) })
		},
	}
}

func depTreeCmd() *cobra.Command {
	var direction string
	cmd := &cobra.Command{
		Use:   "tree <issue>",
		Short: "Walk the dependency graph from an issue",
		Long:  "down lists the issues waiting on <issue>; up lists what <issue> waits on.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, err := domain.ParseDirection(direction)
			if err != nil {
				return err
			}
			nodes, err := client().DepTree(cmd.Context(), args[0], string(dir))
			if err != nil {
				return err
			}
			return printJSONOrTable(nodes, func() { renderTree(nodes) })
		},
	}
	cmd.Flags().StringVar(&direction, "direction", string(domain.DirectionDown), "up or down")
	return cmd
}

func depCyclesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "cycles",
		Short: "Report dependency cycles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cycles, err := client().DetectCycles(cmd.Context())
			if err != nil {
				return err
			}
			if cycles == nil {
				cycles = [][]string{}
			}
			return printJSONOrTable(map[string]any{"cycles": cycles}, func() {
				if len(cycles) == 0 {
					color.Green("no cycles")
					return
				}
				for _, c := range cycles {
					color.Red("%s", strings.Join(c, " -> "))
				}
			})
		},
	}
}

func commentCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "comment",
		Short: "Add or list issue comments",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "add <issue> <text>",
		Short: "Comment on an issue",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := client().AddComment(cmd.Context(), args[0], strings.Join(args[1:], " "))
			if err != nil {
				return err
			}
			return printJSONOrTable(c, func() { fmt.Printf("Commented on %s\n", c.IssueID) })
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "list <issue>",
		Short: "List comments, oldest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListComments(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderComments(items) })
		},
	})
	return cmd
}

func exportCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "export",
		Short: "Write the store to .pensa/*.jsonl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Export(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func() {
				fmt.Printf("Exported %d issues, %d deps, %d comments\n", res.Issues, res.Deps, res.Comments)
			})
		},
	}
}

func importCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import",
		Short: "Replace the store with .pensa/*.jsonl",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().Import(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func() {
				fmt.Printf("Imported %d issues, %d deps, %d comments\n", res.Issues, res.Deps, res.Comments)
			})
		},
	}
}

func doctorCmd() *cobra.Command {
	var fix bool
	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Find claimed issues and orphan dependencies",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			report, err := client().Doctor(cmd.Context(), fix)
			if err != nil {
				return err
			}
			return printJSONOrTable(report, func() { renderDoctor(report) })
		},
	}
	cmd.Flags().BoolVar(&fix, "fix", false, "release claims and delete orphan dependencies")
	return cmd
}
