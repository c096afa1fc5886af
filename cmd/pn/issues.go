package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	pensasdk "pensa/sdk/go"
)

func createCmd() *cobra.Command {
	var in pensasdk.CreateIssueInput
	cmd := &cobra.Command{
		Use:   "create <title>",
		Short: "Create an issue",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Title = strings.Join(args, " ")
			it, err := client().CreateIssue(cmd.Context(), in)
			if err != nil {
				return err
			}
			return printJSONOrTable(it, func() { fmt.Printf("Created %s %s\n", it.ID, it.Title) })
		},
	}
	cmd.Flags().StringVarP(&in.IssueType, "type", "t", "", "issue type (bug, task, test, chore)")
	cmd.Flags().StringVarP(&in.Priority, "priority", "p", "", "priority (p0-p3, default p2)")
	cmd.Flags().StringVarP(&in.Description, "description", "d", "", "description")
	cmd.Flags().StringVar(&in.Spec, "spec", "", "spec the issue belongs to")
	cmd.Flags().StringVar(&in.Fixes, "fixes", "", "id of the bug this issue fixes")
	cmd.Flags().StringVar(&in.Assignee, "assignee", "", "assignee")
	cmd.Flags().StringSliceVar(&in.Deps, "dep", nil, "id of a blocking issue (repeatable)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}

func showCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show an issue with its blockers and comments",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			d, err := client().GetIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(d, func() { renderDetail(d) })
		},
	}
}

func updateCmd() *cobra.Command {
	var title, description, priority, assignee, spec, fixes string
	var claim, unclaim bool
	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Update issue fields; an empty value clears an optional field",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in := pensasdk.UpdateIssueInput{Claim: claim, Unclaim: unclaim}
			set := func(name string, v string) *string {
				if !cmd.Flags().Changed(name) {
					return nil
				}
				return &v
			}
			in.Title = set("title", title)
			in.Description = set("description", description)
			in.Priority = set("priority", priority)
			in.Assignee = set("assignee", assignee)
			in.Spec = set("spec", spec)
			in.Fixes = set("fixes", fixes)
			it, err := client().UpdateIssue(cmd.Context(), args[0], in)
			if err != nil {
				return err
			}
			return printJSONOrTable(it, func() { renderIssue(it) })
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title")
	cmd.Flags().StringVarP(&description, "description", "d", "", "description")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "priority (p0-p3)")
	cmd.Flags().StringVar(&assignee, "assignee", "", "assignee")
	cmd.Flags().StringVar(&spec, "spec", "", "spec")
	cmd.Flags().StringVar(&fixes, "fixes", "", "id of the bug this issue fixes")
	cmd.Flags().BoolVar(&claim, "claim", false, "claim the issue")
	cmd.Flags().BoolVar(&unclaim, "unclaim", false, "release the issue")
	cmd.MarkFlagsMutuallyExclusive("claim", "unclaim")
	return cmd
}

func claimCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "claim <id>",
		Short: "Claim an open issue for the current actor",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := client().ClaimIssue(cmd.Context(), args[0])
			if err != nil {
				if pensasdk.IsAlreadyClaimed(err) {
					return fmt.Errorf("%s is already claimed by %s", args[0], pensasdk.Holder(err))
				}
				return err
			}
			return printJSONOrTable(it, func() { fmt.Printf("Claimed %s for %s\n", it.ID, deref(it.Assignee)) })
		},
	}
}

func releaseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "release <id>",
		Short: "Release a claimed issue back to open",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := client().ReleaseIssue(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(it, func() { fmt.Printf("Released %s\n", it.ID) })
		},
	}
}

func closeCmd() *cobra.Command {
	var reason string
	var force bool
	cmd := &cobra.Command{
		Use:   "close <id>",
		Short: "Close an issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := client().CloseIssue(cmd.Context(), args[0], reason, force)
			if err != nil {
				return err
			}
			return printJSONOrTable(it, func() { fmt.Printf("Closed %s\n", it.ID) })
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "close reason")
	cmd.Flags().BoolVar(&force, "force", false, "close again even if already closed")
	return cmd
}

func reopenCmd() *cobra.Command {
	var reason string
	cmd := &cobra.Command{
		Use:   "reopen <id>",
		Short: "Reopen a closed issue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			it, err := client().ReopenIssue(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			return printJSONOrTable(it, func() { fmt.Printf("Reopened %s\n", it.ID) })
		},
	}
	cmd.Flags().StringVarP(&reason, "reason", "r", "", "reopen reason")
	return cmd
}

func deleteCmd() *cobra.Command {
	var force bool
	cmd := &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an issue",
		Long:  "Deletes an issue. --force is required when other issues depend on it or it has comments.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := client().DeleteIssue(cmd.Context(), args[0], force); err != nil {
				return err
			}
			return printJSONOrTable(map[string]string{"status": "deleted", "id": args[0]}, func() { fmt.Printf("Deleted %s\n", args[0]) })
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "delete along with edges and comments")
	return cmd
}

func addFilterFlags(cmd *cobra.Command, opts *pensasdk.ListOptions, withStatus bool) {
	if withStatus {
		cmd.Flags().StringVar(&opts.Status, "status", "", "filter by status")
	}
	cmd.Flags().StringVarP(&opts.Priority, "priority", "p", "", "filter by priority")
	cmd.Flags().StringVar(&opts.Assignee, "assignee", "", "filter by assignee")
	cmd.Flags().StringVarP(&opts.Type, "type", "t", "", "filter by issue type")
	cmd.Flags().StringVar(&opts.Spec, "spec", "", "filter by spec")
	cmd.Flags().StringVar(&opts.Sort, "sort", "", "sort by priority, created, updated, status or title")
	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "maximum rows")
}

func listCmd() *cobra.Command {
	var opts pensasdk.ListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List issues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ListIssues(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderIssues(items) })
		},
	}
	addFilterFlags(cmd, &opts, true)
	return cmd
}

func readyCmd() *cobra.Command {
	var opts pensasdk.ListOptions
	cmd := &cobra.Command{
		Use:   "ready",
		Short: "List open work with no open blockers",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().ReadyIssues(cmd.Context(), opts)
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderIssues(items) })
		},
	}
	addFilterFlags(cmd, &opts, false)
	return cmd
}

func blockedCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "blocked",
		Short: "List issues waiting on an open blocker",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().BlockedIssues(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderIssues(items) })
		},
	}
}

func searchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "search <text>",
		Short: "Search titles and descriptions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			items, err := client().SearchIssues(cmd.Context(), strings.Join(args, " "))
			if err != nil {
				return err
			}
			return printJSONOrTable(items, func() { renderIssues(items) })
		},
	}
}

func countCmd() *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "count",
		Short: "Count issues, optionally grouped",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			res, err := client().CountIssues(cmd.Context(), by)
			if err != nil {
				return err
			}
			return printJSONOrTable(res, func() { renderCount(res) })
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "group by status, priority, issue_type or assignee")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show open, in-progress and closed counts per issue type",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, err := client().Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSONOrTable(rows, func() { renderStatus(rows) })
		},
	}
}

func historyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "history <id>",
		Short: "Show the audit trail of an issue, newest first",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			events, err := client().History(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSONOrTable(events, func() { renderEvents(events) })
		},
	}
}
