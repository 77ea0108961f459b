package main

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"facet/internal/api"
	"facet/internal/client"
)

func newOverlapCommand(ctx *commandContext) *cobra.Command {
	overlapCmd := &cobra.Command{
		Use:   "overlap",
		Short: "Review annotator disagreements",
	}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List unresolved overlap disagreements",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				overlaps, err := c.UnresolvedOverlaps(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(overlaps) == 0 {
					fmt.Fprintln(stdout, "No unresolved overlaps")
					return nil
				}
				rows := make([][]string, 0, len(overlaps))
				for _, overlap := range overlaps {
					rows = append(rows, []string{
						formatID(overlap.ID),
						formatID(overlap.ProductID),
						formatID(overlap.AttributeID),
						fmt.Sprintf("%d", len(overlap.AnnotationIDs)),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Product", "Attribute", "Annotations"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	var resolvedBy int64
	resolveCmd := &cobra.Command{
		Use:   "resolve ID VALUE",
		Short: "Record the resolved value for a disagreement",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				overlap, err := c.ResolveOverlap(cmd.Context(), id, args[1], optionalID(resolvedBy))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Resolved overlap %d with value %q\n", overlap.ID, overlap.ResolvedValue)
				return nil
			})
		},
	}
	resolveCmd.Flags().Int64Var(&resolvedBy, "resolved-by", 0, "Annotator id recording the resolution")

	overlapCmd.AddCommand(listCmd, resolveCmd)
	return overlapCmd
}

func newFlagCommand(ctx *commandContext) *cobra.Command {
	flagCmd := &cobra.Command{
		Use:   "flag",
		Short: "Manage missing-value vocabulary requests",
	}

	var addInput api.FlagInput
	var addItem int64
	addCmd := &cobra.Command{
		Use:   "add PRODUCT_ID ATTRIBUTE_ID VALUE",
		Short: "Request a value be added to an attribute vocabulary",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			productID, err := parseID(args[0])
			if err != nil {
				return err
			}
			attributeID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				addInput.ProductID = productID
				addInput.AttributeID = attributeID
				addInput.RequestedValue = args[2]
				addInput.BatchItemID = optionalID(addItem)
				flag, err := c.RequestMissingValue(cmd.Context(), addInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Filed flag %d for value %q\n", flag.ID, flag.RequestedValue)
				return nil
			})
		},
	}
	addCmd.Flags().Int64Var(&addInput.AnnotatorID, "annotator", 0, "Annotator id filing the request")
	addCmd.Flags().Int64Var(&addItem, "item", 0, "Batch item the request came from")
	addCmd.Flags().StringVar(&addInput.Reason, "reason", "", "Why the vocabulary is missing this value")
	_ = addCmd.MarkFlagRequired("annotator")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List pending vocabulary requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				flags, err := c.PendingFlags(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(flags) == 0 {
					fmt.Fprintln(stdout, "No pending flags")
					return nil
				}
				rows := make([][]string, 0, len(flags))
				for _, flag := range flags {
					rows = append(rows, []string{
						formatID(flag.ID),
						formatID(flag.ProductID),
						formatID(flag.AttributeID),
						flag.RequestedValue,
						dash(flag.Reason),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Product", "Attribute", "Value", "Reason"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignRight, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	var reviewApprove bool
	var reviewReject bool
	var reviewedBy int64
	var reviewNote string
	reviewCmd := &cobra.Command{
		Use:   "review ID",
		Short: "Approve or reject a vocabulary request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if reviewApprove == reviewReject {
				return fmt.Errorf("exactly one of --approve or --reject is required")
			}
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				flag, err := c.ReviewFlag(cmd.Context(), id, reviewApprove, optionalID(reviewedBy), reviewNote)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if reviewApprove {
					fmt.Fprintf(stdout, "Approved flag %d; %q added to the vocabulary\n", flag.ID, flag.RequestedValue)
				} else {
					fmt.Fprintf(stdout, "Rejected flag %d\n", flag.ID)
				}
				return nil
			})
		},
	}
	reviewCmd.Flags().BoolVar(&reviewApprove, "approve", false, "Approve the request and extend the vocabulary")
	reviewCmd.Flags().BoolVar(&reviewReject, "reject", false, "Reject the request")
	reviewCmd.Flags().Int64Var(&reviewedBy, "reviewed-by", 0, "Annotator id reviewing the request")
	reviewCmd.Flags().StringVar(&reviewNote, "note", "", "Resolution note")

	flagCmd.AddCommand(addCmd, listCmd, reviewCmd)
	return flagCmd
}

func newFinalizeCommand(ctx *commandContext) *cobra.Command {
	var decidedBy int64

	finalizeCmd := &cobra.Command{
		Use:   "finalize",
		Short: "Finalize every reviewed product",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				report, err := c.FinalizeAllReviewed(cmd.Context(), optionalID(decidedBy))
				if err != nil {
					return err
				}
				printFinalizeReport(cmd, report)
				return nil
			})
		},
	}
	finalizeCmd.Flags().Int64Var(&decidedBy, "decided-by", 0, "Annotator id recorded as the decider")
	return finalizeCmd
}

func printFinalizeReport(cmd *cobra.Command, report api.FinalizeReport) {
	stdout := cmd.OutOrStdout()
	fmt.Fprintf(stdout, "Finalized %d products\n", report.Finalized)
	if len(report.Failures) == 0 {
		return
	}

	ids := make([]int64, 0, len(report.Failures))
	for id := range report.Failures {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		fmt.Fprintf(stdout, "Product %d skipped: %s\n", id, report.Failures[id])
	}
}

func newProcessingCommand(ctx *commandContext) *cobra.Command {
	processingCmd := &cobra.Command{
		Use:   "processing",
		Short: "Control the AI processing loop",
	}

	var pausedBy int64
	pauseCmd := &cobra.Command{
		Use:   "pause",
		Short: "Pause AI batch processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				if _, err := c.PauseProcessing(cmd.Context(), optionalID(pausedBy)); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "AI processing paused")
				return nil
			})
		},
	}
	pauseCmd.Flags().Int64Var(&pausedBy, "paused-by", 0, "Annotator id pausing processing")

	resumeCmd := &cobra.Command{
		Use:   "resume",
		Short: "Resume AI batch processing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				if _, err := c.ResumeProcessing(cmd.Context()); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "AI processing resumed")
				return nil
			})
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show processing state and product counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				status, err := c.ProcessingStatus(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				if status.Paused {
					detail := "Paused"
					if status.PausedAt != "" {
						detail = fmt.Sprintf("Paused since %s", status.PausedAt)
					}
					fmt.Fprintln(stdout, renderStatusLine("AI Processing", statusWarn, detail, colorize))
				} else {
					fmt.Fprintln(stdout, renderStatusLine("AI Processing", statusOK, "Active", colorize))
				}
				rows := buildStatusCountRows(status.ProductsByStatus)
				if len(rows) > 0 {
					fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
				}
				return nil
			})
		},
	}

	processingCmd.AddCommand(pauseCmd, resumeCmd, statusCmd)
	return processingCmd
}
