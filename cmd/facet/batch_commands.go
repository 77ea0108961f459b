package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facet/internal/client"
)

func newBatchCommand(ctx *commandContext) *cobra.Command {
	batchCmd := &cobra.Command{
		Use:   "batch",
		Short: "Manage annotation batches",
	}

	var createType string
	var createSize int
	var createAssignee int64
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Claim pending products into a new batch",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				batch, err := c.CreateBatch(cmd.Context(), createType, createSize, optionalID(createAssignee))
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if batch == nil {
					fmt.Fprintln(stdout, "No pending products to claim")
					return nil
				}
				fmt.Fprintf(stdout, "Created batch %d (%s, %d products)\n", batch.ID, batch.BatchType, batch.BatchSize)
				return nil
			})
		},
	}
	createCmd.Flags().StringVar(&createType, "type", "ai", "Batch type (ai or human)")
	createCmd.Flags().IntVar(&createSize, "size", 0, "Batch size (defaults to the configured size)")
	createCmd.Flags().Int64Var(&createAssignee, "assign-to", 0, "Annotator id for a human batch")

	var autoSize int
	var autoOverlap int
	autoAssignCmd := &cobra.Command{
		Use:   "auto-assign",
		Short: "Claim products and distribute them across annotators with overlap",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				batches, err := c.AutoAssign(cmd.Context(), autoSize, autoOverlap)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(batches) == 0 {
					fmt.Fprintln(stdout, "No pending products to assign")
					return nil
				}
				for _, batch := range batches {
					fmt.Fprintf(stdout, "Created batch %d for annotator %s (%d products)\n",
						batch.ID, formatOptionalID(batch.AssignedTo), batch.BatchSize)
				}
				return nil
			})
		},
	}
	autoAssignCmd.Flags().IntVar(&autoSize, "size", 0, "Batch size (defaults to the configured size)")
	autoAssignCmd.Flags().IntVar(&autoOverlap, "overlap", 0, "Annotators per product (defaults to the configured overlap)")

	var listType string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List batches",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				batches, err := c.Batches(cmd.Context(), listType)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(batches) == 0 {
					fmt.Fprintln(stdout, "No batches found")
					return nil
				}
				rows := make([][]string, 0, len(batches))
				for _, batch := range batches {
					rows = append(rows, []string{
						formatID(batch.ID),
						batch.Name,
						batch.BatchType,
						displayStatus(batch.Status),
						fmt.Sprintf("%.0f%%", batch.Progress),
						formatOptionalID(batch.AssignedTo),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Type", "Status", "Progress", "Assignee"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignRight},
				))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&listType, "type", "", "Filter by batch type (ai or human)")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a batch with its items",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				detail, err := c.BatchDetail(cmd.Context(), id)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				batch := detail.Batch
				for _, line := range renderSectionHeader(fmt.Sprintf("Batch %d", batch.ID), colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Name", statusInfo, batch.Name, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Type", statusInfo, batch.BatchType, colorize))
				fmt.Fprintln(stdout, renderStatusLine("Status", statusInfo, displayStatus(batch.Status), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Progress", statusInfo, fmt.Sprintf("%.0f%%", batch.Progress), colorize))
				fmt.Fprintln(stdout, renderStatusLine("Assignee", statusInfo, formatOptionalID(batch.AssignedTo), colorize))
				fmt.Fprintln(stdout)

				if len(detail.Items) == 0 {
					fmt.Fprintln(stdout, "Batch has no items")
					return nil
				}
				rows := make([][]string, 0, len(detail.Items))
				for _, item := range detail.Items {
					rows = append(rows, []string{
						formatID(item.ID),
						formatID(item.ProductID),
						displayStatus(item.Status),
						formatOptionalID(item.ProcessedBy),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"Item", "Product", "Status", "Processed By"},
					rows,
					[]columnAlignment{alignRight, alignRight, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	assignCmd := &cobra.Command{
		Use:   "assign ID ANNOTATOR_ID [ANNOTATOR_ID...]",
		Short: "Distribute an existing batch across annotators",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			annotatorIDs, err := parseIDs(args[1:])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				batches, err := c.AssignBatch(cmd.Context(), id, annotatorIDs)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				for _, batch := range batches {
					fmt.Fprintf(stdout, "Created batch %d for annotator %s (%d products)\n",
						batch.ID, formatOptionalID(batch.AssignedTo), batch.BatchSize)
				}
				return nil
			})
		},
	}

	approveCmd := &cobra.Command{
		Use:   "approve ID",
		Short: "Approve a completed batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				advanced, err := c.ApproveBatch(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Approved batch %d; %d products advanced to review\n", id, advanced)
				return nil
			})
		},
	}

	rejectCmd := &cobra.Command{
		Use:   "reject ID",
		Short: "Reject a batch and return its products to annotation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				reset, err := c.RejectBatch(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Rejected batch %d; %d products returned to annotation\n", id, reset)
				return nil
			})
		},
	}

	var finalizeDecidedBy int64
	finalizeCmd := &cobra.Command{
		Use:   "finalize ID",
		Short: "Finalize every reviewed product in a batch",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				report, err := c.FinalizeBatch(cmd.Context(), id, optionalID(finalizeDecidedBy))
				if err != nil {
					return err
				}
				printFinalizeReport(cmd, report)
				return nil
			})
		},
	}
	finalizeCmd.Flags().Int64Var(&finalizeDecidedBy, "decided-by", 0, "Annotator id recorded as the decider")

	batchCmd.AddCommand(createCmd, autoAssignCmd, listCmd, showCmd, assignCmd, approveCmd, rejectCmd, finalizeCmd)
	return batchCmd
}
