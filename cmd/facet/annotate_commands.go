package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facet/internal/api"
	"facet/internal/client"
)

func newItemCommand(ctx *commandContext) *cobra.Command {
	itemCmd := &cobra.Command{
		Use:   "item",
		Short: "Work on batch items",
	}

	var startAnnotator int64
	startCmd := &cobra.Command{
		Use:   "start ID",
		Short: "Mark a batch item in progress",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				item, err := c.StartItem(cmd.Context(), id, optionalID(startAnnotator))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Started item %d (product %d)\n", item.ID, item.ProductID)
				return nil
			})
		},
	}
	startCmd.Flags().Int64Var(&startAnnotator, "annotator", 0, "Annotator id working the item")

	var completeAnnotator int64
	completeCmd := &cobra.Command{
		Use:   "complete ID",
		Short: "Mark a batch item done",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				item, err := c.CompleteItem(cmd.Context(), id, optionalID(completeAnnotator))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Completed item %d (product %d)\n", item.ID, item.ProductID)
				return nil
			})
		},
	}
	completeCmd.Flags().Int64Var(&completeAnnotator, "annotator", 0, "Annotator id working the item")

	itemCmd.AddCommand(startCmd, completeCmd)
	return itemCmd
}

func newAnnotateCommand(ctx *commandContext) *cobra.Command {
	var input api.AnnotationInput
	var batchItemID int64

	annotateCmd := &cobra.Command{
		Use:   "annotate PRODUCT_ID ATTRIBUTE_ID VALUE",
		Short: "Submit an annotation for a product attribute",
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
				input.ProductID = productID
				input.AttributeID = attributeID
				input.Value = args[2]
				input.BatchItemID = optionalID(batchItemID)
				annotation, err := c.SubmitAnnotation(cmd.Context(), input)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Recorded annotation %d (%s)\n", annotation.ID, annotation.Value)
				if annotation.IsCorrection {
					fmt.Fprintf(stdout, "Corrects AI consensus value %q\n", annotation.PreviousValue)
				}
				return nil
			})
		},
	}
	annotateCmd.Flags().Int64Var(&input.AnnotatorID, "annotator", 0, "Annotator id submitting the value")
	annotateCmd.Flags().Int64Var(&batchItemID, "item", 0, "Batch item the annotation belongs to")
	annotateCmd.Flags().StringVar(&input.Note, "note", "", "Optional note")
	_ = annotateCmd.MarkFlagRequired("annotator")

	return annotateCmd
}
