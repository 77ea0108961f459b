package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"facet/internal/api"
	"facet/internal/client"
)

func newProductCommand(ctx *commandContext) *cobra.Command {
	productCmd := &cobra.Command{
		Use:   "product",
		Short: "Manage catalog products",
	}

	var addInput api.ProductInput
	var addImageURLs string
	var addPrice float64
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register a new product",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				addInput.Name = args[0]
				if addImageURLs != "" {
					addInput.ImageURLs = splitCommaList(addImageURLs)
				}
				if cmd.Flags().Changed("price") {
					addInput.Price = &addPrice
				}
				product, err := c.CreateProduct(cmd.Context(), addInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created product %d (%s)\n", product.ID, product.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addInput.ExternalSKU, "sku", "", "External SKU")
	addCmd.Flags().StringVar(&addInput.Description, "description", "", "Product description")
	addCmd.Flags().StringVar(&addInput.Category, "category", "", "Product category")
	addCmd.Flags().StringVar(&addInput.Subcategory, "subcategory", "", "Product subcategory")
	addCmd.Flags().StringVar(&addImageURLs, "images", "", "Comma-separated image URLs")
	addCmd.Flags().Float64Var(&addPrice, "price", 0, "Product price")

	var listStatus string
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List products",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				products, err := c.Products(cmd.Context(), listStatus)
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(products) == 0 {
					fmt.Fprintln(stdout, "No products found")
					return nil
				}
				rows := make([][]string, 0, len(products))
				for _, product := range products {
					rows = append(rows, []string{
						formatID(product.ID),
						dash(product.ExternalSKU),
						product.Name,
						dash(product.Category),
						displayStatus(product.Status),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "SKU", "Name", "Category", "Status"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "Filter by workflow status")

	showCmd := &cobra.Command{
		Use:   "show ID",
		Short: "Show a product with its labeling state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				detail, err := c.ProductDetail(cmd.Context(), id)
				if err != nil {
					return err
				}
				renderProductDetail(cmd, detail)
				return nil
			})
		},
	}

	var updateInput api.ProductInput
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update a product's descriptive fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				product, err := c.UpdateProduct(cmd.Context(), id, updateInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated product %d\n", product.ID)
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&updateInput.Name, "name", "", "Product name")
	updateCmd.Flags().StringVar(&updateInput.Description, "description", "", "Product description")
	updateCmd.Flags().StringVar(&updateInput.Category, "category", "", "Product category")
	updateCmd.Flags().StringVar(&updateInput.Subcategory, "subcategory", "", "Product subcategory")

	var finalizeDecidedBy int64
	finalizeCmd := &cobra.Command{
		Use:   "finalize ID",
		Short: "Resolve a reviewed product into final attribute values",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				finals, err := c.FinalizeProduct(cmd.Context(), id, optionalID(finalizeDecidedBy))
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Finalized product %d with %d attribute values\n", id, len(finals))
				return nil
			})
		},
	}
	finalizeCmd.Flags().Int64Var(&finalizeDecidedBy, "decided-by", 0, "Annotator id recorded as the decider")

	productCmd.AddCommand(addCmd, listCmd, showCmd, updateCmd, finalizeCmd)
	return productCmd
}

func renderProductDetail(cmd *cobra.Command, detail api.ProductDetail) {
	stdout := cmd.OutOrStdout()
	colorize := shouldColorize(stdout)
	product := detail.Product

	for _, line := range renderSectionHeader(fmt.Sprintf("Product %d", product.ID), colorize) {
		fmt.Fprintln(stdout, line)
	}
	fmt.Fprintln(stdout, renderStatusLine("Name", statusInfo, product.Name, colorize))
	fmt.Fprintln(stdout, renderStatusLine("SKU", statusInfo, dash(product.ExternalSKU), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Category", statusInfo, dash(product.Category), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Status", statusInfo, displayStatus(product.Status), colorize))
	fmt.Fprintln(stdout)

	if len(detail.Suggestions) > 0 {
		rows := make([][]string, 0, len(detail.Suggestions))
		for _, suggestion := range detail.Suggestions {
			rows = append(rows, []string{
				formatID(suggestion.AttributeID),
				formatID(suggestion.ProviderID),
				suggestion.Value,
				formatConfidence(suggestion.Confidence),
			})
		}
		fmt.Fprintln(stdout, "AI Suggestions")
		fmt.Fprintln(stdout, renderTable(
			[]string{"Attribute", "Provider", "Value", "Confidence"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignRight},
		))
	}

	if len(detail.Consensus) > 0 {
		rows := make([][]string, 0, len(detail.Consensus))
		for _, consensus := range detail.Consensus {
			rows = append(rows, []string{
				formatID(consensus.AttributeID),
				consensus.Value,
				consensus.Method,
				formatConfidence(consensus.Confidence),
				fmt.Sprintf("v%d", consensus.Version),
			})
		}
		fmt.Fprintln(stdout, "AI Consensus")
		fmt.Fprintln(stdout, renderTable(
			[]string{"Attribute", "Value", "Method", "Confidence", "Version"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}

	if len(detail.Annotations) > 0 {
		rows := make([][]string, 0, len(detail.Annotations))
		for _, annotation := range detail.Annotations {
			rows = append(rows, []string{
				formatID(annotation.AttributeID),
				formatID(annotation.AnnotatorID),
				annotation.Value,
				displayStatus(annotation.Status),
				yesNo(annotation.IsCorrection),
			})
		}
		fmt.Fprintln(stdout, "Annotations")
		fmt.Fprintln(stdout, renderTable(
			[]string{"Attribute", "Annotator", "Value", "Status", "Correction"},
			rows,
			[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignLeft},
		))
	}

	if len(detail.Finals) > 0 {
		rows := make([][]string, 0, len(detail.Finals))
		for _, final := range detail.Finals {
			rows = append(rows, []string{
				formatID(final.AttributeID),
				final.Value,
				displayStatus(final.Source),
				formatConfidence(final.Confidence),
				fmt.Sprintf("v%d", final.Version),
			})
		}
		fmt.Fprintln(stdout, "Final Values")
		fmt.Fprintln(stdout, renderTable(
			[]string{"Attribute", "Value", "Source", "Confidence", "Version"},
			rows,
			[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft},
		))
	}
}
