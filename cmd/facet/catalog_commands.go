package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"facet/internal/api"
	"facet/internal/client"
)

func newAttributeCommand(ctx *commandContext) *cobra.Command {
	attributeCmd := &cobra.Command{
		Use:   "attribute",
		Short: "Manage labelable attributes",
	}

	var dataType string
	var allowedValues string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register an attribute",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				attribute, err := c.CreateAttribute(cmd.Context(), api.AttributeInput{
					Name:          args[0],
					DataType:      dataType,
					AllowedValues: splitCommaList(allowedValues),
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created attribute %d (%s)\n", attribute.ID, attribute.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&dataType, "type", "categorical", "Data type (categorical, boolean, numeric, text)")
	addCmd.Flags().StringVar(&allowedValues, "values", "", "Comma-separated closed vocabulary")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List attributes",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				attributes, err := c.Attributes(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(attributes) == 0 {
					fmt.Fprintln(stdout, "No attributes defined")
					return nil
				}
				rows := make([][]string, 0, len(attributes))
				for _, attribute := range attributes {
					rows = append(rows, []string{
						formatID(attribute.ID),
						attribute.Name,
						attribute.DataType,
						dash(strings.Join(attribute.AllowedValues, ", ")),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Type", "Allowed Values"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	attributeCmd.AddCommand(addCmd, listCmd)
	return attributeCmd
}

func newMappingCommand(ctx *commandContext) *cobra.Command {
	var subcategory string
	var required bool

	mappingCmd := &cobra.Command{
		Use:   "mapping",
		Short: "Map attributes onto product categories",
	}

	addCmd := &cobra.Command{
		Use:   "add CATEGORY ATTRIBUTE_ID",
		Short: "Bind an attribute to a category",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attributeID, err := parseID(args[1])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				mapping, err := c.CreateMapping(cmd.Context(), args[0], subcategory, attributeID, required)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created mapping %d (%s -> attribute %d)\n", mapping.ID, mapping.Category, mapping.AttributeID)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&subcategory, "subcategory", "", "Restrict the mapping to a subcategory")
	addCmd.Flags().BoolVar(&required, "required", false, "Mark the attribute required for finalization")

	mappingCmd.AddCommand(addCmd)
	return mappingCmd
}

func newProviderCommand(ctx *commandContext) *cobra.Command {
	providerCmd := &cobra.Command{
		Use:   "provider",
		Short: "Manage AI providers",
	}

	var addInput api.ProviderInput
	var addAPIKey string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register an AI provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				addInput.Name = args[0]
				if addAPIKey != "" {
					addInput.Config = map[string]any{"api_key": addAPIKey}
				}
				provider, err := c.CreateProvider(cmd.Context(), addInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created provider %d (%s)\n", provider.ID, provider.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&addInput.ServiceName, "service", "", "Backing service name")
	addCmd.Flags().StringVar(&addInput.Model, "model", "", "Model identifier")
	addCmd.Flags().StringVar(&addAPIKey, "api-key", "", "API key (stored, masked on reads)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List AI providers",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				providers, err := c.Providers(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(providers) == 0 {
					fmt.Fprintln(stdout, "No providers configured")
					return nil
				}
				rows := make([][]string, 0, len(providers))
				for _, provider := range providers {
					rows = append(rows, []string{
						formatID(provider.ID),
						provider.Name,
						dash(provider.ServiceName),
						dash(provider.Model),
						yesNo(provider.IsActive),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Service", "Model", "Active"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignLeft},
				))
				return nil
			})
		},
	}

	var updateInput api.ProviderInput
	var updateAPIKey string
	var updateActive bool
	updateCmd := &cobra.Command{
		Use:   "update ID",
		Short: "Update an AI provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				if updateAPIKey != "" {
					updateInput.Config = map[string]any{"api_key": updateAPIKey}
				}
				if cmd.Flags().Changed("active") {
					updateInput.IsActive = &updateActive
				}
				provider, err := c.UpdateProvider(cmd.Context(), id, updateInput)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Updated provider %d\n", provider.ID)
				return nil
			})
		},
	}
	updateCmd.Flags().StringVar(&updateInput.Name, "name", "", "Provider name")
	updateCmd.Flags().StringVar(&updateInput.ServiceName, "service", "", "Backing service name")
	updateCmd.Flags().StringVar(&updateInput.Model, "model", "", "Model identifier")
	updateCmd.Flags().StringVar(&updateAPIKey, "api-key", "", "Replace the stored API key")
	updateCmd.Flags().BoolVar(&updateActive, "active", true, "Whether the provider participates in processing")

	providerCmd.AddCommand(addCmd, listCmd, updateCmd)
	return providerCmd
}

func newAnnotatorCommand(ctx *commandContext) *cobra.Command {
	annotatorCmd := &cobra.Command{
		Use:   "annotator",
		Short: "Manage annotators",
	}

	var role string
	addCmd := &cobra.Command{
		Use:   "add NAME",
		Short: "Register an annotator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				annotator, err := c.CreateAnnotator(cmd.Context(), args[0], role)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created annotator %d (%s)\n", annotator.ID, annotator.Name)
				return nil
			})
		},
	}
	addCmd.Flags().StringVar(&role, "role", "annotator", "Role (annotator or admin)")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List annotators with their open batch counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				annotators, err := c.Annotators(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(annotators) == 0 {
					fmt.Fprintln(stdout, "No annotators registered")
					return nil
				}
				rows := make([][]string, 0, len(annotators))
				for _, annotator := range annotators {
					rows = append(rows, []string{
						formatID(annotator.ID),
						annotator.Name,
						annotator.Role,
						yesNo(annotator.IsActive),
						fmt.Sprintf("%d", annotator.OpenBatches),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Role", "Active", "Open Batches"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}

	statsCmd := &cobra.Command{
		Use:   "stats",
		Short: "Show per-annotator throughput and agreement",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				stats, err := c.AnnotatorStats(cmd.Context())
				if err != nil {
					return err
				}
				stdout := cmd.OutOrStdout()
				if len(stats) == 0 {
					fmt.Fprintln(stdout, "No annotators registered")
					return nil
				}
				rows := make([][]string, 0, len(stats))
				for _, stat := range stats {
					rows = append(rows, []string{
						formatID(stat.Annotator.ID),
						stat.Annotator.Name,
						fmt.Sprintf("%d", stat.CompletedItems),
						fmt.Sprintf("%d", stat.Annotations),
						fmt.Sprintf("%d", stat.Corrections),
						fmt.Sprintf("%.0f%%", stat.AgreementRate*100),
						fmt.Sprintf("%.1f", stat.ItemsPerHour),
					})
				}
				fmt.Fprintln(stdout, renderTable(
					[]string{"ID", "Name", "Items", "Annotations", "Corrections", "Agreement", "Items/Hour"},
					rows,
					[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight, alignRight, alignRight},
				))
				return nil
			})
		},
	}

	annotatorCmd.AddCommand(addCmd, listCmd, statsCmd)
	return annotatorCmd
}
