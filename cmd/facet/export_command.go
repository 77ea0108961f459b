package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"facet/internal/client"
)

func newExportCommand(ctx *commandContext) *cobra.Command {
	var format string
	var outputPath string

	exportCmd := &cobra.Command{
		Use:   "export [PRODUCT_ID...]",
		Short: "Export final attribute values as JSON or CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			productIDs, err := parseIDs(args)
			if err != nil {
				return err
			}

			var out io.Writer = cmd.OutOrStdout()
			if outputPath != "" {
				file, err := os.Create(outputPath)
				if err != nil {
					return fmt.Errorf("create output file: %w", err)
				}
				defer file.Close()
				out = file
			}

			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				switch strings.ToLower(format) {
				case "csv":
					if err := c.ExportFinalsCSV(cmd.Context(), productIDs, out); err != nil {
						return err
					}
				case "json", "":
					records, err := c.ExportFinals(cmd.Context(), productIDs)
					if err != nil {
						return err
					}
					encoder := json.NewEncoder(out)
					encoder.SetIndent("", "  ")
					if err := encoder.Encode(records); err != nil {
						return err
					}
				default:
					return fmt.Errorf("unknown format %q (expected json or csv)", format)
				}
				if outputPath != "" {
					fmt.Fprintf(cmd.OutOrStdout(), "Wrote export to %s\n", outputPath)
				}
				return nil
			})
		},
	}
	exportCmd.Flags().StringVar(&format, "format", "json", "Output format (json or csv)")
	exportCmd.Flags().StringVarP(&outputPath, "out", "o", "", "Write to a file instead of stdout")
	return exportCmd
}

func newSeedCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Populate the demo catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				report, err := c.SeedSampleData(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(),
					"Seeded %d attributes, %d mappings, %d providers, %d annotators, %d products\n",
					report.Attributes, report.Mappings, report.Providers, report.Annotators, report.Products)
				return nil
			})
		},
	}
}
