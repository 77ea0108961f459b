package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"facet/internal/api"
	"facet/internal/client"
)

func newDaemonCommands(ctx *commandContext) []*cobra.Command {
	startCmd := &cobra.Command{
		Use:   "start",
		Short: "Start the facet daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			address := ctx.apiAddress()

			if _, err := client.Connect(cmd.Context(), address); err == nil {
				fmt.Fprintln(stdout, "Daemon already running")
				return nil
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon not running, launching...")
			if err := client.Launch(exe, ctx.configPath()); err != nil {
				return err
			}
			if _, err := client.WaitForAPI(cmd.Context(), address, 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon started")
			return nil
		},
	}

	stopCmd := &cobra.Command{
		Use:   "stop",
		Short: "Stop the facet daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			err := client.StopAndWait(cmd.Context(), ctx.apiAddress(), 10*time.Second)
			if errors.Is(err, client.ErrDaemonNotRunning) {
				fmt.Fprintln(stdout, "Daemon is not running")
				return nil
			}
			if err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon stopped")
			return nil
		},
	}

	restartCmd := &cobra.Command{
		Use:   "restart",
		Short: "Restart the facet daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			address := ctx.apiAddress()

			err := client.StopAndWait(cmd.Context(), address, 10*time.Second)
			if err != nil && !errors.Is(err, client.ErrDaemonNotRunning) {
				return err
			}
			if err == nil {
				fmt.Fprintln(stdout, "Daemon stopped")
			}

			exe, err := daemonExecutable()
			if err != nil {
				return err
			}
			if err := client.Launch(exe, ctx.configPath()); err != nil {
				return err
			}
			if _, err := client.WaitForAPI(cmd.Context(), address, 10*time.Second); err != nil {
				return err
			}
			fmt.Fprintln(stdout, "Daemon restarted")
			return nil
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon and pipeline status",
		RunE: func(cmd *cobra.Command, args []string) error {
			stdout := cmd.OutOrStdout()
			colorize := shouldColorize(stdout)

			daemonClient, err := client.Connect(cmd.Context(), ctx.apiAddress())
			if err != nil {
				for _, line := range renderSectionHeader("System Status", colorize) {
					fmt.Fprintln(stdout, line)
				}
				fmt.Fprintln(stdout, renderStatusLine("Facet", statusWarn, "Not running (run `facet start`)", colorize))
				return nil
			}

			status, err := daemonClient.Status(cmd.Context())
			if err != nil {
				return err
			}
			processing, err := daemonClient.ProcessingStatus(cmd.Context())
			if err != nil {
				return err
			}

			for _, line := range renderSectionHeader("System Status", colorize) {
				fmt.Fprintln(stdout, line)
			}
			fmt.Fprintln(stdout, renderStatusLine("Facet", statusOK, fmt.Sprintf("Running (pid %d)", status.PID), colorize))
			if processing.Paused {
				detail := "Paused"
				if processing.PausedAt != "" {
					detail = fmt.Sprintf("Paused since %s", processing.PausedAt)
				}
				fmt.Fprintln(stdout, renderStatusLine("AI Processing", statusWarn, detail, colorize))
			} else {
				fmt.Fprintln(stdout, renderStatusLine("AI Processing", statusOK, "Active", colorize))
			}
			fmt.Fprintln(stdout, renderStatusLine("Database", statusInfo, status.DBPath, colorize))
			fmt.Fprintln(stdout, renderStatusLine("API", statusInfo, status.APIAddress, colorize))
			fmt.Fprintln(stdout)

			for _, line := range renderSectionHeader("Products", colorize) {
				fmt.Fprintln(stdout, line)
			}
			rows := buildStatusCountRows(processing.ProductsByStatus)
			if len(rows) == 0 {
				fmt.Fprintln(stdout, "No products yet")
				return nil
			}
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
			return nil
		},
	}

	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Show aggregate pipeline statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(cmd.Context(), func(c *client.Client) error {
				dashboard, err := c.Dashboard(cmd.Context())
				if err != nil {
					return err
				}
				return renderDashboard(cmd.OutOrStdout(), dashboard, shouldColorize(cmd.OutOrStdout()))
			})
		},
	}

	return []*cobra.Command{startCmd, stopCmd, restartCmd, statusCmd, dashboardCmd}
}

func renderDashboard(stdout io.Writer, dashboard api.Dashboard, colorize bool) error {
	sections := []struct {
		title  string
		counts map[string]int
	}{
		{"Products", dashboard.ProductsByStatus},
		{"Batches", dashboard.BatchesByStatus},
		{"Annotations", dashboard.AnnotationsByStatus},
	}
	for _, section := range sections {
		for _, line := range renderSectionHeader(section.title, colorize) {
			fmt.Fprintln(stdout, line)
		}
		rows := buildStatusCountRows(section.counts)
		if len(rows) == 0 {
			fmt.Fprintln(stdout, "None")
		} else {
			fmt.Fprintln(stdout, renderTable([]string{"Status", "Count"}, rows, []columnAlignment{alignLeft, alignRight}))
		}
		fmt.Fprintln(stdout)
	}

	for _, line := range renderSectionHeader("Pipeline", colorize) {
		fmt.Fprintln(stdout, line)
	}
	processingDetail := "Active"
	processingKind := statusOK
	if dashboard.ProcessingPaused {
		processingDetail = "Paused"
		processingKind = statusWarn
	}
	fmt.Fprintln(stdout, renderStatusLine("AI Processing", processingKind, processingDetail, colorize))
	fmt.Fprintln(stdout, renderStatusLine("Finalized", statusInfo, fmt.Sprintf("%d/%d products", dashboard.FinalizedProducts, dashboard.TotalProducts), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Final values", statusInfo, fmt.Sprintf("%d", dashboard.ActiveFinals), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Open overlaps", statusInfo, fmt.Sprintf("%d", dashboard.UnresolvedOverlaps), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Pending flags", statusInfo, fmt.Sprintf("%d", dashboard.PendingFlags), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Annotators", statusInfo, fmt.Sprintf("%d active", dashboard.ActiveAnnotators), colorize))
	fmt.Fprintln(stdout, renderStatusLine("Providers", statusInfo, fmt.Sprintf("%d active", dashboard.ActiveProviders), colorize))
	return nil
}

func buildStatusCountRows(counts map[string]int) [][]string {
	keys := make([]string, 0, len(counts))
	for key := range counts {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	rows := make([][]string, 0, len(keys))
	for _, key := range keys {
		rows = append(rows, []string{displayStatus(key), fmt.Sprintf("%d", counts[key])})
	}
	return rows
}

func daemonExecutable() (string, error) {
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("resolve executable: %w", err)
	}
	return filepath.Join(filepath.Dir(exe), "facetd"), nil
}
