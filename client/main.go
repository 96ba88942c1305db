package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/reportstack/report-manager/pkg/report"
)

var serverURL string

func main() {
	root := &cobra.Command{
		Use:          "reportctl",
		Short:        "Submit and inspect report generation requests",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&serverURL, "server", defaultServerURL(), "base URL of the report server")

	root.AddCommand(submitCmd(), statusCmd(), detailsCmd())

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func defaultServerURL() string {
	if url := os.Getenv("REPORT_SERVER_URL"); url != "" {
		return url
	}
	return "http://localhost:8080"
}

func submitCmd() *cobra.Command {
	var reportType, requestedBy, parameters string

	cmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit a report generation request",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := report.ParseType(reportType); err != nil {
				return fmt.Errorf("%w (valid: %v)", err, report.Types())
			}
			resp, err := NewAPIClient(serverURL).Submit(cmd.Context(), reportType, requestedBy, parameters)
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
	cmd.Flags().StringVarP(&reportType, "type", "t", "", "report type")
	cmd.Flags().StringVarP(&requestedBy, "requested-by", "u", "", "requesting user")
	cmd.Flags().StringVarP(&parameters, "params", "p", "{}", "report parameters as a JSON document")
	_ = cmd.MarkFlagRequired("type")
	_ = cmd.MarkFlagRequired("requested-by")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <request-id>",
		Short: "Show the lifecycle status of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewAPIClient(serverURL).Status(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func detailsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "details <request-id>",
		Short: "Show the full record of a request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			resp, err := NewAPIClient(serverURL).Details(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(resp)
		},
	}
}

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
