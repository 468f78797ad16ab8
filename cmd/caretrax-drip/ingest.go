package main

import (
	"context"
	"fmt"
	"time"

	"caretrax-drip/internal/client"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func ingestCmd() *cobra.Command {
	var (
		server    string
		patientID string
		weight    float64
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Post one weight reading, as a bedside scale would",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithTimeout(context.Background(), timeout)
			defer cancel()

			c := client.NewSensorClient(server, timeout, zap.NewNop())
			res, err := c.PostWeight(ctx, patientID, weight)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s: %.1f%% %s\n", res.PatientID, res.Percentage, res.Status)
			if res.Alert != nil {
				fmt.Fprintf(cmd.OutOrStdout(), "alert %d: %s\n", res.Alert.ID, res.Alert.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&server, "server", "http://localhost:8080", "monitor base URL")
	cmd.Flags().StringVar(&patientID, "patient", "P-123456", "patient id")
	cmd.Flags().Float64Var(&weight, "weight", 0, "reservoir weight in kg")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Second, "request timeout")
	_ = cmd.MarkFlagRequired("weight")

	return cmd
}
