package main

import (
	"encoding/json"
	"errors"
	"fmt"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/spf13/cobra"

	"voice-intake/internal/repository"
)

var recordCmd = &cobra.Command{
	Use:   "record <session-id>",
	Short: "Print a stored conversation record from DynamoDB",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		table, _ := cmd.Flags().GetString("table")
		if table == "" {
			return errors.New("--table (or RECORDS_TABLE) is required")
		}
		cfg, err := awsconfig.LoadDefaultConfig(cmd.Context())
		if err != nil {
			return fmt.Errorf("load AWS config: %w", err)
		}
		repo, err := repository.New(awsdynamodb.NewFromConfig(cfg), table)
		if err != nil {
			return err
		}
		rec, err := repo.GetRecord(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(rec)
	},
}

func init() {
	rootCmd.AddCommand(recordCmd)
}
