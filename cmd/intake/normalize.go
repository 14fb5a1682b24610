package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"voice-intake/internal/domain"
	"voice-intake/internal/normalize"
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize [text...]",
	Short: "Print how an utterance is normalized for a field",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, _ := cmd.Flags().GetString("field")
		field := domain.FieldKey(raw)
		if !field.Valid() {
			return fmt.Errorf("unknown field %q (want one of %s)", raw, strings.Join(fieldNames(), ", "))
		}
		fmt.Fprintln(cmd.OutOrStdout(), normalize.Normalize(strings.Join(args, " "), field))
		return nil
	},
}

func fieldNames() []string {
	names := make([]string, 0, len(domain.FieldKeys))
	for _, k := range domain.FieldKeys {
		names = append(names, string(k))
	}
	return names
}

func init() {
	rootCmd.AddCommand(normalizeCmd)
	normalizeCmd.Flags().StringP("field", "f", string(domain.FieldOperatorName), "field key")
}
