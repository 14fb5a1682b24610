package main

import (
	"bufio"
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"voice-intake/internal/app"
	"voice-intake/internal/dialogue"
	"voice-intake/internal/httpapi"
	"voice-intake/internal/logging"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Hold an intake conversation on the console",
	Long: `Reads one utterance per line from stdin and prints the engine's reply,
as a call would hear it. The conversation record is written when the call ends.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		callID, _ := cmd.Flags().GetString("call-id")
		logger := logging.New(levelFlag(cmd), cmd.ErrOrStderr())

		a, err := app.Build(cmd.Context(), appConfig(cmd, logger))
		if err != nil {
			return err
		}
		defer a.Close()

		return chat(cmd.Context(), a.Engine, callID, cmd.InOrStdin(), cmd.OutOrStdout())
	},
}

// chat runs one call over in/out. Closing in before the call ends counts as
// a hang-up.
func chat(ctx context.Context, conv httpapi.Conversation, callID string, in io.Reader, out io.Writer) error {
	reply, err := conv.StartSession(ctx, callID)
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "< %s\n", reply.Message)

	sc := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !sc.Scan() {
			break
		}
		reply, err = conv.ProcessUtterance(ctx, callID, sc.Text())
		if err != nil {
			return err
		}
		if reply.Message != "" {
			fmt.Fprintf(out, "< %s\n", reply.Message)
		}
		if reply.Status == dialogue.StatusEnded {
			return nil
		}
	}
	fmt.Fprintln(out)
	if err := sc.Err(); err != nil {
		return err
	}
	return conv.EndSession(ctx, callID, "console closed")
}

func init() {
	rootCmd.AddCommand(chatCmd)
	chatCmd.Flags().String("call-id", "console", "call id for the session")
}
