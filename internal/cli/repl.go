package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/harun/nara/pkg/assistant"
)

var replSession string

var replCmd = &cobra.Command{
	Use:   "repl",
	Short: "Chat with the assistant interactively",
	Long: `Start an interactive session. Every line is processed as one request;
type "exit" or "quit" to leave.`,
	RunE: runRepl,
}

func init() {
	replCmd.Flags().StringVar(&replSession, "session", "repl", "session the conversation belongs to")
	rootCmd.AddCommand(replCmd)
}

func runRepl(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := assistant.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if err := a.Start(cmd.Context()); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "nara %s, %d capabilities. Type \"exit\" to leave.\n", version, a.Registry().Len())

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "you> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		outcome, err := a.Process(cmd.Context(), replSession, line)
		if err != nil {
			fmt.Fprintf(out, "error: %v\n", err)
			continue
		}
		fmt.Fprintf(out, "nara> %s\n", outcome.Message)
	}
	if err := scanner.Err(); err != nil {
		return err
	}

	fmt.Fprintln(out, "bye")
	return nil
}
