package cli

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/harun/nara/pkg/assistant"
	"github.com/harun/nara/pkg/react"
)

var (
	runSession   string
	runShowTrace bool
)

var runCmd = &cobra.Command{
	Use:   "run [request...]",
	Short: "Process a single request and print the outcome",
	Long: `Process a single natural-language request and print the outcome.
The request continues the given session, so follow-ups can refer to
earlier exchanges.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRun,
}

func init() {
	runCmd.Flags().StringVar(&runSession, "session", "cli", "session the request belongs to")
	runCmd.Flags().BoolVar(&runShowTrace, "trace", false, "print the reasoning trace before the answer")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	a, err := assistant.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := a.Start(ctx); err != nil {
		return err
	}

	out, err := a.Process(ctx, runSession, strings.Join(args, " "))
	if err != nil {
		return err
	}

	printOutcome(cmd.OutOrStdout(), out, runShowTrace)
	if out.Status == react.StatusFailed {
		return fmt.Errorf("request failed")
	}
	return nil
}

// printOutcome writes the trace (when asked for) and the final message
func printOutcome(w io.Writer, out react.Outcome, showTrace bool) {
	if showTrace {
		for _, e := range out.Trace {
			fmt.Fprintf(w, "%-14s %s\n", "["+string(e.Kind)+"]", e.Text)
		}
		fmt.Fprintln(w)
	}
	fmt.Fprintln(w, out.Message)
}
