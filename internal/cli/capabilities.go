package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/harun/nara/pkg/assistant"
)

var capabilitiesCmd = &cobra.Command{
	Use:   "capabilities",
	Short: "List the capabilities the agent can use",
	Long: `Discover and list every registered capability, including built-in
providers and tools from configured MCP servers.`,
	RunE: runCapabilities,
}

func init() {
	rootCmd.AddCommand(capabilitiesCmd)
}

func runCapabilities(cmd *cobra.Command, args []string) error {
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

	tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tACTIONS\tDESCRIPTION")
	for _, d := range a.Registry().List() {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			d.Name, d.Category, strings.Join(d.ActionNames(), ", "), d.Description)
	}
	return tw.Flush()
}
