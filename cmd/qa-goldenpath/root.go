// Command qa-goldenpath runs the golden-path QA pipeline orchestration
// engine: merge, build, gitops, deploy, and Jenkins QA trigger, wired behind
// an HTTP/SSE server for the operator-facing console.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	flagConfig string
	flagDev    bool
	flagSkipQA bool
	flagAddr   string
)

var rootCmd = &cobra.Command{
	Use:           "qa-goldenpath",
	Short:         "QA golden-path pipeline orchestration engine",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to the YAML config file")
	rootCmd.PersistentFlags().BoolVar(&flagDev, "dev", false, "use the human-readable development logger")
	rootCmd.AddCommand(newServeCmd())
}

// Execute runs the root command and returns the process exit code.
func Execute() int {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	return 0
}

func main() {
	os.Exit(Execute())
}
