package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"
)

var (
	version string
	commit  string
	date    string
)

// rootOptions carries the global flags.
type rootOptions struct {
	configPath string
	trace      bool
	// logOutput overrides stderr for the structured logger.
	logOutput io.Writer
}

func (o *rootOptions) bootstrapOptions(cmd *cobra.Command) bootstrapOptions {
	opts := bootstrapOptions{configPath: o.configPath, logOutput: o.logOutput}
	if o.trace {
		opts.traceOut = cmd.ErrOrStderr()
	}
	return opts
}

// NewRootCommand builds the limsctl command tree.
func NewRootCommand() *cobra.Command {
	return newRootCommand(&rootOptions{})
}

func newRootCommand(opts *rootOptions) *cobra.Command {
	root := &cobra.Command{
		Use:   "limsctl",
		Short: "limsctl - LIMS workflow and upgrade tooling",
		Long: `limsctl drives the LIMS core: it serves the JSON API, runs pending
upgrade steps and performs workflow transitions on stored objects.

Settings come from limscore.yaml (or --config) and LIMSCORE_* environment
variables.`,
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
		FParseErrWhitelist: cobra.FParseErrWhitelist{},
		SilenceErrors:      true,
		SilenceUsage:       true,
	}
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to the configuration file")
	root.PersistentFlags().BoolVar(&opts.trace, "trace", false, "export spans as JSON to stderr")

	root.AddCommand(
		newServeCommand(opts),
		newUpgradeCommand(opts),
		newTransitionsCommand(opts),
		newDoCommand(opts),
	)
	return root
}

// Execute runs the command tree. It is called by main.main().
func Execute() error {
	root := NewRootCommand()
	if version != "" {
		root.Version = fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date)
	}
	return root.Execute()
}

// SetVersionInfo sets the version information for the CLI
func SetVersionInfo(v, c, d string) {
	version = v
	commit = c
	date = d
}
