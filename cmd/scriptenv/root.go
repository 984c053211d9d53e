package main

import (
	"github.com/spf13/cobra"
)

func newRootCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "scriptenv",
		Short:         "Run JavaScript against the scriptenv host runtime",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.setup(cmd.Context(), cmd.Flags())
		},
	}
	cmd.SetIn(a.stdin)
	cmd.SetOut(a.stdout)
	cmd.SetErr(a.stderr)

	flags := cmd.PersistentFlags()
	flags.String("config", "", "config file (default is $HOME/.scriptenv.yaml)")
	flags.Bool("no-color", false, "disable colored output")
	flags.StringP("output", "o", "", "output format: json or text")
	flags.String("log-level", "", "log level")
	flags.String("script-dir", "", "directory file scripts are loaded from")
	flags.String("postgres-url", "", "connection string of a script store")
	flags.String("postgres-table", "", "table of the script store")
	flags.String("s3-bucket", "", "bucket scripts are loaded from")
	flags.String("s3-prefix", "", "key prefix of scripts in the bucket")
	flags.Int("workers", 0, "concurrent executions for batch runs")
	flags.Int("optimization-level", 0, "level scripts are compiled at")
	flags.Bool("no-cache", false, "disable caching of compiled scripts")
	cmd.RegisterFlagCompletionFunc("output", cobra.FixedCompletions(outputFormatsCompletion, cobra.ShellCompDirectiveNoFileComp))

	a.bind(flags, map[string]string{
		"no_color":           "no-color",
		"output":             "output",
		"log_level":          "log-level",
		"script_dir":         "script-dir",
		"postgres_url":       "postgres-url",
		"postgres_table":     "postgres-table",
		"s3_bucket":          "s3-bucket",
		"s3_prefix":          "s3-prefix",
		"workers":            "workers",
		"optimization_level": "optimization-level",
	})

	cmd.AddCommand(newRunCmd(a), newEvalCmd(a), newReplCmd(a), newVersionCmd(a))
	return cmd
}
