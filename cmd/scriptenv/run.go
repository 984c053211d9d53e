package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/scriptenv/batch"
)

func newRunCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run path... [-- args...]",
		Short: "Run scripts through the configured loaders",
		Long: `Run one or more scripts. Paths may carry a loader prefix such as
"store:" or "s3:"; other paths are read from the script directory. Arguments
after "--" are bound to the scripts as the args array.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			paths, scriptArgs := splitArgs(args, cmd.ArgsLenAtDash())
			if len(paths) == 0 {
				return fmt.Errorf("no script given")
			}
			timing, _ := cmd.Flags().GetBool("timing")
			failFast, _ := cmd.Flags().GetBool("fail-fast")
			format := a.v.GetString("output")
			start := time.Now()

			if len(paths) == 1 {
				result, err := a.engine.ExecuteScript(cmd.Context(), paths[0], model(scriptArgs))
				if err != nil {
					return err
				}
				if err := a.print(result, format); err != nil {
					return err
				}
			} else {
				runner := batch.New(a.engine,
					batch.WithWorkers(a.cfg.Workers),
					batch.WithFailFast(failFast),
					batch.WithLogger(a.logger))
				jobs := make([]batch.Job, len(paths))
				for i, p := range paths {
					jobs[i] = batch.Job{Path: p, Model: model(scriptArgs)}
				}
				results, err := runner.Run(cmd.Context(), jobs)
				for _, res := range results {
					if res.Err != nil {
						continue
					}
					fmt.Fprintf(a.stdout, "%s:\n", res.Path)
					if err := a.print(res.Value, format); err != nil {
						return err
					}
				}
				if err != nil {
					return err
				}
			}
			if timing {
				fmt.Fprintf(a.stderr, "%v\n", time.Since(start))
			}
			return nil
		},
	}
	cmd.Flags().Bool("timing", false, "show execution time")
	cmd.Flags().Bool("fail-fast", false, "stop a multi-script run at the first failure")
	return cmd
}

func model(args []string) map[string]any {
	if args == nil {
		args = []string{}
	}
	return map[string]any{"args": args}
}

func (a *app) print(result any, format string) error {
	output, err := getOutput(result, format)
	if err != nil {
		return err
	}
	if output != "" {
		fmt.Fprintln(a.stdout, output)
	}
	return nil
}
