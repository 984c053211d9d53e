package main

import (
	"errors"
	"io"

	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/scriptenv/script"
)

func newEvalCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "eval [expr]",
		Aliases: []string{"e"},
		Short:   "Evaluate an expression",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			expr, err := getEvalExpr(cmd, args, a.stdin)
			if err != nil {
				return err
			}
			trusted, _ := cmd.Flags().GetBool("trusted")
			quiet, _ := cmd.Flags().GetBool("quiet")

			ref := script.Dynamic(expr)
			if trusted {
				ref = script.New("eval.js", script.Bytes(expr), script.WithSecure(true), script.WithCachable(false))
			}
			result, err := a.engine.ExecuteReferenceInScope(cmd.Context(), ref, nil)
			if err != nil {
				return err
			}
			if quiet {
				return nil
			}
			return a.print(result, a.v.GetString("output"))
		},
	}
	cmd.Flags().StringP("code", "c", "", "expression to evaluate")
	cmd.Flags().Bool("stdin", false, "read the expression from stdin")
	cmd.Flags().Bool("trusted", false, "evaluate in a trusted scope")
	cmd.Flags().BoolP("quiet", "q", false, "suppress output")
	return cmd
}

func getEvalExpr(cmd *cobra.Command, args []string, stdin io.Reader) (string, error) {
	codeSet := cmd.Flags().Changed("code")
	stdinSet, _ := cmd.Flags().GetBool("stdin")
	exprProvided := len(args) > 0

	count := 0
	for _, set := range []bool{codeSet, stdinSet, exprProvided} {
		if set {
			count++
		}
	}
	if count > 1 {
		return "", errors.New("multiple input sources specified")
	}
	if count == 0 {
		return "", errors.New("no expression provided")
	}
	if stdinSet {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
	if exprProvided {
		return args[0], nil
	}
	return cmd.Flags().GetString("code")
}
