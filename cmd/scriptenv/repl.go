package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/deepnoodle-ai/scriptenv/scope"
	"github.com/deepnoodle-ai/scriptenv/script"
)

const historyFile = "~/.scriptenv_history"

var (
	promptColor = color.New(color.FgYellow, color.Bold).SprintFunc()
	mutedColor  = color.New(color.FgHiBlack).SprintFunc()
)

func newReplCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repl",
		Short: "Start an interactive session",
		Long: `Start an interactive session. Bindings persist between inputs.
Commands: :help, :history, :timing, :reset, :quit`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			trusted, _ := cmd.Flags().GetBool("trusted")
			return a.repl(cmd.Context(), trusted)
		},
	}
	cmd.Flags().Bool("trusted", false, "run inputs in a trusted scope")
	return cmd
}

type replSession struct {
	a           *app
	scope       *scope.Scope
	historyPath string
	showTiming  bool
}

func (a *app) repl(ctx context.Context, trusted bool) error {
	var opts []script.Option
	if trusted {
		opts = append(opts, script.WithSecure(true))
	}
	s, err := a.engine.InitializeScope(script.New("repl", script.Bytes(nil), opts...))
	if err != nil {
		return err
	}
	sess := &replSession{a: a, scope: s}
	if path, err := homedir.Expand(historyFile); err == nil {
		sess.historyPath = path
	}

	scanner := bufio.NewScanner(a.stdin)
	var input strings.Builder
	prompt := ">>> "
	for {
		fmt.Fprint(a.stdout, promptColor(prompt))
		if !scanner.Scan() {
			fmt.Fprintln(a.stdout)
			return scanner.Err()
		}
		input.WriteString(scanner.Text())
		line := strings.TrimSpace(input.String())
		if line == "" {
			input.Reset()
			continue
		}
		if strings.HasPrefix(line, ":") {
			input.Reset()
			if quit := sess.command(line); quit {
				return nil
			}
			continue
		}
		start := time.Now()
		ref := script.New("repl", script.Bytes(line), append(opts, script.WithCachable(false))...)
		result, err := a.engine.ExecuteReferenceInScope(ctx, ref, s)
		if err != nil && isIncompleteInput(err) {
			input.WriteString("\n")
			prompt = "... "
			continue
		}
		input.Reset()
		prompt = ">>> "
		sess.appendHistory(line)
		if err != nil {
			fmt.Fprintln(a.stdout, red(err.Error()))
			continue
		}
		if err := a.print(result, a.v.GetString("output")); err != nil {
			fmt.Fprintln(a.stdout, red(err.Error()))
		}
		if sess.showTiming {
			fmt.Fprintln(a.stdout, mutedColor(time.Since(start).String()))
		}
	}
}

// isIncompleteInput reports whether the input ended before a statement was
// complete, so the user should keep typing.
func isIncompleteInput(err error) bool {
	return strings.Contains(err.Error(), "Unexpected end of input")
}

func (sess *replSession) command(line string) bool {
	out := sess.a.stdout
	switch strings.ToLower(strings.Fields(line)[0]) {
	case ":quit", ":q", ":exit":
		return true
	case ":timing":
		sess.showTiming = !sess.showTiming
		fmt.Fprintf(out, "timing %v\n", sess.showTiming)
	case ":reset":
		sess.a.engine.ResetCaches()
		fmt.Fprintln(out, "caches reset")
	case ":history":
		for _, h := range loadHistory(sess.a.fs) {
			fmt.Fprintln(out, mutedColor(h))
		}
	case ":help", ":h":
		fmt.Fprintln(out, "  :history show previous inputs")
		fmt.Fprintln(out, "  :timing  toggle execution timing")
		fmt.Fprintln(out, "  :reset   clear the compiled script caches")
		fmt.Fprintln(out, "  :quit    leave the session")
	default:
		fmt.Fprintln(out, red("unknown command "+line))
	}
	return false
}

func (sess *replSession) appendHistory(line string) {
	if sess.historyPath == "" {
		return
	}
	f, err := sess.a.fs.OpenFile(sess.historyPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	f.WriteString(strings.ReplaceAll(line, "\n", " ") + "\n")
}

// loadHistory returns the lines of the history file, oldest first.
func loadHistory(fsys afero.Fs) []string {
	path, err := homedir.Expand(historyFile)
	if err != nil {
		return nil
	}
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil
	}
	var history []string
	for _, line := range strings.Split(string(data), "\n") {
		if line != "" {
			history = append(history, line)
		}
	}
	return history
}
