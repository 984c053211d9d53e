package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"
	"github.com/mitchellh/go-homedir"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/deepnoodle-ai/scriptenv"
	"github.com/deepnoodle-ai/scriptenv/batch"
	"github.com/deepnoodle-ai/scriptenv/config"
	"github.com/deepnoodle-ai/scriptenv/contrib"
)

const defaultConfigFile = "~/.scriptenv.yaml"

// app holds the state shared by all commands of one invocation.
type app struct {
	v      *viper.Viper
	fs     afero.Fs
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	cfg     config.Config
	logger  zerolog.Logger
	engine  *scriptenv.Engine
	runner  *batch.Runner
	closers []func()
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	a := &app{
		v:      config.New(),
		fs:     afero.NewOsFs(),
		stdin:  stdin,
		stdout: stdout,
		stderr: stderr,
	}
	a.v.SetFs(a.fs)
	return a
}

// bind connects viper keys to command line flags.
func (a *app) bind(flags *pflag.FlagSet, keys map[string]string) {
	for key, flag := range keys {
		if err := a.v.BindPFlag(key, flags.Lookup(flag)); err != nil {
			panic(fmt.Sprintf("bind flag %s: %v", flag, err))
		}
	}
}

// configFile returns the config file to read: the --config flag, or the
// default file in the home directory if it exists.
func (a *app) configFile(flags *pflag.FlagSet) (string, error) {
	if f := flags.Lookup("config"); f != nil && f.Value.String() != "" {
		return homedir.Expand(f.Value.String())
	}
	path, err := homedir.Expand(defaultConfigFile)
	if err != nil {
		return "", nil
	}
	if _, err := a.fs.Stat(path); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	return path, nil
}

// setup loads the configuration and builds the logger, loaders and engine.
func (a *app) setup(ctx context.Context, flags *pflag.FlagSet) error {
	if f := flags.Lookup("no-cache"); f != nil && f.Changed {
		a.v.Set("compile_scripts", false)
	}
	file, err := a.configFile(flags)
	if err != nil {
		return err
	}
	cfg, err := config.Load(a.v, file)
	if err != nil {
		return err
	}
	a.cfg = cfg

	if a.v.GetBool("no_color") || !isTerminal(a.stdout) {
		color.NoColor = true
	}
	level, _ := cfg.Level()
	a.logger = zerolog.New(zerolog.ConsoleWriter{Out: a.stderr, NoColor: color.NoColor}).
		Level(level).
		With().
		Timestamp().
		Logger()

	locators, closers, err := buildLocators(ctx, cfg, a.fs, a.logger)
	if err != nil {
		return err
	}
	a.closers = closers

	a.engine = scriptenv.New(
		scriptenv.WithConfig(cfg),
		scriptenv.WithLoader(locators),
		scriptenv.WithLogger(a.logger),
	)
	a.runner = batch.New(a.engine, batch.WithWorkers(cfg.Workers), batch.WithLogger(a.logger))
	for _, c := range contrib.Standard(
		contrib.WithLogger(a.logger),
		contrib.WithTracer(a.engine),
		contrib.WithEnvPrefix(config.EnvPrefix+"_"),
	) {
		a.engine.RegisterScopeContributor(c)
	}
	a.engine.RegisterScopeContributor(a.runner.Contributor())
	a.logger.Debug().
		Str("config", file).
		Strs("loaders", locators.Names()).
		Msg("engine ready")
	return nil
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
