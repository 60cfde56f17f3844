package main

import (
	"context"
	"io"

	"github.com/npcnix/npcnix/pkg/activate"
	"github.com/npcnix/npcnix/pkg/datadir"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/npcnix/npcnix/pkg/settings"
	"github.com/npcnix/npcnix/pkg/sigcontext"
	"github.com/npcnix/npcnix/pkg/transport"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

const (
	flagDataDir      = "data-dir"
	flagLogLevel     = "log-level"
	flagLogJSON      = "log-json"
	flagSettings     = "settings"
	flagS3Backend    = "s3-backend"
	flagAWSCLI       = "aws-cli"
	flagNixosRebuild = "nixos-rebuild"
)

func newApp(out io.Writer) *cli.App {
	return &cli.App{
		Name:  "npcnix",
		Usage: "deploy NixOS configurations from a shared remote",
		// Logs go to stderr, stdout carries command output.
		Writer: out,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagDataDir,
				Usage:   "directory holding the config and the activation lock",
				Value:   datadir.DefaultPath,
				EnvVars: []string{"NPCNIX_DATA_DIR"},
			},
			&cli.StringFlag{
				Name:    flagLogLevel,
				Usage:   "log level (debug, info, warn, error)",
				Value:   "info",
				EnvVars: []string{"NPCNIX_LOG_LEVEL"},
			},
			&cli.BoolFlag{
				Name:  flagLogJSON,
				Usage: "log line delimited JSON",
			},
			&cli.StringFlag{
				Name:    flagSettings,
				Usage:   "optional settings file",
				Value:   settings.DefaultPath,
				EnvVars: []string{"NPCNIX_SETTINGS"},
			},
			&cli.StringFlag{
				Name:    flagS3Backend,
				Usage:   "implementation of s3:// remotes: cli or sdk",
				EnvVars: []string{"NPCNIX_S3_BACKEND"},
			},
			&cli.StringFlag{
				Name:    flagAWSCLI,
				Usage:   "aws executable used by the cli s3 backend",
				EnvVars: []string{transport.AWSCLIEnv},
			},
			&cli.StringFlag{
				Name:    flagNixosRebuild,
				Usage:   "nixos-rebuild executable",
				EnvVars: []string{activate.NixosRebuildEnv},
			},
		},
		Before: func(c *cli.Context) error {
			setters := []logging.Setter{logging.Level(c.String(flagLogLevel))}
			if c.Bool(flagLogJSON) {
				setters = append(setters, logging.JSON())
			}
			for _, s := range setters {
				if err := logging.Set(s); err != nil {
					return err
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			showCommand(),
			statusCommand(),
			setCommand(),
			pauseCommand(),
			unpauseCommand(),
			packCommand(),
			pushCommand(),
			pullCommand(),
			activateCommand(),
			followCommand(),
		},
	}
}

// env holds what most commands need, resolved from global flags.
type env struct {
	dataDir  *datadir.DataDir
	settings settings.Settings
}

func newEnv(c *cli.Context) (*env, error) {
	s, err := settings.Load(c.String(flagSettings))
	if err != nil {
		return nil, err
	}
	return &env{
		dataDir:  datadir.New(c.String(flagDataDir)),
		settings: s,
	}, nil
}

func (e *env) transport(c *cli.Context) (*transport.Registry, error) {
	backend := c.String(flagS3Backend)
	if backend == "" {
		backend = e.settings.S3Backend
	}
	return transport.NewDefaultRegistry(transport.Options{
		S3Backend: backend,
		AWSCLI:    c.String(flagAWSCLI),
	})
}

func (e *env) engine(c *cli.Context) *activate.Engine {
	return activate.New(c.String(flagNixosRebuild))
}

// activateOptions appends command line options to those from the settings
// file.
func (e *env) activateOptions(c *cli.Context) activate.Options {
	return e.settings.Options().Merge(activate.Options{
		ExtraSubstituters:      c.StringSlice("extra-substituters"),
		ExtraTrustedPublicKeys: c.StringSlice("extra-trusted-public-keys"),
	})
}

func activateFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringSliceFlag{
			Name:  "extra-substituters",
			Usage: "additional trusted substituter, may be repeated",
		},
		&cli.StringSliceFlag{
			Name:  "extra-trusted-public-keys",
			Usage: "additional trusted public key, may be repeated",
		},
	}
}

// signalContext is cancelled on the first termination signal, which kills any
// running subprocess. The daemon uses a sigcontext.Shutdown instead.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return sigcontext.WithSignalCancel(c.Context, sigcontext.TerminationSignals...)
}

func oneArg(c *cli.Context, what string) (string, error) {
	if c.Args().Len() != 1 {
		return "", errors.Errorf("expected exactly one argument: %s", what)
	}
	return c.Args().First(), nil
}
