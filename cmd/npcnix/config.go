package main

import (
	"fmt"
	"time"

	"github.com/npcnix/npcnix/pkg/config"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func showCommand() *cli.Command {
	return &cli.Command{
		Name:  "show",
		Usage: "print the stored config",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			cfg, err := e.dataDir.LoadConfig()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(c.App.Writer, cfg.String())
			return err
		},
	}
}

func statusCommand() *cli.Command {
	return &cli.Command{
		Name:  "status",
		Usage: "summarize what the agent follows and when it last activated",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			cfg, err := e.dataDir.LoadConfig()
			if err != nil {
				return err
			}
			return printStatus(c, cfg, time.Now())
		},
	}
}

func printStatus(c *cli.Context, cfg config.Config, now time.Time) error {
	w := c.App.Writer
	remote := "not set"
	if u, err := cfg.Remote(); err == nil {
		remote = u.String()
	}
	configuration := "not set"
	if name, err := cfg.Configuration(); err == nil {
		configuration = name
	}
	paused := "no"
	if p, ok := cfg.Paused(); ok && p.Active(now) {
		paused = p.String()
	}
	last := "never"
	if at := cfg.LastReconfiguration(); !at.IsZero() {
		last = fmt.Sprintf("%s (%s ago)", at.Format(time.RFC3339), now.Sub(at).Truncate(time.Second))
	}

	lines := []struct{ key, value string }{
		{"remote", remote},
		{"configuration", configuration},
		{"paused", paused},
		{"last configuration", cfg.LastConfiguration()},
		{"last fingerprint", cfg.LastFingerprint()},
		{"last reconfiguration", last},
		{"poll interval", fmt.Sprintf("%s to %s", cfg.SleepDuration(now, 0), cfg.SleepDuration(now, 1))},
	}
	for _, l := range lines {
		if _, err := fmt.Fprintf(w, "%-21s %s\n", l.key+":", l.value); err != nil {
			return err
		}
	}
	return nil
}

func setCommand() *cli.Command {
	return &cli.Command{
		Name:  "set",
		Usage: "change the stored config",
		Subcommands: []*cli.Command{
			{
				Name:      "remote",
				Usage:     "set the remote to follow",
				ArgsUsage: "<url>",
				Flags:     []cli.Flag{initFlag()},
				Action: updateAction("remote url", func(c *cli.Context, cfg config.Config, arg string) (config.Config, error) {
					remote, err := config.ParseRemote(arg)
					if err != nil {
						return cfg, err
					}
					return cfg.WithRemoteMaybeInit(remote, c.Bool("init")), nil
				}),
			},
			{
				Name:      "configuration",
				Usage:     "set the configuration to activate",
				ArgsUsage: "<name>",
				Flags:     []cli.Flag{initFlag()},
				Action: updateAction("configuration name", func(c *cli.Context, cfg config.Config, arg string) (config.Config, error) {
					return cfg.WithConfigurationMaybeInit(arg, c.Bool("init"))
				}),
			},
			{
				Name:      "min-sleep",
				Usage:     "set the poll interval right after a reconfiguration",
				ArgsUsage: "<duration>",
				Action:    updateAction("duration", durationSetter(config.Config.WithMinSleep)),
			},
			{
				Name:      "max-sleep",
				Usage:     "set the poll interval long after the last reconfiguration",
				ArgsUsage: "<duration>",
				Action:    updateAction("duration", durationSetter(config.Config.WithMaxSleep)),
			},
			{
				Name:      "max-sleep-after",
				Usage:     "set how long it takes the poll interval to reach max-sleep",
				ArgsUsage: "<duration>",
				Action:    updateAction("duration", durationSetter(config.Config.WithMaxSleepAfter)),
			},
		},
	}
}

func initFlag() cli.Flag {
	return &cli.BoolFlag{
		Name:  "init",
		Usage: "only set the value if none is stored yet",
	}
}

type updateFunc func(c *cli.Context, cfg config.Config, arg string) (config.Config, error)

func updateAction(what string, fn updateFunc) cli.ActionFunc {
	return func(c *cli.Context) error {
		arg, err := oneArg(c, what)
		if err != nil {
			return err
		}
		e, err := newEnv(c)
		if err != nil {
			return err
		}
		_, err = e.dataDir.Update(func(cfg config.Config) (config.Config, error) {
			return fn(c, cfg, arg)
		})
		return err
	}
}

func durationSetter(with func(config.Config, time.Duration) (config.Config, error)) updateFunc {
	return func(_ *cli.Context, cfg config.Config, arg string) (config.Config, error) {
		d, err := time.ParseDuration(arg)
		if err != nil {
			return cfg, errors.Wrapf(err, "invalid duration %q", arg)
		}
		return with(cfg, d)
	}
}

func pauseCommand() *cli.Command {
	return &cli.Command{
		Name:  "pause",
		Usage: "stop checking the remote, indefinitely or for a while",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "for",
				Usage: "resume automatically after this long",
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			p := config.Indefinitely()
			if d := c.Duration("for"); d > 0 {
				p = config.For(time.Now(), d)
			} else if c.IsSet("for") {
				return errors.Errorf("pause duration must be positive, got %s", d)
			}
			_, err = e.dataDir.Update(func(cfg config.Config) (config.Config, error) {
				return cfg.WithPause(p), nil
			})
			return err
		},
	}
}

func unpauseCommand() *cli.Command {
	return &cli.Command{
		Name:  "unpause",
		Usage: "resume checking the remote",
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			_, err = e.dataDir.Update(func(cfg config.Config) (config.Config, error) {
				return cfg.WithoutPause(), nil
			})
			return err
		},
	}
}
