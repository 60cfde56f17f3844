package main

import (
	"os"

	"github.com/npcnix/npcnix/pkg/agent"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/npcnix/npcnix/pkg/metrics"
	"github.com/npcnix/npcnix/pkg/sigcontext"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

func followCommand() *cli.Command {
	return &cli.Command{
		Name:  "follow",
		Usage: "keep the machine on the configuration published at the remote",
		Flags: append([]cli.Flag{
			remoteFlag(),
			&cli.StringFlag{
				Name:  "configuration",
				Usage: "configuration to activate, overriding the stored one",
			},
			&cli.StringFlag{
				Name:  "once",
				Usage: "stop after the first successful check (any) or activation (activate)",
			},
			&cli.BoolFlag{
				Name:  "ignore-fingerprint",
				Usage: "activate on every check even if the remote did not change",
			},
			&cli.StringFlag{
				Name:  "metrics-textfile",
				Usage: "write prometheus metrics to this file after every cycle",
			},
		}, activateFlags()...),
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			once, err := agent.ParseOnce(c.String("once"))
			if err != nil {
				return err
			}
			remote, err := remoteOverride(c)
			if err != nil {
				return err
			}
			t, err := e.transport(c)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(e.dataDir.Path(), 0755); err != nil {
				return errors.Wrap(err, "failed to create data directory")
			}

			shutdown := sigcontext.NewShutdown(logging.New("shutdown"))
			stop := shutdown.Notify(sigcontext.TerminationSignals...)
			defer stop()

			a, err := agent.New(logging.New("agent"), e.dataDir, t, e.engine(c), shutdown, agent.Options{
				Remote:            remote,
				Configuration:     c.String("configuration"),
				IgnoreFingerprint: c.Bool("ignore-fingerprint"),
				Once:              once,
				Activate:          e.activateOptions(c),
			})
			if err != nil {
				return err
			}
			if path := c.String("metrics-textfile"); path != "" {
				a.SetMetrics(metrics.NewProm(path))
			}
			return a.Run(c.Context)
		},
	}
}
