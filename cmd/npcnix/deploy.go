package main

import (
	"net/url"

	"github.com/npcnix/npcnix/pkg/archive"
	"github.com/npcnix/npcnix/pkg/config"
	"github.com/npcnix/npcnix/pkg/deploy"
	"github.com/urfave/cli/v2"
)

func srcFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "src",
		Usage: "configuration source directory containing flake.nix",
		Value: ".",
	}
}

func includeFlag() cli.Flag {
	return &cli.StringSliceFlag{
		Name:  "include",
		Usage: "top level directory to pack, may be repeated; all directories when unset",
	}
}

func remoteFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "remote",
		Usage: "remote url, overriding the stored one",
	}
}

// remoteOverride parses the --remote flag, returning nil when unset.
func remoteOverride(c *cli.Context) (*url.URL, error) {
	if raw := c.String("remote"); raw != "" {
		return config.ParseRemote(raw)
	}
	return nil, nil
}

func packCommand() *cli.Command {
	return &cli.Command{
		Name:  "pack",
		Usage: "pack a configuration source into an archive file",
		Flags: []cli.Flag{
			srcFlag(),
			includeFlag(),
			&cli.StringFlag{
				Name:     "dst",
				Usage:    "archive file to write",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			return deploy.PackToFile(c.String("src"), archive.NewIncludeSet(c.StringSlice("include")...), c.String("dst"))
		},
	}
}

func pushCommand() *cli.Command {
	return &cli.Command{
		Name:  "push",
		Usage: "pack a configuration source and upload it to the remote",
		Flags: []cli.Flag{
			srcFlag(),
			includeFlag(),
			// Never fall back to the stored remote, which a follower
			// shares with the rest of the fleet.
			&cli.StringFlag{
				Name:     "remote",
				Usage:    "remote url to upload to",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			remote, err := config.ParseRemote(c.String("remote"))
			if err != nil {
				return err
			}
			t, err := e.transport(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()
			return deploy.Push(ctx, t, c.String("src"), archive.NewIncludeSet(c.StringSlice("include")...), remote)
		},
	}
}

func pullCommand() *cli.Command {
	return &cli.Command{
		Name:  "pull",
		Usage: "download and unpack the remote archive",
		Flags: []cli.Flag{
			remoteFlag(),
			&cli.StringFlag{
				Name:     "dst",
				Usage:    "directory to unpack into",
				Required: true,
			},
		},
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			override, err := remoteOverride(c)
			if err != nil {
				return err
			}
			remote, err := e.dataDir.CurrentRemote(override)
			if err != nil {
				return err
			}
			t, err := e.transport(c)
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()
			return deploy.Pull(ctx, t, remote, c.String("dst"))
		},
	}
}

func activateCommand() *cli.Command {
	return &cli.Command{
		Name:  "activate",
		Usage: "activate a configuration from a local source",
		Flags: append([]cli.Flag{
			srcFlag(),
			&cli.StringFlag{
				Name:  "configuration",
				Usage: "configuration to activate, overriding the stored one",
			},
		}, activateFlags()...),
		Action: func(c *cli.Context) error {
			e, err := newEnv(c)
			if err != nil {
				return err
			}
			configuration, err := e.dataDir.CurrentConfiguration(c.String("configuration"))
			if err != nil {
				return err
			}
			ctx, cancel := signalContext(c)
			defer cancel()
			return deploy.Activate(ctx, e.dataDir, e.engine(c), c.String("src"), configuration, e.activateOptions(c))
		},
	}
}
