// Package activate switches the running system to a configuration found in
// an unpacked source tree by running nixos-rebuild.
package activate

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

const (
	// NixosRebuildEnv names an alternative nixos-rebuild executable.
	NixosRebuildEnv = "NPCNIX_NIXOS_REBUILD"
	// ManifestName marks a directory as a configuration source.
	ManifestName = "flake.nix"

	defaultNixosRebuild = "nixos-rebuild"
)

// ErrMissingManifest is returned for a source directory without a flake.nix.
var ErrMissingManifest = errors.New("missing " + ManifestName)

// ExitError reports a non-zero exit of the activation tool.
type ExitError struct {
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("activation exited with code %d", e.Code)
}

// Options are passed through to nixos-rebuild as nix options.
type Options struct {
	ExtraSubstituters      []string
	ExtraTrustedPublicKeys []string
}

// Merge appends the values of other after those of o.
func (o Options) Merge(other Options) Options {
	return Options{
		ExtraSubstituters:      append(append([]string(nil), o.ExtraSubstituters...), other.ExtraSubstituters...),
		ExtraTrustedPublicKeys: append(append([]string(nil), o.ExtraTrustedPublicKeys...), other.ExtraTrustedPublicKeys...),
	}
}

// NixosRebuildPath returns the nixos-rebuild executable to run.
func NixosRebuildPath() string {
	if p := os.Getenv(NixosRebuildEnv); p != "" {
		return p
	}
	return defaultNixosRebuild
}

// VerifySource checks that src looks like a configuration source.
func VerifySource(src string) error {
	info, err := os.Stat(filepath.Join(src, ManifestName))
	if err != nil {
		if os.IsNotExist(err) {
			return errors.Wrapf(ErrMissingManifest, "source %s", src)
		}
		return errors.Wrapf(err, "failed to check source %s", src)
	}
	if info.IsDir() {
		return errors.Wrapf(ErrMissingManifest, "source %s", src)
	}
	return nil
}

// Args builds the nixos-rebuild arguments selecting configuration.
func Args(configuration string, opts Options) []string {
	args := []string{"switch", "-L"}
	for _, s := range opts.ExtraSubstituters {
		args = append(args, "--option", "extra-substituters", s)
	}
	for _, k := range opts.ExtraTrustedPublicKeys {
		args = append(args, "--option", "extra-trusted-public-keys", k)
	}
	return append(args, "--flake", ".#"+configuration)
}

type executer interface {
	execute(ctx context.Context, dir string, args []string) error
}

type executable struct {
	log    logging.Logger
	bin    string
	output io.Writer
}

func (e *executable) execute(ctx context.Context, dir string, args []string) error {
	cmd := exec.CommandContext(ctx, e.bin, args...)
	cmd.Dir = dir
	cmd.Stdout = e.output
	cmd.Stderr = e.output

	e.log.WithFields(logrus.Fields{
		"cmd": cmd.String(),
		"dir": dir,
	}).Debug("executing")

	if err := cmd.Run(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &ExitError{Code: exitErr.ExitCode()}
		}
		return errors.Wrapf(err, "failed to run %s", e.bin)
	}
	return nil
}

// Engine runs activations. It never touches persisted state.
type Engine struct {
	log logging.Logger
	cli executer
}

// New returns an Engine running bin; an empty bin selects NixosRebuildPath.
// The tool's output is forwarded to stderr.
func New(bin string) *Engine {
	if bin == "" {
		bin = NixosRebuildPath()
	}
	log := logging.New("activate")
	return &Engine{
		log: log,
		cli: &executable{log: log, bin: bin, output: os.Stderr},
	}
}

// Activate switches to configuration from the source tree src.
func (e *Engine) Activate(ctx context.Context, src, configuration string, opts Options) error {
	if configuration == "" {
		return errors.New("no configuration to activate")
	}
	if err := VerifySource(src); err != nil {
		return err
	}
	log := e.log.WithFields(logrus.Fields{
		"src":           src,
		"configuration": configuration,
	})
	log.Info("activating configuration")
	if err := e.cli.execute(ctx, src, Args(configuration, opts)); err != nil {
		return errors.WithMessagef(err, "failed to activate %s", configuration)
	}
	log.Info("configuration activated")
	return nil
}
