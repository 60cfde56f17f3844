package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/url"
	"os"
	"os/exec"
	"strings"

	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
)

const (
	// AWSCLIEnv names an alternative aws executable.
	AWSCLIEnv = "NPCNIX_AWS_CLI"

	defaultAWSCLI = "aws"
)

// AWSCLIPath returns the aws executable to run.
func AWSCLIPath() string {
	if p := os.Getenv(AWSCLIEnv); p != "" {
		return p
	}
	return defaultAWSCLI
}

var _ Transport = (*S3CLI)(nil)

// S3CLI implements s3:// remotes by running the aws CLI.
type S3CLI struct {
	log logging.Logger
	bin string
}

// NewS3CLI uses bin as the aws executable; an empty bin selects AWSCLIPath.
func NewS3CLI(bin string) *S3CLI {
	if bin == "" {
		bin = AWSCLIPath()
	}
	return &S3CLI{
		log: logging.New("transport").WithField(logging.SubComponentField, "s3-cli"),
		bin: bin,
	}
}

func (s *S3CLI) command(ctx context.Context, args ...string) *exec.Cmd {
	cmd := exec.CommandContext(ctx, s.bin, args...)
	s.log.WithField("cmd", cmd.String()).Debug("executing command")
	return cmd
}

func (s *S3CLI) Fetch(ctx context.Context, remote *url.URL) (io.ReadCloser, error) {
	cmd := s.command(ctx, "s3", "cp", remote.String(), "-")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, errors.Wrap(err, "failed to set up aws cli output")
	}
	if err := cmd.Start(); err != nil {
		return nil, errors.Wrap(err, "aws cli failed to start")
	}
	return &commandReader{ReadCloser: stdout, cmd: cmd, stderr: &stderr}, nil
}

func (s *S3CLI) Store(ctx context.Context, remote *url.URL, r io.Reader) error {
	cmd := s.command(ctx, "s3", "cp", "-", remote.String())
	cmd.Stdin = r
	output, err := cmd.CombinedOutput()
	if err != nil {
		return errors.Wrapf(err, "aws s3 cp to %s failed: %s", remote, strings.TrimSpace(string(output)))
	}
	return nil
}

type etagResponse struct {
	ETag string `json:"ETag"`
}

func (s *S3CLI) Fingerprint(ctx context.Context, remote *url.URL) (string, error) {
	bucket, key, err := bucketKey(remote)
	if err != nil {
		return "", err
	}
	cmd := s.command(ctx, "s3api", "get-object-attributes",
		"--bucket", bucket,
		"--key", key,
		"--object-attributes", "ETag")
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.Output()
	if err != nil {
		return "", errors.Wrapf(err, "aws s3api get-object-attributes failed: stdout=%s stderr=%s",
			strings.TrimSpace(string(stdout)), strings.TrimSpace(stderr.String()))
	}
	var resp etagResponse
	if err := json.Unmarshal(stdout, &resp); err != nil {
		return "", errors.Wrap(err, "failed to parse aws s3api response")
	}
	if resp.ETag == "" {
		return "", errors.New("aws s3api response has no ETag")
	}
	return resp.ETag, nil
}

// bucketKey splits an s3://bucket/key URL.
func bucketKey(remote *url.URL) (string, string, error) {
	if remote.Host == "" {
		return "", "", errors.Errorf("remote %s has no bucket", remote)
	}
	if !strings.HasPrefix(remote.Path, "/") || len(remote.Path) < 2 {
		return "", "", errors.Errorf("remote %s has no object key", remote)
	}
	return remote.Host, remote.Path[1:], nil
}

// commandReader streams a command's stdout and reports the command's failure
// on Close.
type commandReader struct {
	io.ReadCloser
	cmd    *exec.Cmd
	stderr *bytes.Buffer
}

func (c *commandReader) Close() error {
	// Drain so that the process is not blocked writing to a closed pipe when
	// the consumer stopped early.
	_, _ = io.Copy(io.Discard, c.ReadCloser)
	if err := c.cmd.Wait(); err != nil {
		return errors.Wrapf(err, "%s failed: %s", c.cmd.Path, strings.TrimSpace(c.stderr.String()))
	}
	return nil
}
