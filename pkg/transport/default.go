package transport

import "github.com/pkg/errors"

const (
	// S3BackendCLI runs the aws CLI for s3:// remotes.
	S3BackendCLI = "cli"
	// S3BackendSDK talks to S3 directly with the AWS SDK.
	S3BackendSDK = "sdk"
)

// Options select the implementation behind each scheme.
type Options struct {
	// S3Backend is S3BackendCLI (default) or S3BackendSDK.
	S3Backend string
	// AWSCLI overrides the aws executable for the CLI backend.
	AWSCLI string
}

// NewDefaultRegistry registers every supported scheme.
func NewDefaultRegistry(opts Options) (*Registry, error) {
	r := NewRegistry()
	switch opts.S3Backend {
	case "", S3BackendCLI:
		r.Register("s3", NewS3CLI(opts.AWSCLI))
	case S3BackendSDK:
		t, err := NewS3SDK()
		if err != nil {
			return nil, err
		}
		r.Register("s3", t)
	default:
		return nil, errors.Errorf("unknown s3 backend %q", opts.S3Backend)
	}
	r.Register("file", File{})
	return r, nil
}
