package transport

import (
	"context"
	"io"
	"net/url"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/npcnix/npcnix/pkg/logging"
	"github.com/pkg/errors"
)

var _ Transport = (*S3SDK)(nil)

// S3SDK implements s3:// remotes with the AWS SDK instead of the aws CLI. It
// uses the SDK's default credential chain and shared config.
type S3SDK struct {
	log      logging.Logger
	client   s3iface.S3API
	uploader *s3manager.Uploader
}

// NewS3SDK creates the SDK backend from the environment's AWS configuration.
func NewS3SDK() (*S3SDK, error) {
	sess, err := session.NewSessionWithOptions(session.Options{
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create aws session")
	}
	client := s3.New(sess)
	return newS3SDK(client), nil
}

func newS3SDK(client s3iface.S3API) *S3SDK {
	return &S3SDK{
		log:      logging.New("transport").WithField(logging.SubComponentField, "s3-sdk"),
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}
}

func (s *S3SDK) Fetch(ctx context.Context, remote *url.URL) (io.ReadCloser, error) {
	bucket, key, err := bucketKey(remote)
	if err != nil {
		return nil, err
	}
	s.log.WithField("remote", remote.String()).Debug("fetching object")
	out, err := s.client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get %s", remote)
	}
	return out.Body, nil
}

func (s *S3SDK) Store(ctx context.Context, remote *url.URL, r io.Reader) error {
	bucket, key, err := bucketKey(remote)
	if err != nil {
		return err
	}
	s.log.WithField("remote", remote.String()).Debug("uploading object")
	_, err = s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   r,
	})
	return errors.Wrapf(err, "failed to upload %s", remote)
}

func (s *S3SDK) Fingerprint(ctx context.Context, remote *url.URL) (string, error) {
	bucket, key, err := bucketKey(remote)
	if err != nil {
		return "", err
	}
	out, err := s.client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return "", errors.Wrapf(err, "failed to head %s", remote)
	}
	etag := aws.StringValue(out.ETag)
	if etag == "" {
		return "", errors.Errorf("no ETag returned for %s", remote)
	}
	return etag, nil
}
