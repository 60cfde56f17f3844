package transport

import (
	"bytes"
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mustURL(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	require.NoError(t, err)
	return u
}

func TestRegistryUnsupportedScheme(t *testing.T) {
	r := NewRegistry()
	r.Register("file", File{})

	_, err := r.Fingerprint(context.Background(), mustURL(t, "gs://bucket/key"))
	require.Error(t, err)
	assert.True(t, IsUnsupportedProtocol(err))
	assert.Contains(t, err.Error(), "protocol not supported: gs")

	_, err = r.Fetch(context.Background(), mustURL(t, "gs://bucket/key"))
	assert.True(t, IsUnsupportedProtocol(err))
	err = r.Store(context.Background(), mustURL(t, "gs://bucket/key"), strings.NewReader(""))
	assert.True(t, IsUnsupportedProtocol(err))

	assert.Equal(t, []string{"file"}, r.Schemes())
}

func TestDefaultRegistry(t *testing.T) {
	r, err := NewDefaultRegistry(Options{})
	require.NoError(t, err)
	assert.Equal(t, []string{"file", "s3"}, r.Schemes())

	_, err = NewDefaultRegistry(Options{S3Backend: "carrier-pigeon"})
	assert.Error(t, err)
}

func TestFileTransport(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	remote := mustURL(t, "file://"+filepath.Join(dir, "remote", "flake.tar.zst"))
	var tr File

	_, err := tr.Fingerprint(ctx, remote)
	assert.Error(t, err)

	require.NoError(t, tr.Store(ctx, remote, strings.NewReader("one")))
	first, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	again, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	rc, err := tr.Fetch(ctx, remote)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "one", string(data))

	require.NoError(t, tr.Store(ctx, remote, strings.NewReader("two")))
	second, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}

func TestFileFingerprintDoesNotReadContent(t *testing.T) {
	ctx := context.Background()
	remote := mustURL(t, "file://"+filepath.Join(t.TempDir(), "flake.tar.zst"))
	var tr File
	require.NoError(t, tr.Store(ctx, remote, strings.NewReader("one")))
	before, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)

	// Metadata stays reachable even when the content is not.
	require.NoError(t, os.Chmod(remote.Path, 0))
	after, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	require.NoError(t, tr.Store(ctx, remote, strings.NewReader("one")))
	restored, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.NotEqual(t, before, restored)
}

func TestFileTransportRejectsHost(t *testing.T) {
	_, err := File{}.Fetch(context.Background(), mustURL(t, "file://example.com/x"))
	assert.Error(t, err)
}

func TestBucketKey(t *testing.T) {
	bucket, key, err := bucketKey(mustURL(t, "s3://bucket/dir/flake.tar.zst"))
	require.NoError(t, err)
	assert.Equal(t, "bucket", bucket)
	assert.Equal(t, "dir/flake.tar.zst", key)

	_, _, err = bucketKey(mustURL(t, "s3://bucket"))
	assert.Error(t, err)
	_, _, err = bucketKey(mustURL(t, "s3:///key"))
	assert.Error(t, err)
}

// fakeAWS writes a shell script standing in for the aws CLI. Objects live in
// a directory keyed by the last path element of the URL.
func fakeAWS(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	store := filepath.Join(dir, "objects")
	require.NoError(t, os.MkdirAll(store, 0755))
	script := `#!/bin/sh
store="` + store + `"
case "$1 $2" in
"s3 cp")
	if [ "$3" = "-" ]; then
		cat > "$store/$(basename "$4")"
	else
		cat "$store/$(basename "$3")" || exit 1
	fi
	;;
"s3api get-object-attributes")
	obj="$store/$(basename "$6")"
	[ -f "$obj" ] || { echo "NoSuchKey" >&2; exit 254; }
	printf '{"ETag": "\\"%s\\""}' "$(cksum < "$obj" | cut -d' ' -f1)"
	;;
*)
	echo "unexpected: $*" >&2
	exit 2
	;;
esac
`
	bin := filepath.Join(dir, "aws")
	require.NoError(t, os.WriteFile(bin, []byte(script), 0755))
	return bin, store
}

func TestS3CLI(t *testing.T) {
	ctx := context.Background()
	bin, _ := fakeAWS(t)
	tr := NewS3CLI(bin)
	remote := mustURL(t, "s3://bucket/path/flake.tar.zst")

	_, err := tr.Fingerprint(ctx, remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "NoSuchKey")

	require.NoError(t, tr.Store(ctx, remote, bytes.NewReader([]byte("archive-1"))))
	etag, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.NotEmpty(t, etag)

	rc, err := tr.Fetch(ctx, remote)
	require.NoError(t, err)
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "archive-1", string(data))

	require.NoError(t, tr.Store(ctx, remote, bytes.NewReader([]byte("archive-2"))))
	etag2, err := tr.Fingerprint(ctx, remote)
	require.NoError(t, err)
	assert.NotEqual(t, etag, etag2)
}

func TestS3CLIFetchFailureSurfacesOnClose(t *testing.T) {
	bin, _ := fakeAWS(t)
	tr := NewS3CLI(bin)
	rc, err := tr.Fetch(context.Background(), mustURL(t, "s3://bucket/missing"))
	require.NoError(t, err)
	_, _ = io.ReadAll(rc)
	assert.Error(t, rc.Close())
}

func TestAWSCLIPathEnv(t *testing.T) {
	t.Setenv(AWSCLIEnv, "/opt/aws/bin/aws")
	assert.Equal(t, "/opt/aws/bin/aws", AWSCLIPath())
	assert.Equal(t, "/opt/aws/bin/aws", NewS3CLI("").bin)
}
