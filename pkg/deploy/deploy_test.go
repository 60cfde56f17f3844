package deploy

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/npcnix/npcnix/pkg/activate"
	"github.com/npcnix/npcnix/pkg/archive"
	"github.com/npcnix/npcnix/pkg/datadir"
	"github.com/npcnix/npcnix/pkg/transport"
)

func sourceTree(t *testing.T) string {
	src := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(src, activate.ManifestName), []byte("{ outputs = _: {}; }"), 0644))
	require.NoError(t, os.MkdirAll(filepath.Join(src, "hosts"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "hosts", "web.nix"), []byte("{ }"), 0644))
	return src
}

func fileRemote(t *testing.T) *url.URL {
	return &url.URL{Scheme: "file", Path: filepath.Join(t.TempDir(), "flake.tar.zst")}
}

func TestPushPull(t *testing.T) {
	ctx := context.Background()
	src := sourceTree(t)
	remote := fileRemote(t)
	var tr transport.File

	require.NoError(t, Push(ctx, tr, src, nil, remote))

	dst := filepath.Join(t.TempDir(), "unpacked")
	require.NoError(t, Pull(ctx, tr, remote, dst))
	data, err := os.ReadFile(filepath.Join(dst, "hosts", "web.nix"))
	require.NoError(t, err)
	assert.Equal(t, "{ }", string(data))
	assert.FileExists(t, filepath.Join(dst, activate.ManifestName))
}

func TestPushRequiresManifest(t *testing.T) {
	remote := fileRemote(t)
	err := Push(context.Background(), transport.File{}, t.TempDir(), nil, remote)
	assert.True(t, errors.Is(err, activate.ErrMissingManifest))
	assert.NoFileExists(t, remote.Path)
}

type failingStore struct {
	transport.File
}

func (failingStore) Store(context.Context, *url.URL, io.Reader) error {
	return errors.New("access denied")
}

func TestPushUploadFailure(t *testing.T) {
	err := Push(context.Background(), failingStore{}, sourceTree(t), nil, fileRemote(t))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

// cancelObservingStore stores through the file transport and records whether
// the upload was cancelled by the time the stream ended.
type cancelObservingStore struct {
	transport.File
	cancelled bool
}

func (s *cancelObservingStore) Store(ctx context.Context, remote *url.URL, r io.Reader) error {
	err := s.File.Store(ctx, remote, r)
	s.cancelled = ctx.Err() != nil
	return err
}

func TestPushPackFailureCancelsUpload(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("permissions are not enforced for root")
	}
	src := sourceTree(t)
	locked := filepath.Join(src, "hosts", "web.nix")
	require.NoError(t, os.Chmod(locked, 0))
	remote := fileRemote(t)

	store := &cancelObservingStore{}
	err := Push(context.Background(), store, src, nil, remote)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to pack")
	assert.True(t, store.cancelled, "upload should be cancelled before the stream ends")
	assert.NoFileExists(t, remote.Path)
}

func TestPullMissingRemote(t *testing.T) {
	err := Pull(context.Background(), transport.File{}, fileRemote(t), t.TempDir())
	assert.Error(t, err)
}

func TestPackToFile(t *testing.T) {
	src := sourceTree(t)
	dst := filepath.Join(t.TempDir(), "out", "flake.tar.zst")
	require.NoError(t, PackToFile(src, archive.NewIncludeSet("hosts"), dst))

	f, err := os.Open(dst)
	require.NoError(t, err)
	defer f.Close()
	out := t.TempDir()
	require.NoError(t, archive.Unpack(f, out))
	assert.FileExists(t, filepath.Join(out, "hosts", "web.nix"))

	err = PackToFile(t.TempDir(), nil, filepath.Join(t.TempDir(), "x"))
	assert.True(t, errors.Is(err, activate.ErrMissingManifest))
}

type testActivator struct {
	calls []string
	err   error
}

func (a *testActivator) Activate(_ context.Context, src, configuration string, _ activate.Options) error {
	a.calls = append(a.calls, configuration+"@"+src)
	return a.err
}

func TestActivateRecordsConfiguration(t *testing.T) {
	d := datadir.New(t.TempDir())
	c, err := d.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, d.StoreConfig(c.WithLastReconfiguration("web", "etag-1", c.LastReconfiguration())))

	eng := &testActivator{}
	src := sourceTree(t)
	require.NoError(t, Activate(context.Background(), d, eng, src, "db", activate.Options{}))
	assert.Equal(t, []string{"db@" + src}, eng.calls)

	c, err = d.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "db", c.LastConfiguration())
	assert.Equal(t, "", c.LastFingerprint())
	assert.False(t, c.LastReconfiguration().IsZero())
}

func TestActivateFailureKeepsState(t *testing.T) {
	d := datadir.New(t.TempDir())
	c, err := d.LoadConfig()
	require.NoError(t, err)
	require.NoError(t, d.StoreConfig(c.WithLastReconfiguration("web", "etag-1", c.LastReconfiguration())))

	eng := &testActivator{err: &activate.ExitError{Code: 1}}
	err = Activate(context.Background(), d, eng, sourceTree(t), "web", activate.Options{})
	require.Error(t, err)

	c, err = d.LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "etag-1", c.LastFingerprint())
}
