// Package transport moves archives to and from remotes. A remote is a URL and
// its scheme selects the Transport that handles it.
package transport

import (
	"context"
	"io"
	"net/url"
	"sort"
	"sync"

	"github.com/pkg/errors"
)

// Transport is implemented by each supported remote scheme.
type Transport interface {
	// Fetch streams the object at remote. The caller must Close the returned
	// reader; Close reports failures of the underlying transfer.
	Fetch(ctx context.Context, remote *url.URL) (io.ReadCloser, error)
	// Store streams r to the object at remote.
	Store(ctx context.Context, remote *url.URL, r io.Reader) error
	// Fingerprint returns an opaque value that changes whenever the content
	// of the object at remote changes. It must not transfer the object.
	Fingerprint(ctx context.Context, remote *url.URL) (string, error)
}

// UnsupportedProtocolError is returned for remotes whose scheme has no
// registered Transport.
type UnsupportedProtocolError struct {
	Scheme string
}

func (e *UnsupportedProtocolError) Error() string {
	return "protocol not supported: " + e.Scheme
}

// IsUnsupportedProtocol reports whether err was caused by an unknown scheme.
func IsUnsupportedProtocol(err error) bool {
	var target *UnsupportedProtocolError
	return errors.As(err, &target)
}

var _ Transport = (*Registry)(nil)

// Registry dispatches to the Transport registered for a remote's scheme. It
// is itself a Transport.
type Registry struct {
	mu         sync.RWMutex
	transports map[string]Transport
}

func NewRegistry() *Registry {
	return &Registry{transports: make(map[string]Transport)}
}

// Register makes t handle remotes with scheme, replacing any previous
// registration.
func (r *Registry) Register(scheme string, t Transport) {
	r.mu.Lock()
	r.transports[scheme] = t
	r.mu.Unlock()
}

// Lookup returns the Transport for remote's scheme.
func (r *Registry) Lookup(remote *url.URL) (Transport, error) {
	r.mu.RLock()
	t, ok := r.transports[remote.Scheme]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnsupportedProtocolError{Scheme: remote.Scheme}
	}
	return t, nil
}

// Schemes lists the registered schemes.
func (r *Registry) Schemes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	schemes := make([]string, 0, len(r.transports))
	for s := range r.transports {
		schemes = append(schemes, s)
	}
	sort.Strings(schemes)
	return schemes
}

func (r *Registry) Fetch(ctx context.Context, remote *url.URL) (io.ReadCloser, error) {
	t, err := r.Lookup(remote)
	if err != nil {
		return nil, err
	}
	return t.Fetch(ctx, remote)
}

func (r *Registry) Store(ctx context.Context, remote *url.URL, rd io.Reader) error {
	t, err := r.Lookup(remote)
	if err != nil {
		return err
	}
	return t.Store(ctx, remote, rd)
}

func (r *Registry) Fingerprint(ctx context.Context, remote *url.URL) (string, error) {
	t, err := r.Lookup(remote)
	if err != nil {
		return "", err
	}
	return t.Fingerprint(ctx, remote)
}
