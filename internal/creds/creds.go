// Package creds supplies signing credentials to the client, one
// immutable snapshot per attempt, and owns the shared cache through
// which authorization failures invalidate stale material.
package creds

import (
	"context"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/ethanadams/awsreq/internal/logging"
	"github.com/ethanadams/awsreq/internal/sigv4"
)

// Provider hands out credentials for a scope and accepts invalidation
// signals when a signed request is rejected. Credentials may suspend
// (e.g. waiting on a refresh); Invalidate must be cheap.
type Provider interface {
	Credentials(ctx context.Context, scope string) (sigv4.Credentials, error)
	Invalidate(scope string, c sigv4.Credentials, reason string)
}

// Static is a Provider backed by a fixed key pair. Invalidate is a
// no-op; there is nothing to rotate.
type Static struct {
	Value sigv4.Credentials
}

func (s Static) Credentials(context.Context, string) (sigv4.Credentials, error) {
	return s.Value, nil
}

func (s Static) Invalidate(string, sigv4.Credentials, string) {}

// Cache wraps a Provider with a per-scope snapshot shared by all
// in-flight operations. Invalidation drops the snapshot and bumps a
// version so concurrent readers refetch on their next attempt; a
// reader that already holds a stale snapshot simply burns one failed
// attempt, which is acceptable. Safe for concurrent use.
type Cache struct {
	source Provider

	mu       sync.Mutex
	entries  map[string]sigv4.Credentials
	versions map[string]uint64
	hooks    []func()
}

// NewCache builds a credential cache over source.
func NewCache(source Provider) *Cache {
	return &Cache{
		source:   source,
		entries:  make(map[string]sigv4.Credentials),
		versions: make(map[string]uint64),
	}
}

// OnInvalidate registers a hook run after every invalidation. The
// signer registers its key-cache flush here so derived keys never
// outlive the credentials they came from.
func (c *Cache) OnInvalidate(hook func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.hooks = append(c.hooks, hook)
}

// Credentials returns the cached snapshot for scope, fetching from the
// source on a miss.
func (c *Cache) Credentials(ctx context.Context, scope string) (sigv4.Credentials, error) {
	c.mu.Lock()
	if snapshot, ok := c.entries[scope]; ok {
		c.mu.Unlock()
		return snapshot, nil
	}
	version := c.versions[scope]
	c.mu.Unlock()

	// Fetch outside the lock; a refresh may block.
	fetched, err := c.source.Credentials(ctx, scope)
	if err != nil {
		return sigv4.Credentials{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Only install if no invalidation raced the fetch.
	if c.versions[scope] == version {
		c.entries[scope] = fetched
	}
	return fetched, nil
}

// Invalidate drops the cached snapshot for scope if it still matches
// the rejected credentials, forwards the signal to the source, and
// runs the registered hooks.
func (c *Cache) Invalidate(scope string, rejected sigv4.Credentials, reason string) {
	c.mu.Lock()
	if cached, ok := c.entries[scope]; ok && cached.AccessKeyID == rejected.AccessKeyID {
		delete(c.entries, scope)
	}
	c.versions[scope]++
	hooks := append([]func(){}, c.hooks...)
	c.mu.Unlock()

	logging.Warn("Invalidating credentials for scope %s: %s", scope, reason)
	c.source.Invalidate(scope, rejected, reason)
	for _, hook := range hooks {
		hook()
	}
}

// SDKProvider adapts an aws-sdk-go-v2 credentials provider, letting
// the client sign with anything the SDK can load (profiles, IMDS,
// SSO). Wrap the SDK provider in an aws.CredentialsCache to get
// refresh-on-invalidate behavior.
type SDKProvider struct {
	Source aws.CredentialsProvider
}

func (p *SDKProvider) Credentials(ctx context.Context, _ string) (sigv4.Credentials, error) {
	v, err := p.Source.Retrieve(ctx)
	if err != nil {
		return sigv4.Credentials{}, err
	}
	return sigv4.Credentials{
		AccessKeyID:     v.AccessKeyID,
		SecretAccessKey: v.SecretAccessKey,
		SessionToken:    v.SessionToken,
	}, nil
}

func (p *SDKProvider) Invalidate(scope string, _ sigv4.Credentials, reason string) {
	type invalidator interface{ Invalidate() }
	if cache, ok := p.Source.(invalidator); ok {
		logging.Debug("Invalidating SDK credential cache for scope %s: %s", scope, reason)
		cache.Invalidate()
	}
}
