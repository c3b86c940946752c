// Package storage is the persistence surface for client session state: the
// bearer token, the cached user record and the email awaiting PIN
// verification.
package storage

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned by Backend.Get when the key holds no value.
	ErrNotFound = errors.New("storage: key not found")
	// ErrCorrupt means the stored document could not be decoded. Writes
	// replace it; reads through Tokens treat it as empty.
	ErrCorrupt = errors.New("storage: corrupt document")
)

// Backend is a synchronous key-value surface. A successful Set or Delete is
// durable by the time it returns.
type Backend interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, keys ...string) error
}

// noopBackend stands in when no storage surface exists (server-rendered paths,
// tests of pure logic). Reads report absent and writes are dropped.
type noopBackend struct{}

// NewNoop returns a Backend that never stores anything and never fails.
func NewNoop() Backend { return noopBackend{} }

func (noopBackend) Get(context.Context, string) (string, error) { return "", ErrNotFound }

func (noopBackend) Set(context.Context, string, string) error { return nil }

func (noopBackend) Delete(context.Context, ...string) error { return nil }
