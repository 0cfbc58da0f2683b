// Package store is the persistence adapter: named keys in a session scope
// (lives until the session ends) and a device scope (lives indefinitely).
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/stemsi/exstem-proctor/internal/config"
)

// ErrNotFound is returned by Get when a key holds no value.
var ErrNotFound = errors.New("store: key not found")

// Scope is a key/value store. Values are opaque bytes.
type Scope interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
}

// Adapter bundles the two scopes a session persists into.
type Adapter struct {
	Session Scope
	Device  Scope
}

// GetJSON decodes the value under key into v.
func GetJSON(ctx context.Context, s Scope, key config.Key, v any) error {
	raw, err := s.Get(ctx, key.String())
	if err != nil {
		return err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("decode %s: %w", key, err)
	}
	return nil
}

// SetJSON encodes v and writes it under key.
func SetJSON(ctx context.Context, s Scope, key config.Key, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return s.Set(ctx, key.String(), raw)
}

type namespaced struct {
	inner  Scope
	prefix string
}

// Namespaced prefixes every key written through the returned scope.
func Namespaced(s Scope, prefix string) Scope {
	return &namespaced{inner: s, prefix: prefix}
}

func (n *namespaced) Get(ctx context.Context, key string) ([]byte, error) {
	return n.inner.Get(ctx, n.prefix+key)
}

func (n *namespaced) Set(ctx context.Context, key string, value []byte) error {
	return n.inner.Set(ctx, n.prefix+key, value)
}

func (n *namespaced) Delete(ctx context.Context, key string) error {
	return n.inner.Delete(ctx, n.prefix+key)
}
