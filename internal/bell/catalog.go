// Package bell holds the catalog of bell sounds: symbolic keys mapped to
// audio files below a root directory.
package bell

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	appLog "schoolbell/internal/log"
	"schoolbell/internal/player"
)

var (
	// ErrUnknownKey is returned when a bell key is not in the catalog.
	ErrUnknownKey = errors.New("unknown bell key")
	// ErrNotFound is returned when a clip file does not exist.
	ErrNotFound = errors.New("bell file not found")
	// ErrPlayback is returned when the startup test play fails.
	ErrPlayback = errors.New("bell file could not be played")
	// ErrDuplicateKey is returned when a key is registered twice.
	ErrDuplicateKey = errors.New("duplicate bell key")
)

// Tester plays a short sample of a clip. *player.Player satisfies it.
type Tester interface {
	Play(ctx context.Context, clip string, opts player.PlayOptions) error
}

// Catalog maps bell keys to clip paths. It is filled at startup and read
// without locking afterwards.
type Catalog struct {
	root   string
	device string
	test   bool
	tester Tester
	log    *appLog.Logger

	relative map[string]string
	resolved map[string]string
}

// Options configure a Catalog.
type Options struct {
	// Root is the directory relative paths are resolved against.
	Root string
	// Device is passed to the tester for test plays.
	Device string
	// Test enables a short test play of each clip at registration.
	Test bool
}

// NewCatalog returns an empty catalog. tester may be nil when opts.Test is
// false.
func NewCatalog(opts Options, tester Tester, logger *appLog.Logger) *Catalog {
	return &Catalog{
		root:     os.ExpandEnv(opts.Root),
		device:   opts.Device,
		test:     opts.Test,
		tester:   tester,
		log:      logger,
		relative: make(map[string]string),
		resolved: make(map[string]string),
	}
}

// Register resolves relativePath against the catalog root, checks that it is
// a regular file and, in test mode, plays a one second sample.
func (c *Catalog) Register(ctx context.Context, key, relativePath string) error {
	if _, ok := c.relative[key]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateKey, key)
	}

	relativePath = os.ExpandEnv(relativePath)
	path := filepath.Join(c.root, relativePath)
	info, err := os.Stat(path)
	if err != nil || !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	}

	if c.test {
		if c.tester == nil {
			return fmt.Errorf("%w: %s: no player", ErrPlayback, path)
		}
		if err := c.tester.Play(ctx, path, player.PlayOptions{Device: c.device, Test: true}); err != nil {
			return fmt.Errorf("%w: %s: %v", ErrPlayback, path, err)
		}
	}

	c.relative[key] = relativePath
	c.resolved[key] = path
	c.log.Info("bell registered", "key", key, "path", path, "tested", c.test)
	return nil
}

// RegisterAll registers every key of wav in sorted order and stops at the
// first error.
func (c *Catalog) RegisterAll(ctx context.Context, wav map[string]string) error {
	keys := make([]string, 0, len(wav))
	for k := range wav {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		if err := c.Register(ctx, k, wav[k]); err != nil {
			return err
		}
	}
	if !c.test {
		c.log.Warn("bell files not played to test (run with --test instead)")
	}
	return nil
}

// Resolve returns the local path of key.
func (c *Catalog) Resolve(key string) (string, error) {
	path, ok := c.resolved[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return path, nil
}

// ResolveIn returns the path of key's clip below a different root, such
// as the copy of the bell files on a trigger host.
func (c *Catalog) ResolveIn(key, root string) (string, error) {
	rel, ok := c.relative[key]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownKey, key)
	}
	return filepath.Join(root, rel), nil
}

// Has reports whether key is registered.
func (c *Catalog) Has(key string) bool {
	_, ok := c.resolved[key]
	return ok
}

// Keys returns the registered keys in sorted order.
func (c *Catalog) Keys() []string {
	keys := make([]string, 0, len(c.resolved))
	for k := range c.resolved {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Root returns the expanded root directory.
func (c *Catalog) Root() string {
	return c.root
}
