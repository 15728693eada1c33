package dkfs

import "log"

// config collects the tunables shared by Create and Open.
type config struct {
	blockCacheCapacity int
	inodeCacheCapacity int
	logger             *log.Logger
}

func defaultConfig() *config {
	return &config{
		blockCacheCapacity: DefaultBlockCacheCapacity,
		inodeCacheCapacity: DefaultBlockCacheCapacity,
		logger:             log.Default(),
	}
}

// Option configures Create or Open.
type Option func(*config)

// WithBlockCacheCapacity overrides the number of blocks the block
// cache holds before it must evict.
func WithBlockCacheCapacity(n int) Option {
	return func(c *config) { c.blockCacheCapacity = n }
}

// WithInodeCacheCapacity overrides the number of inode handles the
// inode cache holds before it must evict.
func WithInodeCacheCapacity(n int) Option {
	return func(c *config) { c.inodeCacheCapacity = n }
}

// WithLogger overrides the logger used for debug/warn diagnostics.
// A nil logger is ignored and the default logger is kept; pass
// log.New(io.Discard, "", 0) to silence output.
func WithLogger(l *log.Logger) Option {
	return func(c *config) {
		if l != nil {
			c.logger = l
		}
	}
}
