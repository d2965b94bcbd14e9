package display

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/IvanBrykalov/rescache/cache"
)

// DefaultMaxServers is how many idle servers the cache keeps listening.
const DefaultMaxServers = 10

// ServerCache shares one Server per port between every Display.
type ServerCache = cache.Cache[int, *Server]

// ServerCacheOptions configures NewServerCache.
type ServerCacheOptions struct {
	// MaxServers bounds the number of resident servers; 0 => DefaultMaxServers.
	MaxServers int64
	Host       string
	Logger     zerolog.Logger
	Metrics    cache.Metrics

	// Listen overrides how a server is created for a port; nil => Listen.
	Listen func(ctx context.Context, port int) (*Server, error)
}

// NewServerCache returns a cache that starts a Server on first request for
// a port and closes it once no Display uses it and it has been evicted.
// Each server costs 1, so MaxServers is a plain count.
func NewServerCache(opts ServerCacheOptions) ServerCache {
	if opts.MaxServers <= 0 {
		opts.MaxServers = DefaultMaxServers
	}
	log := opts.Logger
	listen := opts.Listen
	if listen == nil {
		listen = func(ctx context.Context, port int) (*Server, error) {
			return Listen(ctx, port, ServerOptions{Host: opts.Host, Logger: log})
		}
	}

	return cache.New[int, *Server](cache.Options[int, *Server]{
		MaxCost: opts.MaxServers,
		Factory: cache.UnitCost(listen),
		Destroy: func(port int, s *Server) {
			if err := s.Close(); err != nil {
				log.Warn().Err(err).Int("port", port).Msg("closing display server")
			}
		},
		OnEvict: func(port int, reason cache.EvictReason) {
			log.Debug().Int("port", port).Stringer("reason", reason).Msg("display server evicted")
		},
		Metrics: opts.Metrics,
	})
}
