package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	stdhttp "net/http"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/net/netutil"

	"github.com/jkaberg/linkarr/config"
)

const shutdownTimeout = 10 * time.Second

// Start serves h on the configured address until ctx is cancelled, then
// shuts the server down gracefully.
func Start(ctx context.Context, cfg *config.HTTPGlobal, h stdhttp.Handler) error {
	addr := fmt.Sprintf("%s:%d", cfg.IP, cfg.Port)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("error listening on %s: %w", addr, err)
	}

	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	return Serve(ctx, ln, h)
}

// Serve is Start for an already open listener.
func Serve(ctx context.Context, ln net.Listener, h stdhttp.Handler) error {
	srv := &stdhttp.Server{
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info().Str("host", ln.Addr().String()).Msg("starting webserver")
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, stdhttp.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("error initializing server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("stopping webserver")

	sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("error shutting down server: %w", err)
	}

	return nil
}
