package admin

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"time"

	"go.uber.org/fx"

	"github.com/webitel/connpool/config"
)

// Module wires the admin HTTP server into the fx application: it starts
// listening in OnStart and shuts down gracefully in OnStop, the same
// lifecycle-hook shape the teacher's gRPC server module used.
var Module = fx.Module("admin",
	fx.Provide(NewServer),
	fx.Invoke(registerLifecycle),
)

// NewServer builds the *http.Server for the management surface. It is
// not started until the fx lifecycle's OnStart hook runs.
func NewServer(cfg *config.Config, pool Pool) *http.Server {
	return &http.Server{
		Addr:              cfg.Admin.ListenAddr,
		Handler:           NewRouter(pool, cfg.Admin.BearerToken),
		ReadHeaderTimeout: 5 * time.Second,
	}
}

func registerLifecycle(lc fx.Lifecycle, srv *http.Server, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			ln, err := net.Listen("tcp", srv.Addr)
			if err != nil {
				return err
			}
			go func() {
				if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("ADMIN_SERVER_FAILED", slog.Any("error", err))
				}
			}()
			logger.Info("ADMIN_SERVER_LISTENING", slog.String("addr", srv.Addr))
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
