package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"openapi-mesh-handler/cache"
	"openapi-mesh-handler/config"
	meshhandler "openapi-mesh-handler/mesh_handler"
	"openapi-mesh-handler/server"
	"openapi-mesh-handler/watcher"
)

func newServeCommand(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "serve",
		Short:   "Run the GraphQL server",
		Example: "openapi-mesh serve --config mesh.yaml",
		RunE: func(cmd *cobra.Command, _ []string) error {
			path, _ := cmd.Flags().GetString("config")
			format, _ := cmd.Flags().GetString("log-format")

			cfg, err := config.Load(v, path)
			if err != nil {
				return err
			}
			log, err := setupLogger(cmd.ErrOrStderr(), cfg.Server.LogLevel, format)
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			srv, err := buildServer(ctx, cfg, log)
			if err != nil {
				return err
			}
			return run(ctx, srv, cfg.Server, log)
		},
	}

	cmd.Flags().StringP("config", "c", "mesh.yaml", "path to the mesh config file")
	cmd.Flags().String("addr", ":4000", "listen address")
	cmd.Flags().String("log-level", "info", "log level")
	cmd.Flags().Bool("watch", false, "reload sources when local documents change")
	bindFlag(v, cmd, "server.addr", "addr")
	bindFlag(v, cmd, "server.logLevel", "log-level")
	bindFlag(v, cmd, "server.watch", "watch")
	return cmd
}

// buildServer creates one mesh handler per source, sharing a document cache.
func buildServer(ctx context.Context, cfg *config.Config, log *zerolog.Logger) (*server.Server, error) {
	c, err := cache.NewLRU(cfg.Server.CacheSize)
	if err != nil {
		return nil, err
	}

	srv := server.New(cfg.Server, log)
	for _, s := range cfg.Sources {
		h := meshhandler.New(meshhandler.Options{
			Name:   s.Name,
			Config: *s.Handler.Openapi,
			Cache:  c,
			Logger: log,
		})
		if err := srv.Add(ctx, h); err != nil {
			return nil, errors.Wrapf(err, "failed to build source %q", s.Name)
		}
	}
	return srv, nil
}

func run(ctx context.Context, srv *server.Server, cfg config.Server, log *zerolog.Logger) error {
	if cfg.Watch {
		fw, err := watcher.NewFileWatcher(srv, log)
		if err != nil {
			return err
		}
		go func() {
			if err := fw.WatchFiles(ctx, srv.LocalSources(), watcher.DefaultDebounce); err != nil {
				log.Error().Err(err).Msg("File watcher stopped")
			}
		}()
	}

	return srv.ListenAndServe(ctx)
}
