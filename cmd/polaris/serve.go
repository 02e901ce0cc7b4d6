package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v5"
	"github.com/labstack/echo/v5/middleware"
	"github.com/urfave/cli/v3"

	"github.com/Tech-Tweakers/polaris-core/internal/api"
	"github.com/Tech-Tweakers/polaris-core/internal/logger"
)

func serveCmd() *cli.Command {
	flags := append([]cli.Flag{}, commonModelFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:  "addr",
			Usage: "listen address",
			Value: "127.0.0.1:8080",
		},
		&cli.DurationFlag{
			Name:  "read-timeout",
			Usage: "read header timeout",
			Value: 30 * time.Second,
		},
		&cli.IntFlag{
			Name:  "max-queue",
			Usage: "generate calls allowed in flight before returning 429",
		},
		&cli.StringFlag{
			Name:  "history",
			Usage: "record generations in this sqlite file",
		},
	)

	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the HTTP generate API",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			log := logger.FromContext(ctx)

			cfg, err := loadSettings(cmd)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if cmd.IsSet("addr") {
				cfg.Server.Address = cmd.String("addr")
			}
			setInt(cmd, "max-queue", &cfg.Server.MaxQueue)
			if cmd.IsSet("history") {
				cfg.Server.History = cmd.String("history")
			}

			sess, err := openSession(ctx, cfg)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			defer func() { _ = sess.Close() }()

			store, err := openHistory(ctx, cfg.Server.History)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), 1)
			}
			if store != nil {
				defer func() { _ = store.Close() }()
			}

			server := api.NewServer(api.Config{
				Engine:   sess,
				Backend:  sess.backend,
				Model:    cfg.Model,
				Defaults: cfg.GenDefaults(),
				History:  store,
				MaxQueue: int64(cfg.MaxQueue()),
				Logger:   log,
			})
			e := echo.New()
			e.Use(middleware.RequestLogger())
			e.Use(middleware.Recover())
			server.Register(e)

			addr := cfg.ServerAddress()
			log.Info("starting server", "address", addr, "max_queue", cfg.MaxQueue())
			sc := echo.StartConfig{
				Address: addr,
				BeforeServeFunc: func(srv *http.Server) error {
					srv.ReadHeaderTimeout = cmd.Duration("read-timeout")
					return nil
				},
			}
			return sc.Start(ctx, e)
		},
	}
}
