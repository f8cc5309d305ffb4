package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/urfave/cli/v2"

	"github.com/hazyhaar/feedbackvos/feedback"
	"github.com/hazyhaar/feedbackvos/shield"
)

func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}

func serveCmd() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Serve the widget API over HTTP",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.addr)"},
			&cli.BoolFlag{Name: "mcp-stdio", Usage: "Also serve the MCP tools on stdin/stdout"},
		},
		Action: func(c *cli.Context) error {
			s, err := setup(c)
			if err != nil {
				return err
			}
			defer s.Close()

			ctx, cancel := runCtx(c)
			defer cancel()
			return serve(ctx, s, c.String("addr"), c.Bool("mcp-stdio"))
		},
	}
}

func serve(ctx context.Context, s *stack, addr string, mcpStdio bool) error {
	logger := s.logger
	if addr == "" {
		addr = s.cfg.Server.Addr
	}
	if err := s.cfg.GitHub.Target().Validate(); err != nil {
		logger.Warn("feedbackd: submissions will fail until configured", "error", err)
	}

	widget, err := feedback.New(s.widgetConfig())
	if err != nil {
		return err
	}
	defer widget.Close()
	go widget.Sessions().Run(ctx, s.cfg.Server.SweepInterval)

	if mcpStdio {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "feedbackd", Version: Version}, nil)
		widget.RegisterMCP(mcpSrv)
		go func() {
			if err := mcpSrv.Run(ctx, &mcp.StdioTransport{}); err != nil && ctx.Err() == nil {
				logger.Error("feedbackd: MCP stdio", "error", err)
			}
		}()
	}

	rules := shield.DefaultRules()
	for i := range rules {
		switch rules[i].Suffix {
		case "/submit":
			rules[i].MaxRequests = s.cfg.Server.SubmitPerMinute
		case "/screenshot/capture":
			rules[i].MaxRequests = s.cfg.Server.CapturePerMinute
		}
	}
	stack, limiter := shield.DefaultStack(rules, "/health")
	go limiter.Run(ctx, 5*time.Minute)

	r := chi.NewRouter()
	for _, mw := range stack {
		r.Use(mw)
	}
	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok"}`))
	})
	r.Mount(s.cfg.Server.BasePath, widget.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		logger.Info("feedbackd: listening",
			"addr", addr,
			"base_path", s.cfg.Server.BasePath,
			"repo", s.cfg.GitHub.Target().FullName(),
			"capture", s.engine != nil)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err := <-errc:
		if err != nil {
			return err
		}
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("feedbackd: shutdown", "error", err)
	}
	logger.Info("feedbackd: stopped")
	return nil
}
