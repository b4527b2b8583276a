package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/Yozuusan/Adtest-sub000/connectivity"
)

var (
	serveMCP        bool
	serveRPC        bool
	retentionPeriod time.Duration
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the adapter API, mapping workers, MCP tools and connectivity services",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().BoolVar(&serveMCP, "mcp", true, "expose MCP tools on /mcp")
	serveCmd.Flags().BoolVar(&serveRPC, "rpc", true, "expose connectivity services on /rpc/{service}")
	serveCmd.Flags().DurationVar(&retentionPeriod, "retention-every", time.Hour, "interval of view event, metric and finished job cleanup")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	svc, err := openService(ctx)
	if err != nil {
		return err
	}
	defer svc.Close()

	r := chi.NewRouter()
	if serveMCP {
		mcpSrv := mcp.NewServer(&mcp.Implementation{Name: "adaptd", Version: "1.0.0"}, nil)
		svc.RegisterMCP(mcpSrv)
		r.Handle("/mcp", mcp.NewStreamableHTTPHandler(func(*http.Request) *mcp.Server { return mcpSrv }, nil))
	}
	if serveRPC {
		router := connectivity.New(connectivity.WithLogger(logger))
		svc.RegisterConnectivity(router)
		defer router.Close()
		logger.Info("adaptd: connectivity services", "services", router.Services())
		r.Handle("/rpc/*", router.HTTPHandler(4<<20))
	}
	r.Mount("/", svc.Handler())

	srv := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("adaptd: listening", "addr", cfg.HTTP.Addr, "mcp", serveMCP, "rpc", serveRPC)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		svc.RunRetention(gctx, retentionPeriod)
		return nil
	})
	g.Go(func() error {
		svc.RunWorkers(gctx)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("adaptd: shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
