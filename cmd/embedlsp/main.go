package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"embedlsp/internal/config"
	"embedlsp/internal/metrics"
	"embedlsp/internal/server"

	"github.com/spf13/cobra"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
	"golang.org/x/sync/errgroup"
)

// Version will be set during the build process using ldflags
var Version = "(dev) v0.0.0"

var (
	configPath  string
	logfile     string
	verbosity   int
	metricsAddr string
	listenAddr  string
	debugRPC    bool

	log = commonlog.GetLogger("embedlsp")

	rootCmd = &cobra.Command{
		Use:   "embedlsp",
		Short: "Language server proxy for documents that embed one language in another",
		Long: `embedlsp sits between an editor and two language servers. Requests the
primary server cannot answer at a position inside embedded content are
answered by the secondary server against a virtual document.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          run,
	}
)

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "", "YAML or JSON configuration file")
	flags.StringVar(&logfile, "logfile", "", "Path to log file (default stderr)")
	flags.CountVarP(&verbosity, "verbose", "v", "Increase log verbosity")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address")
	flags.StringVar(&listenAddr, "tcp", "", "Accept editor connections on this address instead of stdio")
	flags.BoolVar(&debugRPC, "debug-rpc", false, "Log every JSON-RPC message")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "embedlsp: %s\n", err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	// Never log to stdout, it carries the protocol.
	var path *string
	if logfile != "" {
		path = &logfile
	}
	commonlog.Configure(verbosity, path)

	cfg := config.Default()
	if configPath != "" {
		var err error
		if cfg, err = config.LoadFile(configPath); err != nil {
			return err
		}
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	if metricsAddr != "" {
		g.Go(func() error { return serveMetrics(ctx, metricsAddr) })
	}
	g.Go(func() error {
		defer stop()
		if listenAddr != "" {
			return serveTCP(ctx, cfg, listenAddr)
		}
		log.Infof("embedlsp %s on stdio", Version)
		return newServer(cfg).Serve(ctx, stdio{})
	})
	return g.Wait()
}

func newServer(cfg config.Config) *server.Server {
	return server.NewServer("embedlsp", Version, cfg, server.ProcessLauncher(debugRPC), debugRPC)
}

// serveTCP gives every editor connection its own pair of backends.
func serveTCP(ctx context.Context, cfg config.Config, addr string) error {
	var lc net.ListenConfig
	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	log.Infof("embedlsp %s listening on %s", Version, listener.Addr())

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-ctx.Done()
		return listener.Close()
	})
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			return err
		}
		log.Infof("editor connected from %s", conn.RemoteAddr())
		g.Go(func() error {
			return newServer(cfg).Serve(ctx, conn)
		})
	}
	return g.Wait()
}

func serveMetrics(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	log.Infof("metrics on %s/metrics", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type stdio struct{}

func (stdio) Read(p []byte) (int, error)  { return os.Stdin.Read(p) }
func (stdio) Write(p []byte) (int, error) { return os.Stdout.Write(p) }

func (stdio) Close() error {
	return errors.Join(os.Stdin.Close(), os.Stdout.Close())
}
