// Command local-cdn-dns runs the per-domain DNS request router: a
// JSON config names upstream resolvers and per-server action trees,
// and this binary hosts each server's UDP and TCP listeners until
// told to stop.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/Forist2034/local-cdn/internal/dnsconfig"
	"github.com/Forist2034/local-cdn/internal/dnsserver"
	"github.com/Forist2034/local-cdn/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "config.json", "Path to the JSON config file")
	flag.BoolVar(&f.debug, "debug", false, "Force debug logging regardless of config")
	flag.Parse()
	return f
}

func run() error {
	flags := parseFlags()

	f, err := os.Open(flags.configPath)
	if err != nil {
		return fmt.Errorf("open config: %w", err)
	}
	cfg, err := dnsconfig.Load(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if flags.debug {
		cfg.LogLevel = "debug"
	}
	logger, err := logging.Configure(logging.Config{
		Level:       cfg.LogLevel,
		JSONLogPath: cfg.JSONLog,
		IncludePID:  true,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	built, err := dnsconfig.Build(cfg)
	if err != nil {
		return fmt.Errorf("build config: %w", err)
	}

	logger.Info("local-cdn-dns starting", "config", flags.configPath, "servers", len(built.Servers))
	logger.Info("rate limits", "effective", dnsserver.RateLimitsStartupLog())

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var wg sync.WaitGroup
	for name, srv := range built.Servers {
		runServer(ctx, &wg, logger, name, srv, cancel)
	}

	<-ctx.Done()
	logger.Info("shutting down")
	wg.Wait()
	return nil
}

// runServer starts every listener one named server config describes,
// each in its own goroutine. A listener that fails to bind cancels
// the whole process, same as a single hard startup failure would.
func runServer(ctx context.Context, wg *sync.WaitGroup, logger *slog.Logger, name string, srv dnsconfig.BuiltServer, cancel context.CancelFunc) {
	handler := &dnsserver.QueryHandler{
		Logger:  logger.With("server", name),
		Router:  srv.Router,
		Timeout: 4 * time.Second,
	}

	for _, listen := range srv.Listen {
		switch {
		case listen.UDP != "":
			addr := listen.UDP
			wg.Add(1)
			go func() {
				defer wg.Done()
				udpSrv := &dnsserver.UDPServer{
					Logger:  logger,
					Handler: handler,
					Limiter: dnsserver.NewRateLimiterFromEnv(),
				}
				logger.Info("udp listener starting", "server", name, "addr", addr)
				if err := udpSrv.Run(ctx, addr); err != nil {
					logger.Error("udp listener stopped", "server", name, "addr", addr, "err", err)
					cancel()
				}
			}()

		case listen.TCP != nil:
			tcpCfg := listen.TCP
			wg.Add(1)
			go func() {
				defer wg.Done()
				tcpSrv := &dnsserver.TCPServer{
					Logger:  logger,
					Handler: handler,
				}
				if tcpCfg.TimeoutSec > 0 {
					tcpSrv.IdleTimeout = time.Duration(tcpCfg.TimeoutSec) * time.Second
				}
				logger.Info("tcp listener starting", "server", name, "addr", tcpCfg.Address)
				if err := tcpSrv.Run(ctx, tcpCfg.Address); err != nil {
					logger.Error("tcp listener stopped", "server", name, "addr", tcpCfg.Address, "err", err)
					cancel()
				}
			}()

		default:
			logger.Warn("listen entry has neither udp nor tcp set", "server", name)
		}
	}
}
