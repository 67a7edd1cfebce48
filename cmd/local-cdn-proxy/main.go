// Command local-cdn-proxy runs the cache-aware HTTPS reverse proxy for
// one pinned upstream authority.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/Forist2034/local-cdn/internal/cacheproxy"
	"github.com/Forist2034/local-cdn/internal/logging"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

type cliFlags struct {
	logLevel  string
	logOutput string
	unix      string
	tcp       string

	cacheRoot string
	authority string
}

func parseFlags() (cliFlags, error) {
	var f cliFlags
	flag.StringVar(&f.logLevel, "log-level", "info", "Log level (off|error|warn|info|debug|trace)")
	flag.StringVar(&f.logOutput, "log-output", "", "JSON log file path (empty means text logs on stderr)")
	flag.StringVar(&f.unix, "unix", "", "Listen on a Unix domain socket at this path")
	flag.StringVar(&f.tcp, "tcp", "", "Listen on a TCP address (host:port)")
	flag.Parse()

	if (f.unix == "") == (f.tcp == "") {
		return f, fmt.Errorf("exactly one of -unix or -tcp must be set")
	}

	args := flag.Args()
	if len(args) != 2 {
		return f, fmt.Errorf("usage: local-cdn-proxy [flags] <cache_root> <server_authority>")
	}
	f.cacheRoot = args[0]
	f.authority = args[1]
	return f, nil
}

func run() error {
	flags, err := parseFlags()
	if err != nil {
		return err
	}

	var jsonLogPath *string
	if flags.logOutput != "" {
		jsonLogPath = &flags.logOutput
	}
	logger, err := logging.Configure(logging.Config{
		Level:       flags.logLevel,
		JSONLogPath: jsonLogPath,
	})
	if err != nil {
		return fmt.Errorf("configure logging: %w", err)
	}

	store, err := cacheproxy.NewStore(flags.cacheRoot)
	if err != nil {
		return fmt.Errorf("open cache store: %w", err)
	}

	transport := cacheproxy.NewUpstreamTransport(hostOnly(flags.authority))
	svc := cacheproxy.NewService(logger, store, flags.authority, transport)
	srv := cacheproxy.NewServer(logger, svc)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	logger.Info("local-cdn-proxy starting", "authority", flags.authority, "cache_root", flags.cacheRoot)

	switch {
	case flags.unix != "":
		return srv.RunUnix(ctx, flags.unix)
	default:
		return srv.RunTCP(ctx, flags.tcp)
	}
}

// hostOnly strips a trailing :port, since TLS ServerName must not
// carry one.
func hostOnly(authority string) string {
	for i := len(authority) - 1; i >= 0; i-- {
		if authority[i] == ':' {
			return authority[:i]
		}
		if authority[i] == ']' {
			break
		}
	}
	return authority
}
