package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	_ "net/http/pprof" //nolint:gosec // Intentionally exposed on debug port.
	"net/netip"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/die-net/socksd/internal/auth"
	"github.com/die-net/socksd/internal/config"
	"github.com/die-net/socksd/internal/dialer"
	"github.com/die-net/socksd/internal/logger"
	"github.com/die-net/socksd/internal/metrics"
	"github.com/die-net/socksd/internal/proxy"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = pflag.String("config", "", "Optional INI config file with [server], [tls], [rules] and [users] sections. Flags given on the command line win.")

		socksListen = pflag.String("socks5-listen", "127.0.0.1:1080", "SOCKS5 listen address. Empty disables.")
		tlsListen   = pflag.String("tls-listen", "", "SOCKS5-over-TLS listen address (e.g. 127.0.0.1:1443). Empty disables.")
		tlsCert     = pflag.String("tls-cert-file", "", "PEM certificate for --tls-listen")
		tlsKey      = pflag.String("tls-key-file", "", "PEM private key for --tls-listen")
		tlsClientCA = pflag.String("tls-client-ca-file", "", "PEM CA bundle used to verify client certificates")
		tlsRequire  = pflag.Bool("tls-require-client-cert", false, "Reject TLS clients without a certificate signed by --tls-client-ca-file")

		upstream = pflag.String("upstream", defaultUpstream(), "Upstream forwarding target URL: direct:// | http://[user:pass@]host:port | https://[user:pass@]host:port | socks5://[user:pass@]host:port")

		dialTimeout        = pflag.Duration("dial-timeout", 10*time.Second, "Timeout for outbound DNS lookup and TCP connect")
		negotiationTimeout = pflag.Duration("negotiation-timeout", 10*time.Second, "Timeout for TLS and SOCKS negotiation up to the command reply")
		idleTimeout        = pflag.Duration("idle-timeout", 0, "Close relaying sessions idle this long in both directions. 0 disables.")
		shutdownTimeout    = pflag.Duration("shutdown-timeout", 30*time.Second, "How long to let sessions drain on SIGINT/SIGTERM before closing them")
		tcpKeepAlive       = pflag.String("tcp-keepalive", "45:45:3", "TCP keepalive: on|off|keepidle:keepintvl:keepcnt")

		workers     = pflag.Int("workers", 0, "Maximum concurrently served sessions. 0 is unbounded.")
		acceptRate  = pflag.Float64("accept-rate", 0, "Maximum new sessions per second. 0 disables.")
		acceptBurst = pflag.Int("accept-burst", 64, "Burst allowance for --accept-rate")

		proxyProtocol = pflag.Bool("proxy-protocol", false, "Accept PROXY protocol v1/v2 headers from a fronting load balancer")
		reusePort     = pflag.Bool("reuse-port", false, "Set SO_REUSEPORT on listeners")

		allowBind = pflag.Bool("allow-bind", false, "Enable the BIND command")
		bindIP    = pflag.String("bind-ip", "", "Address BIND listens on. Empty uses the address the client connected to.")
		allow     = pflag.String("allow", "", "Comma-separated prefixes IP destinations must fall in. Empty allows all.")
		deny      = pflag.String("deny", "", "Comma-separated destination prefixes to refuse")
		denyPorts = pflag.String("deny-ports", "", "Comma-separated destination ports or lo-hi ranges to refuse")

		debugListen = pflag.String("debug-listen", "", "Debug HTTP listen address exposing /debug/pprof, /debug/sessions and /metrics (e.g. 127.0.0.1:6060). Empty disables.")
		logLevel    = pflag.String("log-level", "info", "Log level: debug|info|warn|error")
		logPretty   = pflag.Bool("log-pretty", false, "Human-readable console logs instead of JSON")
		verbose     = pflag.Bool("verbose", false, "Enable per-connection error logging")
	)

	pflag.CommandLine.SortFlags = false
	pflag.Parse()

	var users map[string]string
	if *configPath != "" {
		cf, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		if err := cf.Apply(pflag.CommandLine); err != nil {
			return err
		}
		users = cf.Users
	}

	log, err := logger.New(os.Stderr, *logLevel, *logPretty)
	if err != nil {
		return fmt.Errorf("invalid --log-level: %w", err)
	}

	ka, err := parseTCPKeepAlive(*tcpKeepAlive)
	if err != nil {
		return fmt.Errorf("invalid --tcp-keepalive: %w", err)
	}

	if *socksListen == "" && *tlsListen == "" {
		return errors.New("no listeners enabled (set at least one of --socks5-listen, --tls-listen)")
	}

	rules, err := parseRules(*allow, *deny, *denyPorts)
	if err != nil {
		return err
	}

	cfg := proxy.Config{
		NegotiationTimeout: *negotiationTimeout,
		IdleTimeout:        *idleTimeout,
		KeepAlive:          ka,
		Rules:              rules,
		AllowBind:          *allowBind,
		Workers:            *workers,
		AcceptRate:         *acceptRate,
		AcceptBurst:        *acceptBurst,
		Logger:             log,
		Verbose:            *verbose,
	}

	if *bindIP != "" {
		cfg.BindIP, err = netip.ParseAddr(*bindIP)
		if err != nil {
			return fmt.Errorf("invalid --bind-ip: %w", err)
		}
	}

	if len(users) > 0 {
		store := auth.NewStaticStore(users)
		cfg.Authenticators = []auth.Authenticator{auth.UserPass{Store: store}}
		log.Info().Int("users", store.Len()).Msg("username/password authentication required")
	}

	dialCfg := dialer.Config{
		DialTimeout:        *dialTimeout,
		NegotiationTimeout: cfg.NegotiationTimeout,
		KeepAlive:          cfg.KeepAlive,
	}
	if rules != nil {
		dialCfg.AllowIP = rules.CheckIP
	}

	cfg.Dialer, err = dialer.New(dialCfg, *upstream)
	if err != nil {
		return fmt.Errorf("invalid --upstream: %w", err)
	}

	var srv *proxy.Server
	cfg.Metrics = metrics.New(func() int { return srv.Registry().Len() })
	srv = proxy.NewServer(cfg)

	g, ctx := errgroup.WithContext(context.Background())

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	base := proxy.ListenTCP(proxy.ListenOptions{KeepAlive: cfg.KeepAlive, ReusePort: *reusePort})
	if *proxyProtocol {
		base = proxy.ProxyProtoListenFunc(base, cfg.NegotiationTimeout)
	}

	if *debugListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/debug/", http.DefaultServeMux)
		mux.Handle("/metrics", cfg.Metrics.Handler())
		mux.HandleFunc("/debug/sessions", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(srv.Snapshots())
		})

		debugSrv := &http.Server{Handler: mux} //nolint:gosec // Not concerned about timeouts on debug port.
		lc := net.ListenConfig{KeepAliveConfig: cfg.KeepAlive}
		debugLn, err := lc.Listen(ctx, "tcp", *debugListen)
		if err != nil {
			return fmt.Errorf("debug listen: %w", err)
		}
		context.AfterFunc(ctx, func() {
			_ = debugSrv.Close()
			_ = debugLn.Close()
		})

		g.Go(func() error {
			if err := debugSrv.Serve(debugLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("debug serve: %w", err)
			}
			return nil
		})
		log.Info().Str("addr", *debugListen).Msg("debug listening")
	}

	// Listeners are opened before any Serve so a bad address fails startup.
	var lns []net.Listener
	serve := func(name string, ln net.Listener) {
		lns = append(lns, ln)
		g.Go(func() error {
			if err := srv.Serve(ctx, ln); err != nil && !errors.Is(err, proxy.ErrServerClosed) {
				return fmt.Errorf("%s serve: %w", name, err)
			}
			return nil
		})
		log.Info().Str("addr", ln.Addr().String()).Msg(name + " proxy listening")
	}

	if *socksListen != "" {
		ln, err := base(ctx, "tcp", *socksListen)
		if err != nil {
			return fmt.Errorf("socks5 listen: %w", err)
		}
		serve("socks5", ln)
	}

	if *tlsListen != "" {
		listen, err := proxy.TLSListenFunc(base, proxy.TLSConfig{
			CertFile:          *tlsCert,
			KeyFile:           *tlsKey,
			ClientCAFile:      *tlsClientCA,
			RequireClientCert: *tlsRequire,
		})
		if err != nil {
			closeAll(lns)
			return fmt.Errorf("invalid TLS config: %w", err)
		}
		ln, err := listen(ctx, "tcp", *tlsListen)
		if err != nil {
			closeAll(lns)
			return fmt.Errorf("tls listen: %w", err)
		}
		serve("socks5-tls", ln)
	}

	g.Go(func() error {
		<-ctx.Done()
		log.Info().Dur("timeout", *shutdownTimeout).Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), *shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(sctx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
			return fmt.Errorf("shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	log.Info().Msg("stopped")
	return err
}

func closeAll(lns []net.Listener) {
	for _, ln := range lns {
		_ = ln.Close()
	}
}

func parseRules(allow, deny, denyPorts string) (*proxy.Rules, error) {
	if allow == "" && deny == "" && denyPorts == "" {
		return nil, nil
	}
	r := &proxy.Rules{}
	var err error
	if r.Allow, err = proxy.ParsePrefixes(allow); err != nil {
		return nil, fmt.Errorf("invalid --allow: %w", err)
	}
	if r.Deny, err = proxy.ParsePrefixes(deny); err != nil {
		return nil, fmt.Errorf("invalid --deny: %w", err)
	}
	if r.DenyPorts, err = proxy.ParsePorts(denyPorts); err != nil {
		return nil, fmt.Errorf("invalid --deny-ports: %w", err)
	}
	return r, nil
}

func parseTCPKeepAlive(s string) (net.KeepAliveConfig, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "" {
		return net.KeepAliveConfig{}, errors.New("empty")
	}
	if s == "on" {
		return net.KeepAliveConfig{Enable: true}, nil
	}
	if s == "off" {
		return net.KeepAliveConfig{Enable: false}, nil
	}

	parts := strings.Split(s, ":")
	if len(parts) != 3 {
		return net.KeepAliveConfig{}, errors.New("expected on|off|keepidle:keepintvl:keepcnt")
	}
	keepIdle, err := parsePositiveSeconds(parts[0])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepidle: %w", err)
	}
	keepIntvl, err := parsePositiveSeconds(parts[1])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepintvl: %w", err)
	}
	keepCnt, err := parsePositiveInt(parts[2])
	if err != nil {
		return net.KeepAliveConfig{}, fmt.Errorf("keepcnt: %w", err)
	}

	return net.KeepAliveConfig{
		Enable:   true,
		Idle:     keepIdle,
		Interval: keepIntvl,
		Count:    keepCnt,
	}, nil
}

func parsePositiveSeconds(s string) (time.Duration, error) {
	n, err := parsePositiveInt(s)
	if err != nil {
		return 0, err
	}
	return time.Duration(n) * time.Second, nil
}

func parsePositiveInt(s string) (int, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil {
		return 0, err
	}
	if n <= 0 {
		return 0, errors.New("must be > 0")
	}
	return n, nil
}

func defaultUpstream() string {
	if p := os.Getenv("ALL_PROXY"); p != "" {
		return p
	}

	if p := os.Getenv("all_proxy"); p != "" {
		return p
	}

	return "direct://"
}
