// Command pipectl serves and calls the demo interface over an in-process
// message pipe or a TCP connection.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/wippyai/pipebind/bindings"
	"github.com/wippyai/pipebind/gateway"
	"github.com/wippyai/pipebind/msgpipe"
	"github.com/wippyai/pipebind/netpipe"
	"github.com/wippyai/pipebind/schema"
)

type config struct {
	listen      string
	dial        string
	httpAddr    string
	method      string
	args        string
	timeout     time.Duration
	list        bool
	interactive bool
	verbose     bool
}

func main() {
	var cfg config
	flag.StringVar(&cfg.listen, "listen", "", "Serve the demo interface on a TCP address")
	flag.StringVar(&cfg.dial, "dial", "", "Call the demo interface served at a TCP address")
	flag.StringVar(&cfg.httpAddr, "http", "", "Expose the interface as JSON-RPC on an HTTP address")
	flag.StringVar(&cfg.method, "call", "", "Method to call")
	flag.StringVar(&cfg.args, "args", "", "Arguments (comma-separated)")
	flag.DurationVar(&cfg.timeout, "timeout", 10*time.Second, "Call timeout")
	flag.BoolVar(&cfg.list, "list", false, "List methods and exit")
	flag.BoolVar(&cfg.interactive, "i", false, "Interactive mode with TUI")
	flag.BoolVar(&cfg.verbose, "v", false, "Debug logging")
	flag.Parse()

	if cfg.listen != "" && cfg.dial != "" {
		fmt.Fprintln(os.Stderr, "Usage: pipectl [-dial addr] [-call method -args a,b] [-i] [-http addr]")
		fmt.Fprintln(os.Stderr, "       pipectl -listen addr")
		fmt.Fprintln(os.Stderr, "       pipectl -list")
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "%s %v\n", color.RedString("Error:"), err)
		os.Exit(1)
	}
}

func run(cfg config) error {
	log := zap.NewNop()
	if cfg.verbose {
		var err error
		if log, err = zap.NewDevelopment(); err != nil {
			return fmt.Errorf("logger: %w", err)
		}
		defer log.Sync()
	}
	bindings.SetLogger(log)
	msgpipe.SetLogger(log)
	netpipe.SetLogger(log)
	gateway.SetLogger(log)

	iface, err := newDemoInterface()
	if err != nil {
		return fmt.Errorf("interface: %w", err)
	}
	if cfg.list {
		listMethods(iface)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if cfg.listen != "" {
		return serve(ctx, cfg.listen, iface, log)
	}

	remote, closeFn, err := connect(ctx, cfg.dial, iface, log)
	if err != nil {
		return err
	}
	defer closeFn()
	if err := remote.OnConnectionError(func(reason string) {
		log.Warn("connection lost", zap.String("reason", reason))
	}); err != nil {
		return err
	}

	switch {
	case cfg.httpAddr != "":
		return serveHTTP(ctx, cfg.httpAddr, iface, remote, cfg.timeout)
	case cfg.interactive:
		if !term.IsTerminal(int(os.Stdout.Fd())) {
			return errors.New("interactive mode needs a terminal")
		}
		return runInteractive(iface, remote, cfg.target())
	case cfg.method != "":
		return call(ctx, iface, remote, cfg)
	default:
		listMethods(iface)
		return nil
	}
}

func (c config) target() string {
	if c.dial != "" {
		return c.dial
	}
	return "in-process"
}

// connect returns a Remote bound to addr, or to an in-process Receiver when
// addr is empty.
func connect(ctx context.Context, addr string, iface *schema.Interface, log *zap.Logger) (*bindings.Remote, func(), error) {
	remote := bindings.NewRemote()
	if addr != "" {
		conn, err := netpipe.Dial(ctx, addr)
		if err != nil {
			return nil, nil, fmt.Errorf("dial %s: %w", addr, err)
		}
		if err := remote.Bind(conn); err != nil {
			conn.Close()
			return nil, nil, err
		}
		return remote, func() { remote.Close() }, nil
	}

	sys := msgpipe.NewSystem()
	h0, h1, err := sys.CreateMessagePipe()
	if err != nil {
		return nil, nil, err
	}
	p0, err := sys.Pipe(h0)
	if err != nil {
		return nil, nil, err
	}
	p1, err := sys.Pipe(h1)
	if err != nil {
		return nil, nil, err
	}

	receiver := bindings.NewReceiver()
	if err := iface.Serve(receiver, demoHandlers(log)); err != nil {
		return nil, nil, err
	}
	if err := receiver.Bind(p1); err != nil {
		return nil, nil, err
	}
	if err := remote.Bind(p0); err != nil {
		return nil, nil, err
	}
	return remote, func() {
		remote.Close()
		receiver.Close()
		sys.Close()
	}, nil
}

// serve accepts connections until ctx is done. Each connection gets its
// own Receiver.
func serve(ctx context.Context, addr string, iface *schema.Interface, log *zap.Logger) error {
	ln, err := netpipe.Listen(addr)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()
	fmt.Printf("Serving %s on %s\n", green.Sprint(iface.Name), ln.Addr())

	handlers := demoHandlers(log)
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("accept: %w", err)
		}
		peer := conn.RemoteAddr().String()
		receiver := bindings.NewReceiver()
		if err := iface.Serve(receiver, handlers); err != nil {
			conn.Close()
			return err
		}
		if err := receiver.OnConnectionError(func(reason string) {
			log.Info("connection closed", zap.String("peer", peer), zap.String("reason", reason))
		}); err != nil {
			conn.Close()
			return err
		}
		if err := receiver.Bind(conn); err != nil {
			log.Warn("bind failed", zap.String("peer", peer), zap.Error(err))
			conn.Close()
			continue
		}
		log.Info("connection accepted", zap.String("peer", peer))
	}
}

func serveHTTP(ctx context.Context, addr string, iface *schema.Interface, remote *bindings.Remote, timeout time.Duration) error {
	handler, err := gateway.New(iface, remote, gateway.WithTimeout(timeout))
	if err != nil {
		return err
	}
	srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	fmt.Printf("JSON-RPC gateway for %s on %s\n", green.Sprint(iface.Name), addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func call(ctx context.Context, iface *schema.Interface, remote *bindings.Remote, cfg config) error {
	var raw []string
	if cfg.args != "" {
		raw = splitArgs(cfg.args)
	}
	args, err := parseArgs(cfg.method, raw)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, cfg.timeout)
	defer cancel()
	start := time.Now()
	out, err := iface.Call(remote, cfg.method, args).Wait(ctx)
	if err != nil {
		return fmt.Errorf("call %s: %w", cfg.method, err)
	}

	m, _ := iface.Method(cfg.method)
	elapsed := color.New(color.Faint).Sprintf("(%s)", time.Since(start).Round(time.Microsecond))
	switch {
	case m.Response == nil:
		fmt.Printf("%s sent %s\n", green.Sprint(cfg.method), elapsed)
	case len(m.Response.ArgNames()) == 0:
		fmt.Printf("%s done %s\n", green.Sprint(cfg.method), elapsed)
	default:
		fmt.Printf("%s => %s %s\n", green.Sprint(cfg.method), cyan.Sprint(formatValue(out[schema.ResultField])), elapsed)
	}
	return nil
}

// splitArgs splits on commas outside brackets and braces, so JSON lists and
// records stay whole.
func splitArgs(s string) []string {
	var (
		out   []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '[', '{':
			depth++
		case ']', '}':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

var (
	green = color.New(color.FgGreen)
	cyan  = color.New(color.FgCyan)
)

func listMethods(iface *schema.Interface) {
	fmt.Printf("Interface: %s\n\nMethods:\n", color.New(color.Bold).Sprint(iface.Name))
	for _, m := range demoInfo {
		fmt.Printf("  %s\n", formatMethod(m, green.Sprint, cyan.Sprint))
	}
}
