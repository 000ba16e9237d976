package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/thejerf/suture/v4"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

func main() {
	configPath := flag.String("config", "coedit.json", "Path to the JSON config file")
	port := flag.Int("port", 0, "Port to listen on (overrides config)")
	flag.IntVar(port, "p", 0, "Port to listen on (shorthand)")
	noQR := flag.Bool("no-qr", false, "Don't print the join QR code")
	debug := flag.Bool("debug", false, "Enable debug logging")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.BoolVar(showVersion, "v", false, "Print version and exit (shorthand)")
	flag.Usage = printHelp
	flag.Parse()

	if *showVersion {
		printVersion()
		return
	}

	log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	if *debug {
		log.SetLevel(log.DebugLevel)
	}

	cfg, err := LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Error: %v", err)
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if err := cfg.PrepareDirs(); err != nil {
		log.Fatalf("Error preparing project directories: %v", err)
	}

	core, err := NewCore(cfg)
	if err != nil {
		log.Fatalf("Error booting core: %v", err)
	}

	hub := NewHub(core)
	core.RegisterApplicationListener(hub)

	srv := NewServer(core, hub)
	httpServer := &http.Server{
		Handler:     srv,
		ReadTimeout: 15 * time.Second,
		IdleTimeout: 60 * time.Second,
		// No WriteTimeout: websocket connections need to stay open
	}

	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", cfg.Port))
	if err != nil {
		log.Fatalf("Error starting server: %v", err)
	}
	addr := listener.Addr().(*net.TCPAddr)

	status := newStatus(os.Stdout)
	url := fmt.Sprintf("http://localhost:%d", addr.Port)
	status.Listening(cfg.Name, url)
	status.TreeLoaded(core.registry.Len())
	if !*noQR {
		status.JoinQR(url)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sup := suture.New("coedit", suture.Spec{
		EventHook: func(e suture.Event) { log.Warn(e) },
	})
	sup.Add(core)
	sup.Add(NewTreeWatcher(core, cfg.CodeDir))
	sup.Add(&httpService{srv: httpServer, ln: listener})

	err = sup.Serve(ctx)
	status.ShuttingDown()
	hub.Close()
	if err != nil && !errors.Is(err, context.Canceled) {
		log.Fatalf("Supervisor exited: %v", err)
	}
}

// httpService adapts the HTTP server to a supervised service.
type httpService struct {
	srv *http.Server
	ln  net.Listener
}

func (h *httpService) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Serve(h.ln) }()

	select {
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = h.srv.Shutdown(shutCtx)
		<-errCh
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return suture.ErrDoNotRestart
		}
		return err
	}
}

func printHelp() {
	fmt.Fprintf(os.Stderr, `coedit: collaborative code editor server

Usage:
  coedit [options]

Options:
  -config <path>       Config file (default: coedit.json)
  -p, -port <port>     Port to listen on (overrides config)
      -no-qr           Don't print the join QR code
      -debug           Enable debug logging
  -v, -version         Print version

Config file keys:
  name, base_dir, code_dir, backup_dir, exec_dir, tmp_dir,
  cycle_time (µs), buffer_critical, buffer_secondary, buffer_auxiliary,
  port, queue_size
`)
}

func printVersion() {
	line := "coedit " + version
	var details []string
	if date != "unknown" {
		details = append(details, date)
	}
	if commit != "unknown" {
		short := commit
		if len(short) > 7 {
			short = short[:7]
		}
		details = append(details, short)
	}
	if len(details) > 0 {
		line += " (" + strings.Join(details, ", ") + ")"
	}
	fmt.Println(line)
	fmt.Println("Collaborative code editor server")
}
