// Command roomserver starts the real-time WebSocket game server.
//
// It binds a WebSocket acceptor for the room-join wire protocol and a
// separate read-only REST introspection API, wires them both to a single
// Registry, and shuts them down gracefully on SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.ngrok.com/ngrok"
	ngrokConfig "golang.ngrok.com/ngrok/config"

	"github.com/fusiongame/roomserver/api"
	"github.com/fusiongame/roomserver/internal/config"
	"github.com/fusiongame/roomserver/internal/registry"
	"github.com/fusiongame/roomserver/transport/websocket"
)

const (
	// Version is the server's version string.
	Version = "1.0.0"
	// AppName is the human-readable server name, used in logs and usage text.
	AppName = "Room Server"
)

var (
	configFile   = flag.String("config", getConfigFileDefault(), "Path to the JSON configuration file")
	host         = flag.String("host", "0.0.0.0", "WebSocket listen host")
	port         = flag.Int("port", 8080, "WebSocket listen port")
	apiPort      = flag.Int("api-port", 8081, "REST introspection API port")
	debug        = flag.Bool("debug", false, "Enable debug logging")
	versionFlag  = flag.Bool("version", false, "Show version information")
	ngrokEnabled = flag.Bool("ngrok", false, "Expose the WebSocket port through an ngrok tunnel")
	ngrokAuth    = flag.String("ngrok-auth", "", "Ngrok auth token (or use NGROK_AUTHTOKEN env var)")
)

func getConfigFileDefault() string {
	if f := os.Getenv("ROOMSERVER_CONFIG"); f != "" {
		return f
	}
	return "roomserver.json"
}

func init() {
	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [OPTIONS]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "%s v%s\n\n", AppName, Version)
		flag.PrintDefaults()
	}
}

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf("warning: error loading .env file: %v", err)
	}

	flag.Parse()

	if *versionFlag {
		fmt.Printf("%s v%s\n", AppName, Version)
		os.Exit(0)
	}

	cfg, err := loadAndOverrideConfig()
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	if *debug || (cfg.Logger != nil && strings.EqualFold(cfg.Logger.Level, "debug")) {
		log.SetFlags(log.LstdFlags | log.Lshortfile)
	}

	log.Printf("Starting %s v%s", AppName, Version)
	run(cfg)
}

// loadAndOverrideConfig loads the JSON configuration file, then applies
// CLI flag overrides (which always take final precedence), constructing a
// listener from -host/-port if the file supplied none.
func loadAndOverrideConfig() (*config.Config, error) {
	cfg, err := config.Load(*configFile)
	if err != nil {
		return nil, err
	}

	if cfg.Listener == nil {
		cfg.Listener = &config.Listener{}
	}
	if flagWasSet("host") || cfg.Listener.Host == "" {
		cfg.Listener.Host = *host
	}
	if flagWasSet("port") || cfg.Listener.Port == 0 {
		cfg.Listener.Port = *port
	}

	return cfg, nil
}

func flagWasSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// run wires the registry, the WebSocket acceptor, and the REST
// introspection API, starts them, and blocks until a shutdown signal
// arrives.
func run(cfg *config.Config) {
	reg := registry.New(registry.WithMaxPerTeam(cfg.MaxPerTeam))

	wsAddr := cfg.Addr()
	wsServer := websocket.NewServer(wsAddr, reg, websocket.Config{
		CheckOrigin: func(r *http.Request) bool {
			if !cfg.CheckOrigin {
				return true
			}
			return r.Header.Get("Origin") == "" || strings.Contains(r.Header.Get("Origin"), r.Host)
		},
	})

	if !reg.StartAccepting(wsServer) {
		log.Fatalf("failed to start accepting connections on %s", wsAddr)
	}
	log.Printf("WebSocket: ws://%s/ws", wsAddr)

	apiAddr := fmt.Sprintf("%s:%d", cfg.Listener.Host, *apiPort)
	apiServer := &http.Server{
		Addr:    apiAddr,
		Handler: api.NewServer(reg),
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Printf("REST API: http://%s/api", apiAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("API server failed: %v", err)
		}
	}()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *ngrokEnabled {
		wg.Add(1)
		go runNgrokTunnel(ctx, &wg, wsServer.Handler())
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	sig := <-stop
	log.Printf("received signal: %v, shutting down", sig)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	reg.Shutdown()
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("websocket server shutdown error: %v", err)
	}
	if err := apiServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("api server shutdown error: %v", err)
	}

	wg.Wait()
	log.Println("server stopped")
}

// runNgrokTunnel exposes the WebSocket handler through an ngrok tunnel,
// an optional convenience for reaching a local server from the public
// internet during development.
func runNgrokTunnel(ctx context.Context, wg *sync.WaitGroup, handler http.Handler) {
	defer wg.Done()

	authToken := *ngrokAuth
	if authToken == "" {
		authToken = os.Getenv("NGROK_AUTHTOKEN")
	}
	if authToken == "" {
		log.Println("warning: ngrok enabled but no auth token provided (use -ngrok-auth or NGROK_AUTHTOKEN)")
		return
	}

	tun, err := ngrok.Listen(ctx, ngrokConfig.HTTPEndpoint(), ngrok.WithAuthtoken(authToken))
	if err != nil {
		log.Printf("failed to start ngrok tunnel: %v", err)
		return
	}
	defer tun.Close()

	log.Printf("ngrok tunnel established: %s", tun.URL())
	if err := http.Serve(tun, handler); err != nil && err != http.ErrServerClosed {
		log.Printf("ngrok server error: %v", err)
	}
}
