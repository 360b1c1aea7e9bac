package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"dreamfield.world/internal/admin"
	"dreamfield.world/internal/bus"
	"dreamfield.world/internal/config"
	"dreamfield.world/internal/persistence/backup"
	persistlog "dreamfield.world/internal/persistence/log"
	"dreamfield.world/internal/sim/aoi"
	"dreamfield.world/internal/sim/command"
	"dreamfield.world/internal/sim/state"
	"dreamfield.world/internal/sim/templates"
	"dreamfield.world/internal/transport/ws"
)

func main() {
	var (
		configPath = flag.String("config", "", "path to config.yaml (empty: defaults)")
		addr       = flag.String("addr", "", "http listen address (overrides config)")
		natsURL    = flag.String("nats", "", "bus url (overrides config)")
	)
	flag.Parse()

	logger := log.New(os.Stdout, "[server] ", log.LstdFlags|log.Lmicroseconds)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config: %v", err)
	}
	if *addr != "" {
		cfg.ListenAddr = *addr
	}
	if *natsURL != "" {
		cfg.NATSURL = *natsURL
	}
	_ = os.MkdirAll(cfg.DataDir, 0o755)

	cat, err := templates.LoadCatalog(cfg.TemplatesFile)
	if err != nil {
		logger.Fatalf("load templates: %v", err)
	}
	tpl := templates.NewStore(cat)
	logger.Printf("templates loaded: %d (digest %s)", len(cat.ByID), cat.Digest)

	tree, err := state.LoadTree(cfg.WorldFile)
	if err != nil {
		logger.Fatalf("load world: %v", err)
	}
	if tree.Experience != cfg.Experience {
		logger.Fatalf("world file is for experience %q, config wants %q", tree.Experience, cfg.Experience)
	}

	// Bus is optional; without it the server still serves commands and
	// snapshots, just no live deltas.
	var pub *bus.Publisher
	var nbus *bus.NATSBus
	if cfg.NATSURL != "" {
		nc, err := bus.Connect(cfg.NATSURL, logger)
		if err != nil {
			logger.Printf("bus connect %s: %v (running degraded)", cfg.NATSURL, err)
		} else {
			nbus = &bus.NATSBus{NC: nc}
			defer nc.Close()
		}
	}
	if nbus != nil {
		pub = bus.NewPublisher(nbus, cfg.SubjectPrefix, logger)
	} else {
		pub = bus.NewPublisher(nil, cfg.SubjectPrefix, logger)
	}

	store, err := state.NewStore(tree, pub, logger)
	if err != nil {
		logger.Fatalf("world state: %v", err)
	}

	builder := aoi.NewBuilder(store, tpl)
	proc := command.NewProcessor(store, builder, logger)
	// No generative interpreter ships in-process; the timeout applies as soon
	// as one is installed. Unknown actions fail as NOT_SUPPORTED until then.
	proc.SetFlexible(nil, cfg.FlexibleTimeout())

	backups, err := backup.Open(filepath.Join(cfg.DataDir, "backups"), cfg.BackupRetain, logger)
	if err != nil {
		logger.Fatalf("open backups: %v", err)
	}
	defer backups.Close()

	audit := persistlog.NewAuditLogger(cfg.DataDir, logger)
	defer audit.Close()

	resolver := admin.NewResolver(store, tpl, backups, logger)
	resolver.SetAudit(audit)

	srv := ws.NewServer(store, tpl, builder, proc, state.NewVersionTracker(),
		ws.Spawn{Location: cfg.SpawnLocation, Area: cfg.SpawnArea}, logger)
	if nbus != nil {
		srv.SetBus(nbus, cfg.SubjectPrefix)
	}
	srv.SetResolver(resolver)

	ctx, cancel := signalContext()
	defer cancel()

	// SIGHUP hot-reloads the template catalog: load the whole new table,
	// publish it in one swap.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := tpl.Reload(cfg.TemplatesFile); err != nil {
				logger.Printf("reload templates: %v", err)
				continue
			}
			logger.Printf("templates reloaded: %d (digest %s)",
				len(tpl.Current().ByID), tpl.Current().Digest)
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("/v1/ws", srv.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	hs := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		ctx2, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel2()
		_ = hs.Shutdown(ctx2)
	}()

	logger.Printf("experience %s listening on %s", cfg.Experience, cfg.ListenAddr)
	if err := hs.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logger.Fatalf("ListenAndServe: %v", err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	ch := make(chan os.Signal, 2)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-ch
		cancel()
	}()
	return ctx, cancel
}
