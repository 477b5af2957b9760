// commonplace-server hosts CRDT-backed documents over HTTP, WebSocket,
// and SSE.
//
// It reads configuration from config.json in the working directory,
// opens the commit store (in-memory or Postgres, depending on
// commitStoreDSN), optionally probes a message broker, reconciles a
// designated fs-root document into its virtual filesystem, and starts
// the HTTP server.
//
// Usage:
//
//	./commonplace-server              # reads ./config.json, starts server
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/commonplace-systems/commonplace/internal/broker"
	"github.com/commonplace-systems/commonplace/internal/commitstore"
	"github.com/commonplace-systems/commonplace/internal/config"
	"github.com/commonplace-systems/commonplace/internal/docstore"
	"github.com/commonplace-systems/commonplace/internal/fsreconciler"
	"github.com/commonplace-systems/commonplace/internal/room"
	"github.com/commonplace-systems/commonplace/internal/server"
)

// staleConnectionThreshold closes WebSocket connections that haven't
// touched their liveness timestamp in this long.
const staleConnectionThreshold = 2 * time.Minute

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	log.Println("commonplace-server starting...")

	cfg, err := config.Load("config.json")
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	log.Printf("Config loaded (listen=%s fsRoot=%q)", cfg.ListenAddr, cfg.FsRootID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("Received %v, shutting down...", sig)
		cancel()
	}()

	// Probe the message broker before doing anything else: an
	// unreachable broker is fatal, matching the fatal-at-startup
	// policy for Dependency-class errors in spec.md §7.
	if cfg.BrokerAddr != "" {
		probeCtx, probeCancel := context.WithTimeout(ctx, 5*time.Second)
		err := (broker.TCPProbe{}).Probe(probeCtx, cfg.BrokerAddr)
		probeCancel()
		if err != nil {
			log.Fatalf("Broker unreachable: %v", err)
		}
		log.Printf("Broker reachable at %s", cfg.BrokerAddr)
	}

	// Open the commit store: Postgres if a DSN is configured, else an
	// in-memory store that doesn't survive a restart.
	var commits commitstore.Store
	if cfg.CommitStoreDSN != "" {
		pg, err := commitstore.OpenPgStore(ctx, cfg.CommitStoreDSN)
		if err != nil {
			log.Fatalf("Failed to open commit store: %v", err)
		}
		defer pg.Close()
		commits = pg
		log.Println("Commit store connected (Postgres)")
	} else {
		commits = commitstore.NewMemStore()
		log.Println("Commit store: in-memory (no persistence across restarts)")
	}

	docStore := docstore.New(cfg.SiteID, nil)
	docStore.SetCommitStore(commits)

	if cfg.SigningKey != "" {
		signer, err := commitstore.ParseSigningKey(cfg.SigningKey)
		if err != nil {
			log.Fatalf("Failed to parse signing key: %v", err)
		}
		docStore.SetSigner(signer)
		log.Println("Commit signing enabled")
	}

	rooms := room.NewManager(docStore, commits)
	docStore.SetBroadcaster(rooms)

	var reconciler *fsreconciler.Reconciler
	if cfg.FsRootID != "" {
		fsRoot, _ := docStore.GetOrCreateWithID(cfg.FsRootID, docstore.ContentJSON)
		reconciler = fsreconciler.New(cfg.FsRootID, docStore)
		go func() {
			if err := reconciler.Watch(ctx, fsRoot); err != nil {
				log.Printf("fsreconciler: watch loop exited: %v", err)
			}
		}()
		log.Printf("Filesystem reconciler watching fs-root %s", cfg.FsRootID)
	}

	// Periodically close idle WebSocket connections and drop empty
	// rooms, matching the liveness sweep and room cleanup sweep
	// described in spec.md §4.4/§5.
	go func() {
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				rooms.SweepStale(staleConnectionThreshold)
				rooms.CleanupEmptyRooms()
			}
		}
	}()

	srv := server.New(cfg, docStore, commits, rooms, reconciler)
	if err := srv.Start(ctx); err != nil {
		log.Fatalf("Server error: %v", err)
	}

	log.Println("commonplace-server stopped")
}
