// Command weightopt runs the experiment weight optimizer service: it
// ingests expose/convert events, periodically recalculates variant weights
// via Thompson Sampling, and serves the rewritten datafiles to client SDKs.
package main

import (
	"context"
	"flag"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/gops/agent"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"

	"github.com/variantopt/weightopt/internal/config"
	"github.com/variantopt/weightopt/internal/counterstore"
	"github.com/variantopt/weightopt/internal/datafiles"
	"github.com/variantopt/weightopt/internal/ingest"
	"github.com/variantopt/weightopt/internal/queryapi"
	"github.com/variantopt/weightopt/internal/runtimeEnv"
	"github.com/variantopt/weightopt/internal/scheduler"
	"github.com/variantopt/weightopt/pkg/log"
)

func main() {
	var flagGops bool
	var flagEnvFile string
	flag.BoolVar(&flagGops, "gops", false, "Listen via github.com/google/gops/agent (for debugging)")
	flag.StringVar(&flagEnvFile, "env-file", "./.env", "Path to a .env file to load before reading configuration")
	flag.Parse()

	if err := runtimeEnv.LoadEnv(flagEnvFile); err != nil {
		log.Fatalf("parsing %q failed: %s", flagEnvFile, err.Error())
	}

	cfg := config.Load()

	if flagGops || cfg.GopsEnabled {
		if err := agent.Listen(agent.Options{}); err != nil {
			log.Fatalf("gops/agent.Listen failed: %s", err.Error())
		}
	}

	ctx := context.Background()

	store, err := counterstore.Connect(ctx, counterstore.RedisConfig{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		DB:       cfg.RedisDB,
		Password: cfg.RedisPassword,
	}, 10, 2*time.Second)
	if err != nil {
		log.Fatalf("could not reach counter store: %s", err.Error())
	}
	defer store.Close()

	source, err := datafileSource(cfg)
	if err != nil {
		log.Fatalf("configuring datafile source: %s", err.Error())
	}
	repo, err := datafiles.NewRepository(source)
	if err != nil {
		log.Fatalf("compiling datafile schema: %s", err.Error())
	}
	if err := repo.Reload(ctx); err != nil {
		log.Fatalf("loading datafiles from %q: %s", cfg.DatafilesDir, err.Error())
	}
	log.Infof("loaded %d datafile(s) from %s", len(repo.Paths()), cfg.DatafilesDir)

	sched, err := scheduler.New(store, repo, scheduler.Config{
		UpdateInterval:        cfg.UpdateInterval,
		MinExposuresForUpdate: cfg.MinExposuresForUpdate,
		SamplerTrials:         cfg.SamplerTrials,
		PruneOrphanAfter:      cfg.PruneOrphanAfter,
	})
	if err != nil {
		log.Fatalf("constructing scheduler: %s", err.Error())
	}
	if err := sched.Start(ctx); err != nil {
		log.Fatalf("starting scheduler: %s", err.Error())
	}

	ing, err := ingest.New(store)
	if err != nil {
		log.Fatalf("constructing ingester: %s", err.Error())
	}
	api := queryapi.New(repo, store, sched)

	var natsSub *ingest.NATSSubscriber
	if cfg.NATSURL != "" {
		conn, err := ingest.DialNATS(cfg.NATSURL)
		if err != nil {
			log.Fatalf("connecting to NATS at %q: %s", cfg.NATSURL, err.Error())
		}
		natsSub = ingest.NewNATSSubscriber(conn, ing)
		if err := natsSub.Start(); err != nil {
			log.Fatalf("subscribing to NATS events: %s", err.Error())
		}
		log.Infof("ingesting events from NATS at %s", cfg.NATSURL)
	}

	r := mux.NewRouter()
	ing.MountRoutes(r)
	api.MountRoutes(r)

	r.Use(handlers.CompressHandler)
	r.Use(handlers.RecoveryHandler(handlers.PrintRecoveryStack(true)))
	r.Use(handlers.CORS(
		handlers.AllowedHeaders([]string{"Content-Type"}),
		handlers.AllowedMethods([]string{"GET", "POST"}),
		handlers.AllowedOrigins([]string{"*"})))
	loggedRouter := handlers.CustomLoggingHandler(io.Discard, r, func(_ io.Writer, params handlers.LogFormatterParams) {
		log.Debugf("%s %s (%d, %.02fkb, %dms)",
			params.Request.Method, params.URL.RequestURI(),
			params.StatusCode, float32(params.Size)/1024,
			time.Since(params.TimeStamp).Milliseconds())
	})

	addr := cfg.Host + ":" + cfg.Port
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		log.Fatalf("binding %s: %s", addr, err.Error())
	}

	if err := runtimeEnv.DropPrivileges(cfg.RunGroup, cfg.RunUser); err != nil {
		log.Fatalf("dropping privileges: %s", err.Error())
	}

	server := http.Server{
		Handler:      loggedRouter,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		log.Infof("HTTP server listening at %s", addr)
		if err := server.Serve(listener); err != nil && err != http.ErrServerClosed {
			log.Fatal(err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	wg.Add(1)
	go func() {
		defer wg.Done()
		<-sigs
		runtimeEnv.SystemdNotify(false, "shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			log.Warnf("graceful shutdown: %s", err.Error())
		}

		if err := sched.Shutdown(); err != nil {
			log.Warnf("stopping scheduler: %s", err.Error())
		}
		if natsSub != nil {
			natsSub.Stop()
		}
	}()

	runtimeEnv.SystemdNotify(true, "running")
	wg.Wait()
	log.Print("graceful shutdown completed")
}

func datafileSource(cfg *config.Config) (datafiles.Source, error) {
	if cfg.DatafilesS3Bucket == "" {
		return datafiles.DirSource{Root: cfg.DatafilesDir}, nil
	}
	return newS3Source(cfg)
}

