package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	offlinecache "github.com/science-analyse/banking-assistant-sub001"
	"github.com/science-analyse/banking-assistant-sub001/cache"
	"github.com/science-analyse/banking-assistant-sub001/retry"
)

var (
	// CLI flags
	portFlag           int
	originFlag         string
	hostFlag           string
	configFlag         string
	dbFilenameFlag     string
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&originFlag, "origin", "", "Origin URL to proxy to")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&configFlag, "config", "", "Config file (yaml)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name (use 'memory' for in-memory db)")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if logFilenameFlag != "" {
		if logFileOutput, err := os.OpenFile(logFilenameFlag, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("build", version).Logger()

	config, err := getConfig(configFlag)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not load config")
	}
	if originFlag != "" {
		config.Origin = originFlag
	}
	if hostFlag != "" {
		config.Host = hostFlag
	}
	if config.Origin == "" {
		log.Fatal().Msg("Please specify origin")
	}
	originURL, err := url.Parse(config.Origin)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse origin url")
	}
	if config.Version == "" {
		config.Version = version
	}

	dbFilename := config.DB
	if dbFilename == "" {
		dbFilename = dbFilenameFlag
	}
	if dbFilename == "memory" {
		dbFilename = ""
	}
	provider, err := cache.NewSQLiteCache(dbFilename)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open cache db")
	}
	retryStorage, err := retry.NewSQLiteStorage(config.RetryDB)
	if err != nil {
		log.Fatal().Err(err).Msg("Could not open retry db")
	}

	networkTimeout, err := config.networkTimeout()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse networkTimeout")
	}
	probeInterval, err := config.probeInterval()
	if err != nil {
		log.Fatal().Err(err).Msg("Could not parse probeInterval")
	}

	gateway := offlinecache.New(offlinecache.Config{
		Provider:         provider,
		Version:          config.Version,
		OriginURL:        *originURL,
		OriginHost:       config.Host,
		Logger:           &log.Logger,
		Rules:            config.Rules,
		NetworkTimeout:   networkTimeout,
		RetryStorage:     retryStorage,
		MaxRetryAttempts: config.MaxAttempts,
		PrecacheManifest: config.Precache,
		OnRetryExhausted: func(item retry.Item) {
			log.Warn().
				Str("id", item.ID).
				Str("method", item.Method).
				Str("url", item.URL).
				Msg("Queued action dropped after retries")
		},
	})

	ctx := context.Background()
	lifecycle := offlinecache.NewLifecycle(gateway, log.Logger)
	if err := lifecycle.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Install failed")
	}
	if err := lifecycle.Activate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Activate failed")
	}

	monitor := offlinecache.NewMonitor(gateway, probeInterval, config.ProbePath, log.Logger)
	go monitor.Run(ctx)

	router := chi.NewRouter()
	router.Post("/-/message", messageHandler(lifecycle))
	router.Get("/-/version", versionHandler(config.Version))
	router.Handle("/*", gateway)

	log.Info().Msgf("Gateway on port %v for origin %s (version %s)", portFlag, config.Origin, config.Version)
	if err := http.ListenAndServe(fmt.Sprintf(":%d", portFlag), router); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
}

func messageHandler(lifecycle *offlinecache.Lifecycle) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var msg offlinecache.Message
		if err := json.NewDecoder(r.Body).Decode(&msg); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		reply, err := lifecycle.HandleMessage(r.Context(), msg)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		json.NewEncoder(w).Encode(reply)
	}
}

func versionHandler(version string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		fmt.Fprintf(w, `{"version":%q}`+"\n", version)
	}
}
