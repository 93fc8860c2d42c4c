package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	swcache "github.com/always-cache/sw-cache"
	"github.com/always-cache/sw-cache/cache"
	"github.com/always-cache/sw-cache/config"
	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

var (
	// CLI flags
	configFilenameFlag string
	portFlag           int
	originFlag         string
	hostFlag           string
	versionFlag        int
	providerFlag       string
	dbFilenameFlag     string
	redisAddrFlag      string
	assumeOnlineFlag   bool
	verbosityTraceFlag bool
	logFilenameFlag    string

	// this is set by goreleaser
	version string
)

func init() {
	flag.StringVar(&configFilenameFlag, "config", "", "Path to config file")
	flag.IntVar(&portFlag, "port", 8080, "Port to listen on")
	flag.StringVar(&originFlag, "origin", "", "Origin URL to serve")
	flag.StringVar(&hostFlag, "host", "", "Hostname of origin")
	flag.IntVar(&versionFlag, "generation", 1, "Cache generation of this deployment")
	flag.StringVar(&providerFlag, "provider", config.ProviderSQLite, "Caching provider to use (memory, sqlite, redis)")
	flag.StringVar(&dbFilenameFlag, "db", "cache.db", "Cache DB file name for the sqlite provider")
	flag.StringVar(&redisAddrFlag, "redis", "localhost:6379", "Redis address for the redis provider")
	flag.BoolVar(&assumeOnlineFlag, "assume-online", true, "Assume pages are online until they report otherwise")
	flag.BoolVar(&verbosityTraceFlag, "vv", false, "Verbosity: trace logging")
	flag.StringVar(&logFilenameFlag, "log-file", "", "Log file to use (in addition to stdout)")

	if version == "" {
		version = "DEV"
	}
}

func main() {
	flag.Parse()

	conf, err := config.Load(configFilenameFlag)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	applyFlags(&conf)

	// set log level
	logLevel := zerolog.DebugLevel
	if verbosityTraceFlag {
		logLevel = zerolog.TraceLevel
	}

	// set up log output to stdout
	// also output to logfile if specified
	logOutputs := make([]io.Writer, 0)
	logOutputs = append(logOutputs, zerolog.ConsoleWriter{Out: os.Stdout})
	if conf.LogFile != "" {
		if logFileOutput, err := os.OpenFile(conf.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644); err != nil {
			log.Fatal().Err(err).Msg("Cannot open log file")
		} else {
			logOutputs = append(logOutputs, logFileOutput)
		}
	}
	multiWriter := zerolog.MultiLevelWriter(logOutputs...)
	log.Logger = log.Level(logLevel).Output(multiWriter).
		With().Str("version", version).Logger()

	if err := conf.Validate(); err != nil {
		log.Fatal().Err(err).Msg("Invalid configuration")
	}
	originURL, _ := conf.OriginURL()

	provider, err := openProvider(conf)
	if err != nil {
		log.Fatal().Err(err).Str("provider", conf.Provider).Msg("Could not open cache")
	}
	defer provider.Close()

	worker := swcache.CreateWorker(swcache.Config{
		Cache:       provider,
		OriginURL:   *originURL,
		OriginHost:  conf.Host,
		Hosts:       conf.Hosts,
		Version:     conf.Version,
		CachePrefix: conf.CachePrefix,
		Manifest:    conf.Manifest,
		Routes:      swcache.Routes(conf.Routes),
		SettleDelay: conf.SettleDelay,
		Session:     pagechannel.Status{Online: conf.AssumeOnline},
		Logger:      &log.Logger,
	})
	defer worker.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := worker.Install(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not install worker")
	}
	if err := worker.Activate(ctx); err != nil {
		log.Fatal().Err(err).Msg("Could not activate worker")
	}
	worker.Start()

	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.Mount("/", worker.Handler())

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", conf.Port),
		Handler: r,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	log.Info().Msgf("Serving port %v from %s (generation %s)", conf.Port, originURL.String(), worker.Generation())
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		panic(err)
	}
}

// applyFlags overrides the loaded configuration with explicitly set flags.
func applyFlags(conf *config.Config) {
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			conf.Port = portFlag
		case "origin":
			conf.Origin = originFlag
		case "host":
			conf.Host = hostFlag
		case "generation":
			conf.Version = versionFlag
		case "provider":
			conf.Provider = providerFlag
		case "db":
			conf.DBFilename = dbFilenameFlag
		case "redis":
			conf.RedisAddr = redisAddrFlag
		case "assume-online":
			conf.AssumeOnline = assumeOnlineFlag
		case "log-file":
			conf.LogFile = logFilenameFlag
		}
	})
}

func openProvider(conf config.Config) (cache.CacheProvider, error) {
	switch conf.Provider {
	case config.ProviderMemory:
		return cache.NewMemCache(), nil
	case config.ProviderSQLite:
		s, err := cache.NewSQLiteCache(conf.DBFilename)
		if err != nil {
			return nil, err
		}
		return s, nil
	case config.ProviderRedis:
		client := redis.NewClient(&redis.Options{Addr: conf.RedisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", conf.RedisAddr, err)
		}
		return cache.NewRedisCache(client, conf.RedisNamespace), nil
	}
	return nil, fmt.Errorf("unsupported cache provider %q", conf.Provider)
}
