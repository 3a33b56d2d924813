package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/npezzotti/lan-chat/internal/api"
	"github.com/npezzotti/lan-chat/internal/blob"
	"github.com/npezzotti/lan-chat/internal/chat"
	"github.com/npezzotti/lan-chat/internal/config"
	"github.com/npezzotti/lan-chat/internal/database"
	"github.com/npezzotti/lan-chat/internal/feed"
	"github.com/npezzotti/lan-chat/internal/server"
	"github.com/npezzotti/lan-chat/internal/stats"
)

type stringSliceFlag []string

func (s *stringSliceFlag) String() string {
	return strings.Join(*s, ",")
}

func (s *stringSliceFlag) Set(value string) error {
	*s = append(*s, strings.Split(value, ",")...)
	return nil
}

var (
	addr           string
	dsn            string
	timezone       string
	blobDir        string
	seedFile       string
	maxUpload      int64
	trustProxy     bool
	ratePerSecond  float64
	rateBurst      int
	allowedOrigins stringSliceFlag
)

func envOr(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

func main() {
	logger := log.New(os.Stderr, "[lan-chat] ", log.LstdFlags)

	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logger.Fatal("load .env:", err)
	}

	flag.StringVar(&addr, "addr", envOr("LANCHAT_ADDR", ":5050"), "server address")
	flag.StringVar(&dsn, "dsn", envOr("LANCHAT_DSN", "host=localhost user=postgres password=postgres dbname=lanchat sslmode=disable"), "database connection string")
	flag.StringVar(&timezone, "timezone", envOr("LANCHAT_TIMEZONE", config.DefaultTimezone), "timezone used to group messages by day")
	flag.StringVar(&blobDir, "blob-dir", envOr("LANCHAT_BLOB_DIR", "./uploads"), "directory for uploaded images")
	flag.StringVar(&seedFile, "seed", "", "YAML file of users to create on startup")
	flag.Int64Var(&maxUpload, "max-upload", config.DefaultMaxUploadSize, "maximum image upload size in bytes")
	flag.BoolVar(&trustProxy, "trust-proxy", false, "take the client address from X-Forwarded-For")
	flag.Float64Var(&ratePerSecond, "rate", 5, "mutating requests per second allowed per address, 0 for unlimited")
	flag.IntVar(&rateBurst, "burst", 10, "burst size of the per-address rate limit")
	flag.Var(&allowedOrigins, "allowed-origins", "comma-separated list of allowed origins for CORS")
	flag.Parse()

	if len(allowedOrigins) == 0 {
		if v := os.Getenv("LANCHAT_ALLOWED_ORIGINS"); v != "" {
			allowedOrigins.Set(v)
		}
	}

	cfg, err := config.NewConfig(config.Params{
		ServerAddr:     addr,
		DatabaseDSN:    dsn,
		AllowedOrigins: allowedOrigins,
		Timezone:       timezone,
		BlobDir:        blobDir,
		MaxUploadSize:  maxUpload,
		SeedFile:       seedFile,
		TrustProxy:     trustProxy,
		RatePerSecond:  ratePerSecond,
		RateBurst:      rateBurst,
	})
	if err != nil {
		logger.Fatal("config:", err)
	}

	dbConn, err := database.NewPgRepository(cfg.DatabaseDSN)
	if err != nil {
		logger.Fatal("db open:", err)
	}
	defer func() {
		if err := dbConn.Close(); err != nil {
			logger.Fatal("db close:", err)
		}
	}()

	if err := dbConn.Migrate(); err != nil {
		logger.Fatal("db migrate:", err)
	}

	ctx := context.Background()

	if cfg.SeedFile != "" {
		users, err := database.LoadSeedUsers(cfg.SeedFile)
		if err != nil {
			logger.Fatal("seed:", err)
		}
		n, err := database.SeedUsers(ctx, dbConn, users)
		if err != nil {
			logger.Fatal("seed:", err)
		}
		logger.Printf("seeded %d of %d users", n, len(users))
	}

	blobs, err := blob.NewStore(cfg.BlobDir)
	if err != nil {
		logger.Fatal("blob store:", err)
	}

	mux := http.NewServeMux()

	statsUpdater := stats.NewStatsUpdater(mux)

	notifier := server.NewNotifier(logger, statsUpdater)
	svc := chat.NewService(logger, dbConn, blobs, notifier, statsUpdater, cfg)
	assembler := feed.NewAssembler(dbConn, cfg.Location)

	swept, err := svc.Sweep(ctx)
	if err != nil {
		logger.Fatal("sweep:", err)
	}
	logger.Printf("swept %d deleted messages", swept)

	srv := api.NewLanChatApp(mux, logger, dbConn, svc, assembler, notifier, blobs, cfg)

	statsUpdater.Run()
	defer statsUpdater.Stop()

	go notifier.Run()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigs:
		logger.Printf("received signal: %s\n", sig)
	case err := <-errCh:
		logger.Println("server:", err)
	}

	shutDownCtx, cancel := context.WithTimeout(
		context.Background(),
		10*time.Second,
	)
	defer cancel()

	if err := srv.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("HTTP server shutdown:", err)
	}

	logger.Println("shutting down notifier...")
	if err := notifier.Shutdown(shutDownCtx); err != nil {
		logger.Fatalln("notifier shutdown:", err)
	}

	logger.Println("shutdown complete")
}
