package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SherClockHolmes/webpush-go"

	"omo-laundry-agent/config"
	"omo-laundry-agent/internal/api"
	"omo-laundry-agent/internal/coordinator"
	"omo-laundry-agent/internal/db"
	"omo-laundry-agent/internal/notify"
	"omo-laundry-agent/internal/omo"
	"omo-laundry-agent/internal/store"
)

func main() {
	setup := flag.Bool("setup", false, "log in, list laundries and payment cards, then exit")
	flag.Parse()

	logger := log.New(os.Stdout, "omo-agent ", log.LstdFlags)

	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "./config/config.yaml" // Default path for local development
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		logger.Fatalf("failed to load configuration from %s: %v", configPath, err)
	}
	logger.Printf("configuration loaded successfully from %s", configPath)

	client := omo.NewClient(
		newHTTPClient(cfg),
		cfg.API.BaseURL,
		cfg.API.AppVersion,
		cfg.API.Username,
		cfg.API.Password,
	)

	if *setup {
		if err := runSetup(context.Background(), client); err != nil {
			logger.Fatalf("setup failed: %v", err)
		}
		return
	}

	if cfg.API.LaundryID == "" {
		logger.Fatalf("api.laundry_id must be configured; run with -setup to list laundries")
	}
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Fatalf("VAPID keys must be configured. Please generate them and add them to your config file.")
	}

	webpushOptions := webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}

	gormDB, err := db.Init(&cfg.Database)
	if err != nil {
		logger.Fatalf("failed to initialize database: %v", err)
	}
	logger.Println("database initialized successfully")

	appStore := store.NewGormStore(gormDB)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Seed auth from persisted tokens so restarts skip a login, and keep
	// the store updated on every token change.
	if record, err := appStore.LoadTokens(ctx, cfg.API.Username); err != nil {
		logger.Printf("Warning: could not load persisted tokens: %v", err)
	} else if record != nil {
		client.Auth().SetTokens(record.AccessToken, record.RefreshToken, record.ExpiresAt)
		logger.Println("restored persisted tokens")
	}
	client.Auth().OnTokenUpdate(func(accessToken, refreshToken string, expiresAt int64) error {
		return appStore.SaveTokens(ctx, cfg.API.Username, accessToken, refreshToken, expiresAt)
	})

	workerPool := notify.NewWorkerPool(cfg.WorkerPool.Size, appStore, &webpushOptions)
	workerPool.Start(ctx)

	coord := coordinator.New(client, cfg.API.LaundryID, cfg.API.CardID, cfg.API.Interval, workerPool)
	go coord.Run(ctx)

	router := api.NewRouter(coord, appStore, &webpushOptions, &cfg.Server)
	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		logger.Printf("HTTP server starting on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("HTTP server ListenAndServe: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	<-stop
	logger.Println("Shutdown signal received, stopping services...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Fatalf("HTTP server Shutdown: %v", err)
	}

	logger.Println("Server gracefully stopped")
}

// newHTTPClient builds the shared upstream transport with the configured
// timeout and optional proxy.
func newHTTPClient(cfg *config.Config) *http.Client {
	var transport http.RoundTripper = &http.Transport{}
	if cfg.API.HTTPProxy != "" {
		proxyURL, err := url.Parse(cfg.API.HTTPProxy)
		if err != nil {
			log.Printf("Warning: Invalid proxy URL %q: %v. Requests will not use a proxy.", cfg.API.HTTPProxy, err)
		} else {
			transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
		}
	}

	return &http.Client{
		Transport: transport,
		Timeout:   time.Duration(cfg.API.TimeoutSeconds) * time.Second,
	}
}

// runSetup is the selection wizard: it validates the credentials and
// prints laundry and card ids for the operator to copy into the config.
func runSetup(ctx context.Context, client *omo.Client) error {
	if err := client.Auth().Login(ctx); err != nil {
		return err
	}

	if user, err := client.User(ctx); err == nil && user.Email != "" {
		fmt.Printf("Logged in as %s (%s)\n\n", user.Name, user.Email)
	}

	laundries, err := client.ListLaundries(ctx, "OLC", 1)
	if err != nil {
		return fmt.Errorf("failed to list laundries: %w", err)
	}
	fmt.Println("Laundries:")
	for _, laundry := range laundries {
		fmt.Printf("  %-40s %s\n", laundry.ID, laundry.Name)
	}

	cards, err := client.PaymentCards(ctx)
	if err != nil {
		return fmt.Errorf("failed to list payment cards: %w", err)
	}
	fmt.Println("\nPayment cards:")
	for _, card := range cards {
		if !card.Active() {
			continue
		}
		fmt.Printf("  %-40s %s **** %s\n", card.ID, card.Brand, card.LastFour)
	}

	fmt.Println("\nSet api.laundry_id and api.card_id in your config file.")
	return nil
}
