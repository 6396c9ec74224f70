package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/akamensky/argparse"
	"github.com/sirupsen/logrus"

	"github.com/ZentaChain/securechat/pkg/api"
	"github.com/ZentaChain/securechat/pkg/config"
	"github.com/ZentaChain/securechat/pkg/crypto"
	"github.com/ZentaChain/securechat/pkg/relay"
	"github.com/ZentaChain/securechat/pkg/storage"
)

const statsInterval = 5 * time.Minute

func main() {
	cfg := config.DefaultRelayConfig()

	args := argparse.NewParser("relay", "SecureChat relay server")
	listen := args.String("l", "listen", &argparse.Options{Help: "Address to accept clients on", Default: cfg.ListenAddr})
	apiAddr := args.String("a", "api", &argparse.Options{Help: "HTTP status API address, empty disables it", Default: cfg.APIAddr})
	keyFile := args.String("k", "key", &argparse.Options{Help: "PEM identity key, generated if missing. Empty uses an ephemeral key", Default: "./keys/relay.pem"})
	keyBits := args.Int("b", "bits", &argparse.Options{Help: "RSA key size for generated keys", Default: cfg.KeyBits})
	userDB := args.String("d", "db", &argparse.Options{Help: "SQLite account database, empty keeps accounts in memory"})
	noRegister := args.Flag("n", "no-register", &argparse.Options{Help: "Reject unknown usernames instead of registering them"})
	logLevel := args.String("", "log-level", &argparse.Options{Help: "Log level", Default: cfg.LogLevel})
	logFormat := args.String("", "log-format", &argparse.Options{Help: "Log format (text or json)", Default: cfg.LogFormat})

	if err := args.Parse(os.Args); err != nil {
		fmt.Print(args.Usage(err))
		os.Exit(1)
	}

	cfg.ListenAddr = *listen
	cfg.APIAddr = *apiAddr
	cfg.KeyFile = *keyFile
	cfg.KeyBits = *keyBits
	cfg.UserDB = *userDB
	cfg.AutoRegister = !*noRegister
	cfg.LogLevel = *logLevel
	cfg.LogFormat = *logFormat

	if err := cfg.Validate(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	if err := config.SetupLogging(cfg.LogLevel, cfg.LogFormat, nil); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

	printBanner()

	if cfg.KeyFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.KeyFile), 0o700); err != nil {
			logrus.WithError(err).Fatal("Failed to create key directory")
		}
	}
	privateKey, generated, err := crypto.LoadOrGenerateKey(cfg.KeyFile, cfg.KeyBits)
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load/generate key")
	}
	switch {
	case cfg.KeyFile == "":
		logrus.Info("✓ Using ephemeral identity key")
	case generated:
		logrus.WithField("path", cfg.KeyFile).Info("✓ New identity key saved")
	default:
		logrus.WithField("path", cfg.KeyFile).Info("✓ Identity key loaded")
	}

	var (
		auth  relay.Authenticator
		users *storage.UserStore
	)
	if cfg.UserDB != "" {
		users, err = storage.NewUserStore(cfg.UserDB, cfg.AutoRegister)
		if err != nil {
			logrus.WithError(err).Fatal("Failed to open account database")
		}
		auth = users
		logrus.WithField("path", cfg.UserDB).Info("✓ Account database opened")
	} else {
		auth = relay.NewMemoryAuthenticator(cfg.AutoRegister)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rs := relay.NewRelayServer(cfg, privateKey, auth)
	if err := rs.Start(ctx); err != nil {
		logrus.WithError(err).Fatal("Failed to start relay server")
	}
	logrus.WithField("addr", rs.Addr().String()).Info("✓ Relay server listening")

	apiDone := make(chan struct{})
	if cfg.APIAddr != "" {
		apiCfg := api.DefaultConfig()
		apiCfg.Addr = cfg.APIAddr
		srv := api.NewServer(rs, apiCfg)
		go func() {
			defer close(apiDone)
			if err := srv.Start(ctx); err != nil {
				logrus.WithError(err).Error("HTTP status API stopped")
			}
		}()
	} else {
		close(apiDone)
	}

	go startStatsLoop(ctx, rs)

	printStatus(cfg, rs)

	waitForShutdown(cancel, rs, users, apiDone)
}

func printBanner() {
	fmt.Println("╔═══════════════════════════════════════════════════╗")
	fmt.Println("║            SecureChat Relay Server                ║")
	fmt.Println("║   Encrypted routing for direct and group chat    ║")
	fmt.Println("╚═══════════════════════════════════════════════════╝")
	fmt.Println()
}

func startStatsLoop(ctx context.Context, rs *relay.RelayServer) {
	ticker := time.NewTicker(statsInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		stats := rs.GetStats()
		logrus.WithFields(logrus.Fields{
			"users":       stats.ConnectedUsers,
			"groups":      stats.Groups,
			"queue_depth": stats.QueueDepth,
			"routed":      stats.PacketsRouted,
			"dropped":     stats.PacketsDropped,
			"bypasses":    stats.PriorityBypasses,
			"uptime":      stats.Uptime,
		}).Info("💓 Relay stats")
	}
}

func printStatus(cfg *config.RelayConfig, rs *relay.RelayServer) {
	stats := rs.GetStats()

	fmt.Println()
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println("🚀 Relay Server Status")
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Printf("   Status: ✅ RUNNING\n")
	fmt.Printf("   Listen: %s\n", rs.Addr())
	if cfg.APIAddr != "" {
		fmt.Printf("   Status API: http://%s/api/v1/stats\n", cfg.APIAddr)
	} else {
		fmt.Printf("   Status API: ⚠️  DISABLED\n")
	}
	if cfg.UserDB != "" {
		fmt.Printf("   Accounts: %s\n", cfg.UserDB)
	} else {
		fmt.Printf("   Accounts: in memory\n")
	}
	fmt.Printf("   Auto-register: %v\n", cfg.AutoRegister)
	fmt.Printf("   Connected users: %d\n", stats.ConnectedUsers)
	fmt.Println("━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━━")
	fmt.Println()
	fmt.Println("Press Ctrl+C to stop")
	fmt.Println()
}

func waitForShutdown(cancel context.CancelFunc, rs *relay.RelayServer, users *storage.UserStore, apiDone <-chan struct{}) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	<-sigChan

	fmt.Println()
	logrus.Info("Shutting down gracefully...")

	cancel()
	<-apiDone

	if err := rs.Stop(); err != nil {
		logrus.WithError(err).Error("Error stopping relay")
	}

	if users != nil {
		if err := users.Close(); err != nil {
			logrus.WithError(err).Error("Error closing account database")
		} else {
			logrus.Info("✓ Account database closed")
		}
	}

	logrus.Info("✓ Relay server stopped")
	os.Exit(0)
}
