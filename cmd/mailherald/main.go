package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"

	"github.com/mailherald/mailherald/internal/auth"
	"github.com/mailherald/mailherald/internal/config"
	"github.com/mailherald/mailherald/internal/notify"
	"github.com/mailherald/mailherald/internal/poller"
	"github.com/mailherald/mailherald/internal/scheduler"
	"github.com/mailherald/mailherald/internal/source"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.LogLevel)

	accounts := config.FilterAccounts(cfg.Accounts, logger)
	if len(accounts) == 0 {
		fmt.Fprintln(os.Stderr, "error: no usable accounts configured")
		os.Exit(1)
	}
	logger.Info("mailherald starting", "accounts", len(accounts))

	sink := notify.NewDiscord(cfg.Discord.BotToken, logger)
	tokens := auth.NewProvider("", logger)

	var pollers []*poller.Poller
	for _, acct := range accounts {
		src, err := newSource(acct, tokens, logger)
		if err != nil {
			logger.Error("failed to create source", "account", acct.Name, "error", err)
			continue
		}
		pollers = append(pollers, poller.New(acct, src, sink, cfg.GetBodyPreviewCap(), logger))
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	startLiveness(cfg.ListenAddr, logger)

	// Force exit on second signal.
	go func() {
		<-ctx.Done()
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		logger.Warn("forced shutdown")
		os.Exit(1)
	}()

	sup := scheduler.New(pollers, cfg.PollInterval(), logger)
	sup.Run(ctx)

	logger.Info("mailherald stopped")
}

func newSource(acct config.Account, tokens *auth.Provider, logger *slog.Logger) (source.Source, error) {
	switch acct.Protocol {
	case "imap":
		return source.NewIMAP(
			acct.Host, acct.Port,
			acct.Email, acct.Password,
			acct.UseTLS, acct.GetFolder(), logger,
		), nil
	case "pop3":
		return source.NewPOP3(
			acct.Host, acct.Port,
			acct.Email, acct.Password,
			acct.UseTLS, logger,
		), nil
	case "graph":
		return source.NewGraph(acct, tokens, logger), nil
	default:
		return nil, fmt.Errorf("unsupported protocol: %s", acct.Protocol)
	}
}

// startLiveness serves the trivial liveness routes on their own goroutine so
// that polling can never block them.
func startLiveness(addr string, logger *slog.Logger) {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.GET("/", func(c *gin.Context) {
		c.String(http.StatusOK, "Email to Discord bridge is running!")
	})
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	go func() {
		if err := router.Run(addr); err != nil {
			logger.Error("liveness server failed", "error", err)
		}
	}()
}

func setupLogger(level string) *slog.Logger {
	var lvl slog.Level
	switch level {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}
