package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/MinhQuang2612/chatsync/internal/auth"
	"github.com/MinhQuang2612/chatsync/internal/config"
	"github.com/MinhQuang2612/chatsync/internal/debug"
	"github.com/MinhQuang2612/chatsync/internal/history"
	"github.com/MinhQuang2612/chatsync/internal/session"
)

var userID string

func main() {
	rootCmd := &cobra.Command{
		Use:   "chatsyncd",
		Short: "Real-time chat synchronization engine",
		RunE:  run,
	}

	rootCmd.Flags().StringVarP(&userID, "user", "u", "", "local user id (required)")
	_ = rootCmd.MarkFlagRequired("user")

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	var logger zerolog.Logger
	if cfg.IsDevelopment() {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).
			With().
			Timestamp().
			Logger()
	} else {
		logger = zerolog.New(os.Stdout).
			With().
			Timestamp().
			Logger()
	}

	// The refresh contract lives on the REST side; the credential
	// provider delegates to it.
	refreshClient := history.NewClient(history.Options{
		BaseURL: cfg.APIBaseURL,
		Logger:  logger.With().Str("component", "auth").Logger(),
	})
	creds := auth.NewProvider(auth.Credentials{
		AccessToken:  os.Getenv("ACCESS_TOKEN"),
		RefreshToken: os.Getenv("REFRESH_TOKEN"),
	}, refreshClient.RefreshToken)

	sess := session.New(cfg, logger, creds, userID, nil)

	sess.Out.OnFailure(func(messageID string, err error) {
		logger.Warn().Err(err).Str("id", messageID).Msg("send failed, retry explicitly")
	})
	sess.Groups.OnRemoved(func(groupID, reason string) {
		logger.Info().Str("group", groupID).Str("reason", reason).Msg("group unavailable")
	})

	ctx := context.Background()
	if err := sess.Start(ctx); err != nil {
		// Not fatal: the engine works offline and the retry loop below
		// keeps trying.
		logger.Warn().Err(err).Msg("initial connect failed")
	}

	stop := make(chan struct{})
	go retryConnect(ctx, sess, logger, stop)

	srv := debug.NewServer(cfg.DebugAddr, logger.With().Str("component", "debug").Logger(), func() debug.Status {
		return debug.Status{
			Connected: sess.Conn.IsConnected(),
			State:     sess.Conn.State().String(),
			SessionID: sess.Conn.SessionID(),
			UserID:    userID,
		}
	})
	go func() {
		logger.Info().Str("addr", cfg.DebugAddr).Msg("debug listener started")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error().Err(err).Msg("debug listener failed")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down...")
	close(stop)
	sess.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("debug listener forced to shutdown")
	}

	logger.Info().Msg("stopped")
	return nil
}

// retryConnect keeps attempting the initial connection until the
// channel comes up; once connected, the manager's own reconnect loop
// takes over on drops.
func retryConnect(ctx context.Context, sess *session.Session, logger zerolog.Logger, stop <-chan struct{}) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if sess.Conn.IsConnected() {
				return
			}
			if err := sess.Conn.Connect(ctx); err != nil {
				logger.Debug().Err(err).Msg("connect retry failed")
			}
		}
	}
}
