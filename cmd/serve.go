package cmd

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/pliu/cipherchat/internal/auth"
	"github.com/pliu/cipherchat/internal/chat"
	"github.com/pliu/cipherchat/internal/group"
	"github.com/pliu/cipherchat/internal/handlers"
	"github.com/pliu/cipherchat/internal/keys"
	"github.com/pliu/cipherchat/internal/ws"
)

const shutdownTimeout = 10 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API and the websocket endpoint",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().String("addr", "", "http service address (default :8080)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, log, st, err := setup(cmd)
	if err != nil {
		return err
	}
	defer log.Sync()
	defer st.Close()

	km := keys.NewManager(st, cfg.Crypto.PrivateKeySecret, log)
	hub := ws.NewHub(log)
	chats := chat.NewService(st, km, hub, cfg.Membership.MaxRetries, log)
	groups := group.NewService(st, km, hub, group.Options{
		Workers:    cfg.Crypto.FanoutWorkers,
		MaxRetries: cfg.Membership.MaxRetries,
	}, log)

	dispatcher := ws.NewDispatcher(log)
	ws.RegisterEvents(dispatcher, chats, groups)

	tokens := auth.NewIssuer(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	api := &handlers.API{
		Auth:   handlers.NewAuthHandler(st, km, tokens, log),
		Users:  handlers.NewUserHandler(st, log),
		Chats:  handlers.NewChatHandler(chats, log),
		Groups: handlers.NewGroupHandler(groups, log),
		Socket: ws.NewServer(hub, dispatcher, cfg.Server.AllowedOrigins, log),
		Tokens: tokens,
		Log:    log,
	}

	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           api.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()
	cmd.Println(color.GreenString("✓") + " cipherchat listening on " + color.CyanString(cfg.Server.Addr))
	log.Info("server started", zap.String("addr", cfg.Server.Addr), zap.String("driver", cfg.Database.Driver))

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
