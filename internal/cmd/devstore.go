package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/harrison/sentinel/internal/devstore"
	"github.com/harrison/sentinel/internal/logger"
)

// NewDevStoreCommand creates the devstore command
func NewDevStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "devstore",
		Short: "Serve an in-memory analytics store for local runs",
		Long: `Serve the analytics store REST contract from memory.

Nothing is persisted; the store is meant for local runs and demos. Outages
can be simulated with PUT /admin/availability {"available": false}.

Examples:
  sentinel devstore --addr :8080`,
		Args: cobra.NoArgs,
		RunE: runDevStore,
	}
	cmd.Flags().String("addr", ":8080", "Listen address")
	return cmd
}

func runDevStore(cmd *cobra.Command, _ []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	level, _ := cmd.Flags().GetString("log-level")
	if level == "" {
		level = "info"
	}
	log := logger.NewConsoleLogger(cmd.ErrOrStderr(), level)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              addr,
		Handler:           devstore.NewRouter(devstore.New(), log),
		ReadHeaderTimeout: 5 * time.Second,
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.LogInfo("devstore listening on " + addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("devstore: %w", err)
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("devstore shutdown: %w", err)
	}
	log.LogInfo("devstore stopped")
	return nil
}
