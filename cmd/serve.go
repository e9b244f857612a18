package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	json "github.com/json-iterator/go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/xkilldash9x/formpilot/internal/observability"
)

// newServeCmd creates the `serve` command, which exposes activation over HTTP
// so a hotkey or extension can trigger it.
func newServeCmd(build componentsFunc) *cobra.Command {
	var listen string

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serves POST /activate and GET /healthz on the configured address",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			logger := observability.GetLogger()

			cfg, err := getConfig(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				cfg.Server.ListenAddr = listen
			}

			c, err := build(ctx, cfg, logger)
			if err != nil {
				return fmt.Errorf("failed to initialize components: %w", err)
			}
			defer c.Shutdown()

			srv := &http.Server{
				Addr:              cfg.Server.ListenAddr,
				Handler:           newActivationServer(ctx, c.Orchestrator, c.TabID, logger).routes(),
				ReadHeaderTimeout: 5 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("Activation server listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if errors.Is(err, http.ErrServerClosed) {
					return nil
				}
				return fmt.Errorf("activation server failed: %w", err)
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Warn("Activation server shutdown incomplete", zap.Error(err))
			}
			return nil
		},
	}

	serveCmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides server.listen_addr)")
	return serveCmd
}

// activationServer runs at most one activation at a time.
type activationServer struct {
	ctx       context.Context
	activator Activator
	tabID     string
	sem       *semaphore.Weighted
	logger    *zap.Logger
}

// newActivationServer creates the handler set. Activations run under ctx, not
// the request context, so a dropped client does not abort a fill midway.
func newActivationServer(ctx context.Context, activator Activator, tabID string, logger *zap.Logger) *activationServer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &activationServer{
		ctx:       ctx,
		activator: activator,
		tabID:     tabID,
		sem:       semaphore.NewWeighted(1),
		logger:    logger.Named("serve"),
	}
}

func (s *activationServer) routes() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/activate", s.handleActivate).Methods(http.MethodPost)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	return r
}

func (s *activationServer) handleActivate(w http.ResponseWriter, r *http.Request) {
	if !s.sem.TryAcquire(1) {
		s.logger.Warn("Rejected overlapping activation.")
		writeJSON(w, http.StatusConflict, map[string]string{"error": "activation already running"})
		return
	}
	defer s.sem.Release(1)

	out := s.activator.Activate(s.ctx, s.tabID)
	writeJSON(w, http.StatusOK, newOutcomeView(out))
}

func (s *activationServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "tab_id": s.tabID})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
