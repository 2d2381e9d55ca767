package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"flowq/internal/config"
	"flowq/internal/domain"
	"flowq/internal/infra/redisq"
	"flowq/internal/usecase"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

type enqueueReq struct {
	TaskID         string         `json:"task_id"`
	Type           string         `json:"type"`
	Priority       string         `json:"priority"`
	Payload        map[string]any `json:"payload"`
	MaxRetries     int            `json:"max_retries"`
	TimeoutSeconds int            `json:"timeout_seconds"`
}

func NewServer() *Server {
	ctx := context.Background()
	cfg := config.Load()

	cli := redisq.New(cfg.Redis)
	if err := cli.Init(ctx); err != nil {
		log.Ctx(ctx).Fatal().Msgf("something went wrong: %s", err)
	}

	enq := usecase.Enqueuer{Q: cli}
	r := chi.NewRouter()

	r.Post("/enqueue", func(w http.ResponseWriter, r *http.Request) {
		var req enqueueReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), 400)
			return
		}
		t := domain.Task{
			ID:             req.TaskID,
			Type:           req.Type,
			Priority:       domain.Priority(req.Priority),
			Payload:        req.Payload,
			MaxRetries:     req.MaxRetries,
			TimeoutSeconds: req.TimeoutSeconds,
		}

		id, err := enq.Enqueue(r.Context(), t)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"id": id})
	})

	r.Get("/stats", func(w http.ResponseWriter, r *http.Request) {
		stats, err := cli.Stats(r.Context())
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(stats)
	})

	r.Get("/dlq", func(w http.ResponseWriter, r *http.Request) {
		limit, _ := strconv.ParseInt(r.URL.Query().Get("limit"), 10, 64)
		entries, err := cli.DeadLetters(r.Context(), limit)
		if err != nil {
			http.Error(w, err.Error(), 500)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"dead_letters": entries})
	})

	return &Server{router: r}
}

type Server struct {
	router *chi.Mux
}

// Run method of the Server struct runs the HTTP server on the specified port. It initializes
// a new HTTP server instance with the specified port and the server's router.
func (s *Server) Run(port int) {
	addr := fmt.Sprintf(":%d", port)

	h := chainMiddleware(
		s.router,
		recoverHandler,
		loggerHandler(func(w http.ResponseWriter, r *http.Request) bool { return r.URL.Path == "/" }),
		realIPHandler,
		requestIDHandler,
		corsHandler,
	)

	httpServer := http.Server{
		Addr:         addr,
		Handler:      h,
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	done := make(chan bool)
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info().Msg("Server is shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(ctx); err != nil {
			log.Fatal().Err(err).Msg("Server forced to shutdown")
		}

		close(done)
	}()

	log.Info().Msgf("server serving on port %d", port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Failed to listen and serve")
	}

	<-done
	log.Info().Msg("Server stopped")
}
