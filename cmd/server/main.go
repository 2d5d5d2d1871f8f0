package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/Polqt/collabsync/config"
	"github.com/Polqt/collabsync/filetransfer"
	"github.com/Polqt/collabsync/permission"
	"github.com/Polqt/collabsync/pubsub"
	"github.com/Polqt/collabsync/server"
	"github.com/Polqt/collabsync/session"
	"github.com/Polqt/collabsync/storage"
	"github.com/Polqt/collabsync/wire"
)

func main() {
	configPath := "config.yaml"
	if len(os.Args) > 1 {
		configPath = os.Args[1]
	}

	log := zerolog.New(zerolog.NewConsoleWriter()).With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	bus, closeBus, err := buildBus(cfg.PubSub)
	if err != nil {
		log.Fatal().Err(err).Msg("build pubsub backend")
	}
	defer closeBus()

	sessions := session.NewManager(session.ManagerParams{
		NodeID: cfg.NodeID,
		StorageFactory: func(documentID string) (storage.DocumentStorage, storage.MilestoneStore) {
			return storage.NewMemoryDocumentStorage(), storage.NewMemoryMilestoneStore()
		},
		Bus:          bus,
		DedupeTTL:    time.Minute,
		CleanupDelay: cfg.SessionCleanupDelay(),
	})

	files := filetransfer.NewManager(
		storage.NewMemoryTemporaryUploadStorage(time.Hour),
		storage.NewMemoryFileStorage(),
		cfg.MaxFileSize,
		cfg.DownloadTimeout(),
	)

	registry := prometheus.NewRegistry()
	srv := server.New(server.Params{
		SessionManager: sessions,
		Files:          files,
		Permission:     permission.AllowAll{},
		Registry:       registry,
		AckTimeout:     cfg.AckTimeout(),
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/ws/", newWSHandler(srv, log))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintln(w, "ok")
	})

	httpSrv := &http.Server{Addr: cfg.ListenAddr, Handler: mux}

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	metricsSrv := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info().Str("addr", cfg.ListenAddr).Msg("collabsync server listening")
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("listen")
		}
	}()
	go func() {
		log.Info().Str("addr", cfg.MetricsAddr).Msg("metrics listening")
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("metrics listen")
		}
	}()

	<-ctx.Done()
	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	_ = metricsSrv.Shutdown(shutdownCtx)
	srv.Shutdown(shutdownCtx)
}

// buildBus selects the pubsub backend named in cfg.Backend (;
// "memory" needs no external service and is the default so the server
// runs standalone out of the box).
func buildBus(cfg config.PubSubConfig) (*pubsub.Bus, func(), error) {
	switch cfg.Backend {
	case "", "memory":
		backend := pubsub.NewMemoryBackend()
		return pubsub.New(backend), func() { _ = backend.Close() }, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		backend := pubsub.NewRedisBackend(client)
		return pubsub.New(backend), func() { _ = backend.Close() }, nil
	case "nats":
		conn, err := nats.Connect(cfg.NATS.URL)
		if err != nil {
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		backend := pubsub.NewNATSBackend(conn)
		return pubsub.New(backend), func() { _ = backend.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown pubsub backend %q", cfg.Backend)
	}
}

// newWSHandler upgrades "/ws/{room}/{clientId}" to a WebSocket connection
// and feeds decoded frames to a server.Connection for the lifetime of the
// socket.
func newWSHandler(srv *server.Server, log zerolog.Logger) http.HandlerFunc {
	upgrader := websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     func(r *http.Request) bool { return true },
	}

	return func(w http.ResponseWriter, r *http.Request) {
		room, clientID := parsePath(r.URL.Path)
		userID := r.URL.Query().Get("user")
		if userID == "" {
			userID = clientID
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("ws upgrade failed")
			return
		}
		defer conn.Close()

		sink := newWSSink(conn)
		connLog := log.With().Str("room", room).Str("client", clientID).Logger()
		serverConn := srv.Connect(clientID, userID, room, sink)
		defer serverConn.Disconnect()

		ctx := r.Context()
		readLoop(ctx, conn, connLog, func(ctx context.Context, msg wire.Message) {
			documentID, encrypted, _ := documentAndEncryption(msg)
			if err := serverConn.Dispatch(ctx, documentID, encrypted, msg); err != nil {
				connLog.Warn().Err(err).Msg("dispatch error")
			}
		})
	}
}

// parsePath splits "/ws/{room}/{clientId}" into its two segments. A
// missing room defaults to "default" and a missing client id to a fresh
// UUID, so a bare "/ws/" connection still works for local testing.
func parsePath(path string) (room, clientID string) {
	trimmed := strings.TrimPrefix(path, "/ws/")
	parts := strings.SplitN(trimmed, "/", 2)
	room = "default"
	clientID = uuid.NewString()
	if len(parts) >= 1 && parts[0] != "" {
		room = parts[0]
	}
	if len(parts) == 2 && parts[1] != "" {
		clientID = parts[1]
	}
	return room, clientID
}
