package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/chatrelay/internal/config"
	"github.com/chatrelay/internal/handler"
	"github.com/chatrelay/internal/logger"
	"github.com/chatrelay/internal/metrics"
	"github.com/chatrelay/internal/middleware"
	"github.com/chatrelay/internal/push"
	"github.com/chatrelay/internal/relay"
	"github.com/chatrelay/internal/repository"
	"github.com/chatrelay/internal/responder"
	"github.com/chatrelay/internal/startup"
	"github.com/chatrelay/internal/storage"
	"github.com/chatrelay/internal/storage/devstore"
	"github.com/chatrelay/internal/ws"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

const connectWait = 60 * time.Second

func main() {
	logger.SetPrefix("relay")
	migrateOnly := flag.Bool("migrate", false, "run database migrations and exit")
	dev := flag.Bool("dev", false, "start with embedded PostgreSQL (no external DB required)")
	flag.Parse()
	defer logger.Flush(2 * time.Second)

	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("config: %v", err)
	}
	logger.SetLevel(cfg.LogLevel)
	logger.Info("starting relay service")

	if *dev {
		pg, err := startup.StartEmbeddedPostgres(5432)
		if err != nil {
			logger.Fatalf("embedded postgres: %v", err)
		}
		defer pg.Stop()
		cfg.Database.URL = pg.URL
	}

	if err := startup.RunMigrations(cfg.Database.URL); err != nil {
		logger.Fatalf("%v", err)
	}
	if *migrateOnly {
		return
	}

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := startup.ConnectDB(rootCtx, cfg.Database.URL, cfg.DBMaxConnections(), connectWait)
	if err != nil {
		logger.Fatalf("%v", err)
	}
	defer pool.Close()
	logger.Info("database connected, migrations applied")

	store := repository.NewStore(pool)
	limit := storage.RateLimit{Max: cfg.Relay.StudentRateLimit, Window: time.Minute}

	var state storage.StateStore
	if cfg.RedisURL != "" {
		rc, err := startup.ConnectRedis(rootCtx, cfg.RedisURL, limit, connectWait)
		if err != nil {
			logger.Fatalf("%v", err)
		}
		state = rc
		logger.Info("state store: redis")
	} else {
		state = devstore.New(repository.NewSettingsRepository(pool), limit)
		logger.Info("state store: postgres settings + in-memory limits")
	}
	defer func() {
		if err := state.Close(); err != nil {
			logger.Errorf("state store close: %v", err)
		}
	}()

	m := metrics.New()
	rooms := relay.NewRegistry(store, cfg.Relay.StorageTimeout, m)
	booking := relay.NewBookingCoordinator(store, cfg.Relay.StorageTimeout, m)
	bot := responder.NewChatbot(responder.Options{
		DefaultModel: cfg.Responder.DefaultModel,
		SchoolData:   responder.LoadSchoolData(cfg.Responder.SchoolDataPath),
		HistoryLimit: cfg.Relay.HistoryLimit,
		Backends:     backends(cfg.Responder),
	}, state, booking)
	logger.Infof("responder: active model %s", bot.CurrentModel(rootCtx))

	vapid := vapidKeys(cfg.Push)
	notifier := push.NewNotifier(state, vapid, cfg.Push.Subject)

	router := relay.NewRouter(rooms, store, bot, booking, relay.RouterConfig{
		HistoryLimit:     cfg.Relay.HistoryLimit,
		GeneratorTimeout: cfg.Relay.GeneratorTimeout,
		StorageTimeout:   cfg.Relay.StorageTimeout,
	}).WithNotifier(notifier).WithMetrics(m)

	hubCtx, hubCancel := context.WithCancel(context.Background())
	hub := ws.NewHub(rooms, router, store, state, m, ws.Config{
		MaxConns:       cfg.MaxWSConnections,
		SendBufferSize: cfg.WSSendBufferSize,
		WriteWait:      cfg.WSWriteTimeout,
		PongWait:       cfg.WSPongTimeout,
		MaxMessageSize: cfg.WSMaxMessageSize,
		StorageTimeout: cfg.Relay.StorageTimeout,
	})
	var hubWg sync.WaitGroup
	hubWg.Add(1)
	go func() {
		defer hubWg.Done()
		hub.Run(hubCtx)
	}()

	chatH := handler.NewChatHandler(store)
	modelH := handler.NewModelHandler(bot)
	slotH := handler.NewSlotHandler(booking)
	pushH := handler.NewPushHandler(state)
	configH := handler.NewConfigHandler(vapid)
	wsH := handler.NewWSHandler(hub, cfg.CORSAllowedOrigins)

	r := chi.NewRouter()
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog(m))
	r.Use(middleware.SecureHeaders)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins(),
		AllowedMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", m.Handler())
	r.Get("/ws", wsH.ServeWS)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.RateLimitAPI(cfg.APIRateLimit))
		r.Get("/chats", chatH.ListChats)
		r.Get("/chats/{id}", chatH.GetChat)
		r.Get("/model", modelH.GetModel)
		r.Post("/model", modelH.SetModel)
		r.Get("/slots", slotH.ListAvailable)
		r.Get("/config/push", configH.GetPushConfig)
		r.Post("/push/subscribe", pushH.Subscribe)
		r.Delete("/push/subscribe", pushH.Unsubscribe)
	})

	if info, err := os.Stat(cfg.StaticDir); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(cfg.StaticDir))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-rootCtx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Errorf("server error: %v", err)
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	hubCancel()
	hubWg.Wait()
	logger.Info("hub stopped")
}

// backends собирает клиентов моделей, для которых задан API-ключ.
func backends(cfg config.ResponderConfig) map[string]responder.Backend {
	out := make(map[string]responder.Backend)
	if cfg.OpenAI.Configured() {
		out[responder.ModelOpenAI] = responder.NewOpenAICompat(cfg.OpenAI.BaseURL, cfg.OpenAI.APIKey, cfg.OpenAI.Model)
	}
	if cfg.Gemini.Configured() {
		out[responder.ModelGemini] = responder.NewOpenAICompat(cfg.Gemini.BaseURL, cfg.Gemini.APIKey, cfg.Gemini.Model)
	}
	if len(out) == 0 {
		logger.Warnf("responder: no model API keys configured, every reply will escalate to an operator")
	}
	return out
}

// vapidKeys берёт ключи из окружения, иначе из файла (генерируя при отсутствии).
// nil — пуши выключены.
func vapidKeys(cfg config.PushConfig) *push.VAPIDKeys {
	keys := &push.VAPIDKeys{PublicKey: cfg.VAPIDPublicKey, PrivateKey: cfg.VAPIDPrivateKey}
	if keys.Valid() {
		return keys
	}
	if cfg.VAPIDKeysFile == "" {
		return nil
	}
	keys, err := push.EnsureVAPIDKeys(cfg.VAPIDKeysFile)
	if err != nil {
		logger.Errorf("push disabled: %v", err)
		return nil
	}
	return keys
}

func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}
