package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"school-quiz/internal/attempt"
	"school-quiz/internal/auth"
	"school-quiz/internal/catalog"
	"school-quiz/internal/config"
	"school-quiz/internal/ledger"
	"school-quiz/pkg/cache"
	"school-quiz/pkg/database"
	"school-quiz/pkg/events"
	"school-quiz/pkg/metrics"
	"school-quiz/pkg/websocket"
)

func main() {
	cfg := config.Load()

	// Initialize database
	db, err := database.Open(&database.Config{
		Driver:   cfg.DB.Driver,
		Host:     cfg.DB.Host,
		Port:     cfg.DB.Port,
		User:     cfg.DB.User,
		Password: cfg.DB.Password,
		DBName:   cfg.DB.DBName,
		SSLMode:  cfg.DB.SSLMode,
		Path:     cfg.DB.Path,
	})
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}

	// Initialize Redis: exam cache and attempt sessions
	var (
		examCache catalog.ExamCache = cache.NopExamCache{}
		sessions  attempt.SessionStore
	)
	if cfg.Redis.Enabled {
		redisCache := cache.NewRedisCache(cache.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			ExamTTL:  cfg.Redis.ExamTTL,
		})
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := redisCache.Ping(pingCtx)
		cancel()
		if err != nil {
			log.Fatalf("Failed to connect to Redis at %s: %v", cfg.Redis.Addr, err)
		}
		defer redisCache.Close()
		examCache = redisCache
		sessions = cache.NewSessionStore(redisCache, cfg.Attempt.SessionTTL)
	} else {
		log.Printf("Warning: REDIS_ENABLED is false, running without exam cache and attempt sessions")
	}

	publisher, err := events.NewPublisher(cfg.AMQP.URL, cfg.AMQP.Exchange)
	if err != nil {
		log.Fatalf("Failed to initialize event publisher: %v", err)
	}
	defer publisher.Close()

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	wsHub := websocket.NewHub()
	go wsHub.Run(hubCtx)

	// Initialize services
	authService := auth.NewService(auth.NewRepository(db), cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	if err := authService.SeedAdmin(context.Background(), cfg.Auth.AdminUsername, cfg.Auth.AdminPassword); err != nil {
		log.Fatalf("Failed to seed admin: %v", err)
	}
	catalogService := catalog.NewService(catalog.NewRepository(db), examCache)
	examLedger := ledger.New(db)
	attemptService := attempt.NewService(
		db,
		catalogService,
		examLedger,
		sessions,
		attempt.NewHandleSigner(cfg.Attempt.HandleSecret, cfg.Attempt.SessionTTL),
		wsHub,
		publisher,
		metrics.Recorder{},
	)

	// Initialize handlers
	authHandler := auth.NewHandler(authService)
	catalogHandler := catalog.NewHandler(catalogService)
	ledgerHandler := ledger.NewHandler(examLedger)
	attemptHandler := attempt.NewHandler(attemptService)

	router := mux.NewRouter()
	router.Use(metrics.Middleware)

	// Public routes
	router.HandleFunc("/api/auth/login", authHandler.Login).Methods("POST", "OPTIONS")
	router.Handle("/metrics", metrics.Handler()).Methods("GET")

	// Student routes - JWT required
	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.Use(auth.JWTMiddleware(cfg.Auth.JWTSecret))

	adminRouter := apiRouter.PathPrefix("/admin").Subrouter()
	adminRouter.Use(auth.RequireAdmin)
	catalogHandler.Register(adminRouter)
	ledgerHandler.RegisterAdmin(adminRouter)
	authHandler.RegisterAdmin(adminRouter)

	attemptHandler.Register(apiRouter)
	ledgerHandler.RegisterStudent(apiRouter)

	// Live attempt feed for admins
	wsRouter := router.PathPrefix("/ws").Subrouter()
	wsRouter.Use(auth.JWTMiddleware(cfg.Auth.JWTSecret), auth.RequireAdmin)
	wsRouter.HandleFunc("/exams/{examID}", wsHub.HandleWebSocket)

	corsMiddleware := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "X-Requested-With", attempt.HandleHeader},
		ExposedHeaders:   []string{"Content-Length", attempt.HandleHeader},
		AllowCredentials: true,
		MaxAge:           300,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      corsMiddleware.Handler(router),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	go func() {
		log.Printf("Server starting on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Graceful shutdown setup
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server shutdown gracefully")
}
