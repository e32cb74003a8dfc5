package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/cors"

	"github.com/carebridge/carebridge/internal/config"
	"github.com/carebridge/carebridge/internal/db"
	"github.com/carebridge/carebridge/internal/emitter"
	"github.com/carebridge/carebridge/internal/export"
	"github.com/carebridge/carebridge/internal/middleware"
	"github.com/carebridge/carebridge/internal/projection"
	"github.com/carebridge/carebridge/internal/query"
	"github.com/carebridge/carebridge/internal/repository"
	"github.com/carebridge/carebridge/internal/router"
	"github.com/carebridge/carebridge/internal/saga"
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load(".")
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Setup database connection
	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer conn.Close()

	// Run migrations
	if err := db.RunMigrations(cfg.Database, "./migrations"); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}

	// Build the event router and register every projection handler
	eventRouter := router.New()
	projection.RegisterAll(eventRouter)
	if err := eventRouter.ConfigurePolicies(cfg.Router.Policies); err != nil {
		log.Fatalf("Invalid router policy configuration: %v", err)
	}

	// Wire services over the shared transaction runner
	emitterService := emitter.NewService(conn, repository.NewPostgresSet, eventRouter)
	sagaService := saga.NewService(emitterService, conn, repository.NewPostgresSet)
	exportService := export.NewService(conn, repository.NewPostgresSet)
	queryService := query.NewService(conn, repository.NewPostgresSet)

	eventHandler := emitter.NewHTTPHandler(emitterService)
	queryHandler := query.NewHTTPHandler(queryService)

	mux := http.NewServeMux()
	mux.Handle("/events", eventHandler)
	mux.Handle("/events/", eventHandler)
	mux.Handle("/streams/", eventHandler)
	mux.Handle("/sagas/", saga.NewHTTPHandler(sagaService))
	mux.Handle("/exports/", export.NewHTTPHandler(exportService))
	mux.Handle("/organizations", queryHandler)
	mux.Handle("/organizations/", queryHandler)
	mux.Handle("/organization-units/", queryHandler)
	mux.Handle("/medications/", queryHandler)
	mux.Handle("/invitations/", queryHandler)
	mux.Handle("/aggregates/", queryHandler)

	// Setup CORS
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
	})

	handler := corsHandler.Handler(
		middleware.LoggingMiddleware(
			middleware.ActorMiddleware(mux),
		),
	)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Printf("Starting event API on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
