package routes

import (
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware" // Alias to avoid conflict
	"github.com/go-chi/cors"

	"github.com/pettinen/gifdome/handlers"
	"github.com/pettinen/gifdome/middleware"
)

// Config carries the HTTP surface tunables.
type Config struct {
	JWTSecret      string
	AllowedOrigins []string
}

func InitRoutes(export *handlers.ExportHandler, admin *handlers.AdminHandler, ws *handlers.WebSocketHandler, cfg Config) *chi.Mux {
	router := chi.NewRouter()

	router.Use(chiMiddleware.Logger)
	router.Use(chiMiddleware.Recoverer)

	router.Use(cors.Handler(cors.Options{
		AllowedOrigins: cfg.AllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))

	router.Get("/healthz", export.Healthz)

	// Public read API consumed by the www frontend.
	router.Route("/api/v1", func(r chi.Router) {
		r.Get("/matches.json", export.Matches)
		r.Get("/gifs.json", export.Gifs)
		r.Get("/submissions.json", export.Submissions)
		r.Get("/status", export.Status)
	})

	router.Route("/admin", func(r chi.Router) {
		r.Post("/login", admin.Login)

		// Everything past login requires a valid admin token.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Authenticate([]byte(cfg.JWTSecret)))
			r.Use(middleware.Authorize("admin"))

			r.Put("/seeding", admin.Seeding)
			r.Post("/advance", admin.Advance)
			r.Post("/reset", admin.Reset)
		})
	})

	router.Get("/ws/bracket", ws.ServeWs)

	return router
}
