package server

import (
	"fmt"
	"net/http"
	"time"

	httpLogger "github.com/chi-middleware/logrus-logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/jwtauth/v5"
	"github.com/riandyrn/otelchi"

	"github.com/confide-ai/confide/internal"
	"github.com/confide-ai/confide/pkg/auth"
	"github.com/confide-ai/confide/pkg/chat"
	"github.com/confide-ai/confide/pkg/models"
)

var log = internal.GetLogger()

const ReadHeaderTimeout = 5 * time.Second
const RouterName = "confide"

// Create creates a new HTTP server with the given app state
func Create(appState *models.AppState) *http.Server {
	host := appState.Config.Server.Host
	port := appState.Config.Server.Port
	router := setupRouter(appState)
	return &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           router,
		ReadHeaderTimeout: ReadHeaderTimeout,
	}
}

func setupRouter(appState *models.AppState) *chi.Mux {
	maxRequestSize := appState.Config.Server.MaxRequestSize
	if maxRequestSize == 0 {
		maxRequestSize = 5 << 20 // 5MB
	}

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpLogger.Logger("router", log))
	router.Use(middleware.Recoverer)
	router.Use(middleware.CleanPath)
	router.Use(SendVersion)
	router.Use(middleware.Heartbeat("/healthz"))
	router.Use(middleware.RequestSize(maxRequestSize))
	router.Use(otelchi.Middleware(RouterName, otelchi.WithChiRoutes(router)))

	chatService := chat.NewService(appState)

	router.Route("/api/v1", func(r chi.Router) {
		// Typebot chat surface
		r.Group(func(r chi.Router) {
			r.Use(TypebotKeyAuth(appState.Config))
			r.Post("/chat", PostChatHandler(chatService))
		})

		// assistant tool surface
		r.Route("/tools", func(r chi.Router) {
			r.Use(SignatureVerifier(appState.Config))
			r.Post("/evaluate_intake_progress", EvaluateIntakeProgressHandler())
			r.Post("/risk_escalation_check", RiskEscalationCheckHandler(chatService))
			r.Post("/switch_chat_mode", SwitchChatModeHandler(chatService))
			r.Post("/save_session_summary", SaveSessionSummaryHandler(chatService))
		})

		// operator session API
		r.Group(func(r chi.Router) {
			if appState.Config.Auth.Required {
				log.Info("JWT authentication required")
				r.Use(auth.JWTVerifier(appState.Config))
				r.Use(jwtauth.Authenticator)
			}
			r.Route("/sessions/{sessionId}", func(r chi.Router) {
				r.Get("/", GetSessionHandler(appState))
				r.Post("/", PostSessionHandler(appState))
				r.Delete("/", DeleteSessionHandler(appState))
				r.Get("/messages", GetMessageListHandler(appState))
				r.Get("/summary", GetSummaryHandler(appState))
				r.Post("/search", SearchMessagesHandler(appState))
			})
		})
	})

	return router
}
