package api

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/gorilla/handlers"
	"github.com/npezzotti/lan-chat/internal/blob"
	"github.com/npezzotti/lan-chat/internal/chat"
	"github.com/npezzotti/lan-chat/internal/config"
	"github.com/npezzotti/lan-chat/internal/database"
	"github.com/npezzotti/lan-chat/internal/feed"
	"github.com/npezzotti/lan-chat/internal/server"
)

type LanChatApp struct {
	log            *log.Logger
	db             database.Repository
	chat           *chat.Service
	feed           *feed.Assembler
	notifier       *server.Notifier
	blobs          *blob.Store
	limiter        *addressLimiter
	allowedOrigins []string
	maxUpload      int64
	mux            *http.Server
}

func NewLanChatApp(mux *http.ServeMux, logger *log.Logger, db database.Repository, svc *chat.Service,
	fa *feed.Assembler, n *server.Notifier, blobs *blob.Store, cfg *config.Config) *LanChatApp {
	s := &LanChatApp{
		log:            logger,
		db:             db,
		chat:           svc,
		feed:           fa,
		notifier:       n,
		blobs:          blobs,
		limiter:        newAddressLimiter(cfg.RateLimit, cfg.RateBurst),
		allowedOrigins: cfg.AllowedOrigins,
		maxUpload:      cfg.MaxUploadSize,
	}

	mux.HandleFunc("GET /healthz", s.healthCheck)
	mux.HandleFunc("GET /check-user", s.checkUser)
	mux.HandleFunc("POST /access-request", s.rateLimit(s.requestAccess))

	mux.HandleFunc("GET /users", s.identify(s.listUsers))
	mux.HandleFunc("GET /messages", s.identify(s.getMessages))
	mux.HandleFunc("POST /message", s.identify(s.rateLimit(s.sendMessage)))
	mux.HandleFunc("DELETE /message/{id}", s.identify(s.rateLimit(s.deleteMessage)))
	mux.HandleFunc("POST /message/{id}/reaction", s.identify(s.rateLimit(s.toggleReaction)))
	mux.HandleFunc("PUT /user/name", s.identify(s.rateLimit(s.renameUser)))
	mux.HandleFunc("PUT /user/image", s.identify(s.rateLimit(s.changeUserImage)))
	mux.HandleFunc("PUT /user/bgColor", s.identify(s.rateLimit(s.changeBgColor)))
	mux.HandleFunc("GET /images/uploads/{key}", s.identify(s.serveImage))
	mux.HandleFunc("GET /ws", s.identify(s.serveWs))

	mux.HandleFunc("GET /access-requests", s.identify(s.adminOnly(s.listAccessRequests)))
	mux.HandleFunc("PUT /access-request/{id}", s.identify(s.adminOnly(s.approveAccess)))
	mux.HandleFunc("DELETE /access-request/{id}", s.identify(s.adminOnly(s.rejectAccess)))

	h := handlers.CORS(
		handlers.MaxAge(3600),
		handlers.AllowedOrigins(cfg.AllowedOrigins),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions}),
		handlers.AllowedHeaders([]string{"Origin", "Content-Type", "Accept"}),
		handlers.AllowCredentials(),
	)(mux)

	if cfg.TrustProxy {
		h = handlers.ProxyHeaders(h)
	}
	h = handlers.CombinedLoggingHandler(logger.Writer(), h)
	h = s.errorHandler(h)

	srv := &http.Server{
		Addr:    cfg.ServerAddr,
		Handler: h,
	}

	s.mux = srv
	return s
}

func (s *LanChatApp) Start() error {
	s.log.Printf("starting server on %s\n", s.mux.Addr)
	return s.mux.ListenAndServe()
}

func (s *LanChatApp) Shutdown(ctx context.Context) error {
	s.log.Println("shutting down HTTP server...")
	if err := s.mux.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	return nil
}
