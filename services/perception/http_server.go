package perception

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"perception-core/internal/logger"
)

type HTTPServer struct {
	server *http.Server
	router *mux.Router
}

func NewHTTPServer(addr string) *HTTPServer {
	router := mux.NewRouter()

	srv := &http.Server{
		Addr:         addr,
		WriteTimeout: time.Second * 15,
		ReadTimeout:  time.Second * 15,
		IdleTimeout:  time.Second * 60,
		Handler:      router,
	}

	return &HTTPServer{
		server: srv,
		router: router,
	}
}

func (hs *HTTPServer) Start() {
	go func() {
		logger.Component("http").WithField("addr", hs.server.Addr).Info("HTTP server starting")
		if err := hs.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Component("http").WithError(err).Error("HTTP server error")
		}
	}()
}

func (hs *HTTPServer) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := hs.server.Shutdown(ctx); err != nil {
		logger.Component("http").WithError(err).Error("HTTP server shutdown error")
	}
	logger.Component("http").Info("HTTP server stopped")
}

func (hs *HTTPServer) RegisterRoutes(service *Service, wsServer *WebSocketServer) {
	// WebSocket endpoints
	hs.router.HandleFunc("/ws/relations", wsServer.HandleWebSocket)
	hs.router.HandleFunc("/ws/mismatches", wsServer.HandleWebSocket)

	// REST API endpoints
	hs.router.HandleFunc("/scenes/{scene_id}/entities/{entity_id}/relations", service.GetRelationsHandler).Methods("GET")
	hs.router.HandleFunc("/scenes/{scene_id}/entities/{entity_id}/effects", service.GetEffectsHandler).Methods("GET")
	hs.router.HandleFunc("/scenes/{scene_id}/overrides", service.SetOverrideHandler).Methods("POST")
	hs.router.HandleFunc("/scenes/{scene_id}/overrides/{observer_id}/{target_id}", service.GetOverrideHandler).Methods("GET")
	hs.router.HandleFunc("/scenes/{scene_id}/overrides/{observer_id}/{target_id}", service.RemoveOverrideHandler).Methods("DELETE")
	hs.router.HandleFunc("/scenes/{scene_id}/entities/{entity_id}/killswitch", service.SetKillSwitchHandler).Methods("PUT")
	hs.router.HandleFunc("/scenes/{scene_id}/mismatches/resolve", service.ResolveMismatchHandler).Methods("POST")
	hs.router.HandleFunc("/healthz", service.HealthHandler).Methods("GET")
}
