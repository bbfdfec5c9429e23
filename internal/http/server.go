package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/zapsender/campaign-engine/internal/engine"
	"github.com/zapsender/campaign-engine/internal/events"
	"github.com/zapsender/campaign-engine/internal/store"
)

type Server struct {
	Store  store.Store
	Engine *engine.Engine
	Hub    *events.Hub
	Log    zerolog.Logger
}

func NewServer(st store.Store, eng *engine.Engine, hub *events.Hub, log zerolog.Logger) *Server {
	return &Server{Store: st, Engine: eng, Hub: hub, Log: log}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.RealIP, middleware.Logger, middleware.Recoverer)
	r.Use(instrument)

	s.mountHealth(r)
	s.mountMetrics(r)

	r.Post("/contacts", s.createContact)
	r.Get("/contacts", s.listContacts)
	r.Delete("/contacts/{id}", s.deleteContact)

	r.Post("/campaigns", s.createCampaign)
	r.Get("/campaigns", s.listCampaigns)
	r.Get("/campaigns/{id}", s.getCampaign)
	r.Post("/campaigns/{id}/send", s.sendCampaign)
	r.Post("/campaigns/{id}/cancel", s.cancelCampaign)
	r.Get("/campaigns/{id}/messages", s.listCampaignMessages)

	r.Post("/send/quick", s.quickSend)
	r.Post("/validate-phones", s.validatePhones)

	r.Get("/activities", s.listActivities)
	r.Get("/stats", s.getStats)
	r.Get("/events", s.streamEvents)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
