//Package httpapi serves a read-only view of the reaction role bindings.
package httpapi

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/callummance/nia-roles/guildmodels"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/sirupsen/logrus"
)

//BindingSource is the part of the reconciliation engine the API reads from
type BindingSource interface {
	Bindings() []guildmodels.RoleBinding
	Ready() <-chan struct{}
}

type handler struct {
	source BindingSource
}

type errorBody struct {
	Error string `json:"error"`
}

type healthBody struct {
	Status   string `json:"status"`
	Ready    bool   `json:"ready"`
	Bindings int    `json:"bindings"`
}

//NewRouter builds the status API
func NewRouter(source BindingSource) http.Handler {
	h := &handler{source: source}
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Get("/bindings", h.listBindings)
	r.Get("/bindings/{messageID}", h.messageBindings)
	return r
}

//health reports 503 until the boot resync has finished
func (h *handler) health(w http.ResponseWriter, r *http.Request) {
	body := healthBody{Status: "ok", Ready: isReady(h.source), Bindings: len(h.source.Bindings())}
	status := http.StatusOK
	if !body.Ready {
		body.Status = "starting"
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, body)
}

//listBindings handles GET /bindings, optionally filtered with ?guild=<id>
func (h *handler) listBindings(w http.ResponseWriter, r *http.Request) {
	guildID := r.URL.Query().Get("guild")
	res := make([]guildmodels.RoleBinding, 0)
	for _, b := range h.source.Bindings() {
		if guildID == "" || b.GuildID == guildID {
			res = append(res, b)
		}
	}
	writeJSON(w, http.StatusOK, res)
}

//messageBindings handles GET /bindings/{messageID}
func (h *handler) messageBindings(w http.ResponseWriter, r *http.Request) {
	messageID := chi.URLParam(r, "messageID")
	res := make([]guildmodels.RoleBinding, 0)
	for _, b := range h.source.Bindings() {
		if b.MessageID == messageID {
			res = append(res, b)
		}
	}
	if len(res) == 0 {
		writeJSON(w, http.StatusNotFound, errorBody{Error: "no bindings on message " + messageID})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func isReady(source BindingSource) bool {
	select {
	case <-source.Ready():
		return true
	default:
		return false
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		logrus.Warnf("Failed to write API response: %v", err)
	}
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)
		logrus.WithFields(logrus.Fields{
			"request":  middleware.GetReqID(r.Context()),
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   ww.Status(),
			"duration": time.Since(start),
		}).Debug("Served API request")
	})
}
