package swcache

import (
	"encoding/json"
	"net/http"
	"strconv"

	pagechannel "github.com/always-cache/sw-cache/pkg/page-channel"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/hlog"
)

// ControlPrefix is where the control routes are mounted by Handler.
const ControlPrefix = "/.sw"

// StatusReport is returned by the status control route.
type StatusReport struct {
	State      string             `json:"state"`
	Generation string             `json:"generation"`
	Draining   bool               `json:"draining"`
	Pages      int                `json:"pages"`
	Session    pagechannel.Status `json:"session"`
}

// ControlRoutes exposes the lifecycle and page channel over HTTP.
func (w *Worker) ControlRoutes() http.Handler {
	r := chi.NewRouter()
	r.Use(hlog.NewHandler(w.log))
	r.Use(hlog.MethodHandler("method"))
	r.Use(hlog.URLHandler("url"))

	r.Post("/install", func(rw http.ResponseWriter, r *http.Request) {
		if err := w.Install(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	})
	r.Post("/activate", func(rw http.ResponseWriter, r *http.Request) {
		if err := w.Activate(r.Context()); err != nil {
			http.Error(rw, err.Error(), http.StatusConflict)
			return
		}
		rw.WriteHeader(http.StatusNoContent)
	})
	r.Post("/prefetch", func(rw http.ResponseWriter, r *http.Request) {
		force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
		go w.Prefetch(w.ctx, force)
		rw.WriteHeader(http.StatusAccepted)
	})
	r.Get("/status", func(rw http.ResponseWriter, r *http.Request) {
		rw.Header().Set("Content-Type", "application/json")
		json.NewEncoder(rw).Encode(StatusReport{
			State:      w.State().String(),
			Generation: w.Generation(),
			Draining:   w.Draining(),
			Pages:      w.hub.Len(),
			Session:    w.session.Snapshot(),
		})
	})
	r.Get("/events", pagechannel.EventsHandler(w.hub, w.controlsNewPages, w.OnConnect))
	r.Post("/message", pagechannel.MessageHandler(w.hub, w.OnMessage))

	return r
}

// Handler serves the control routes below ControlPrefix and routes every
// other request through the worker.
func (w *Worker) Handler() http.Handler {
	r := chi.NewRouter()
	r.Mount(ControlPrefix, w.ControlRoutes())
	r.Handle("/*", w)
	return r
}

// controlsNewPages reports whether pages connecting now start out controlled.
func (w *Worker) controlsNewPages() bool {
	return w.State() == StateActivated
}
