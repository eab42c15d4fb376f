package http

import (
	"context"
	stdhttp "net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

func (h *Handler) Routes() stdhttp.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(h.instrument)

	r.Get("/healthz", func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(stdhttp.StatusOK)
		_, _ = w.Write([]byte(`{"result":"ok"}`))
	})
	r.Handle("/metrics", promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(h.auth.Middleware)

		r.Route("/forum", func(r chi.Router) {
			r.Use(h.forum)
			h.commentRoutes(r)
			r.Get("/categories/{category}/posts", h.GetCategoryPosts)
		})

		r.Route("/contexts/{type}/{contextID}", func(r chi.Router) {
			r.Use(h.contextThread)
			h.commentRoutes(r)
		})
	})

	return r
}

func (h *Handler) commentRoutes(r chi.Router) {
	r.Get("/comments", h.GetComments)
	r.Post("/comments", h.CreateComment)
	r.Post("/comments/{id}/replies", h.CreateReply)
	r.Delete("/comments/{id}", h.DeleteComment)
	r.Get("/ws", h.Watch)
}

func (h *Handler) forum(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		c, err := h.threads.Forum(r.Context())
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), serviceKey, c)))
	})
}

func (h *Handler) contextThread(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		ref := model.ContextRef{
			Type: model.ContextType(chi.URLParam(r, "type")),
			ID:   chi.URLParam(r, "contextID"),
		}
		c, err := h.threads.Context(r.Context(), identityFrom(r).ID, ref)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), serviceKey, c)))
	})
}

// instrument records request metrics against the matched route pattern.
func (h *Handler) instrument(next stdhttp.Handler) stdhttp.Handler {
	return stdhttp.HandlerFunc(func(w stdhttp.ResponseWriter, r *stdhttp.Request) {
		if metrics.ShouldSkipEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := chi.RouteContext(r.Context()).RoutePattern()
		if route == "" {
			route = "unmatched"
		}
		status := ww.Status()
		if status == 0 {
			status = stdhttp.StatusOK
		}
		h.metrics.RecordHTTPRequest(r.Method, route, status, time.Since(start))
	})
}
