package http

import (
	"context"
	"encoding/json"
	"errors"
	stdhttp "net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/MyNameIsWhaaat/teamboard/internal/comment/localcache"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/model"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/service"
	"github.com/MyNameIsWhaaat/teamboard/internal/comment/storage"
	"github.com/MyNameIsWhaaat/teamboard/internal/metrics"
)

// Threads resolves the controller behind a request. *service.Registry implements it.
// Document and task threads belong to the authenticated user, passed as clientID.
type Threads interface {
	Forum(ctx context.Context) (*service.Controller, error)
	Context(ctx context.Context, clientID string, ref model.ContextRef) (*service.Controller, error)
}

type Options struct {
	Logger  *zap.Logger
	Metrics *metrics.Metrics
	// Gatherer backs /metrics. Defaults to the prometheus default registry.
	Gatherer prometheus.Gatherer
}

type Handler struct {
	threads  Threads
	auth     *Authenticator
	log      *zap.Logger
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	upgrader websocket.Upgrader
}

func New(threads Threads, auth *Authenticator, opts Options) *Handler {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}
	return &Handler{
		threads:  threads,
		auth:     auth,
		log:      opts.Logger,
		metrics:  opts.Metrics,
		gatherer: opts.Gatherer,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *stdhttp.Request) bool { return true },
		},
	}
}

type createCommentRequest struct {
	Title    string         `json:"title"`
	Content  string         `json:"content"`
	Category model.Category `json:"category"`
	Tags     []string       `json:"tags"`
	Pinned   bool           `json:"pinned"`
}

type createReplyRequest struct {
	Content string   `json:"content"`
	Tags    []string `json:"tags"`
}

// viewResponse is the JSON shape of a thread view, shared by GET and the websocket.
type viewResponse struct {
	Items   []model.CommentNode `json:"items"`
	Total   int                 `json:"total"`
	Loading bool                `json:"loading"`
	Error   string              `json:"error,omitempty"`
	Draft   string              `json:"draft,omitempty"`
}

func newView(st service.State) viewResponse {
	v := viewResponse{
		Items:   st.Items,
		Total:   st.Total,
		Loading: st.IsLoading,
		Draft:   st.Draft,
	}
	if v.Items == nil {
		v.Items = []model.CommentNode{}
	}
	if st.Err != nil {
		v.Error = st.Err.Error()
	}
	return v
}

func (h *Handler) GetComments(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	f, ok := parseFilter(w, r)
	if !ok {
		return
	}
	writeJSON(w, stdhttp.StatusOK, newView(serviceFrom(r).ViewFor(identityFrom(r), f)))
}

func (h *Handler) CreateComment(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req createCommentRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "bad json"})
		return
	}

	c, err := serviceFrom(r).AddPost(r.Context(), identityFrom(r), service.PostInput{
		Title:    req.Title,
		Content:  req.Content,
		Category: req.Category,
		Tags:     req.Tags,
		Pinned:   req.Pinned,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, stdhttp.StatusCreated, c)
}

func (h *Handler) CreateReply(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	var req createReplyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "bad json"})
		return
	}

	c, err := serviceFrom(r).Reply(r.Context(), identityFrom(r), chi.URLParam(r, "id"), service.ReplyInput{
		Content: req.Content,
		Tags:    req.Tags,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, stdhttp.StatusCreated, c)
}

func (h *Handler) DeleteComment(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	id := strings.TrimSpace(chi.URLParam(r, "id"))
	if id == "" {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "invalid id"})
		return
	}

	deleted, err := serviceFrom(r).Delete(r.Context(), identityFrom(r), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	writeJSON(w, stdhttp.StatusOK, map[string]any{"deleted": deleted})
}

// GetCategoryPosts lists the top-level posts of one forum category, newest first.
func (h *Handler) GetCategoryPosts(w stdhttp.ResponseWriter, r *stdhttp.Request) {
	posts, err := serviceFrom(r).Posts(r.Context(), model.Category(chi.URLParam(r, "category")))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	if posts == nil {
		posts = []model.Comment{}
	}

	writeJSON(w, stdhttp.StatusOK, map[string]any{"items": posts, "total": len(posts)})
}

func parseFilter(w stdhttp.ResponseWriter, r *stdhttp.Request) (model.Filter, bool) {
	q := r.URL.Query()
	f := model.Filter{
		Search:   q.Get("q"),
		Category: model.Category(strings.TrimSpace(q.Get("category"))),
	}
	if f.Category != "" && f.Category != model.CategoryAll && !f.Category.Valid() {
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": "invalid category"})
		return model.Filter{}, false
	}
	return f, true
}

func (h *Handler) writeError(w stdhttp.ResponseWriter, r *stdhttp.Request, err error) {
	var (
		verr *model.ValidationError
		perr *service.PermissionError
		rerr *storage.ReadError
		werr *storage.WriteError
		serr *storage.StorageError
	)

	switch {
	case errors.As(err, &verr):
		writeJSON(w, stdhttp.StatusBadRequest, map[string]any{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &perr):
		writeJSON(w, stdhttp.StatusForbidden, map[string]any{"error": "forbidden"})
	case errors.Is(err, service.ErrNotFound), errors.Is(err, localcache.ErrParentNotFound):
		writeJSON(w, stdhttp.StatusNotFound, map[string]any{"error": "not found"})
	case errors.Is(err, service.ErrStopped),
		errors.As(err, &rerr), errors.As(err, &werr), errors.As(err, &serr):
		h.log.Warn("Comment store unavailable", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, stdhttp.StatusServiceUnavailable, map[string]any{"error": "storage unavailable"})
	default:
		h.log.Error("Request failed", zap.String("path", r.URL.Path), zap.Error(err))
		writeJSON(w, stdhttp.StatusInternalServerError, map[string]any{"error": "internal error"})
	}
}

func writeJSON(w stdhttp.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
