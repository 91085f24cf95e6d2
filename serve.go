package inventory

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"inventory/events"
	"inventory/model"
)

// get-item only serves ids in [minID, maxID)
const (
	minID = 1
	maxID = 4
)

// bound on publishing when there's no request deadline
const publishTimeout = 2 * time.Second

var timeoutBody, _ = json.Marshal(map[string]string{"detail": "Timeout"})

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (a *app) logRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.New().String()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		w.Header().Set("X-Request-Id", id)
		next.ServeHTTP(rec, r)

		a.logger.Info("request",
			zap.String("request_id", id),
			zap.String("method", r.Method),
			zap.String("uri", r.RequestURI),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func (a *app) traceRequest(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := otel.GetTextMapPropagator().Extract(r.Context(), propagation.HeaderCarrier(r.Header))
		name := r.URL.Path

		if route := mux.CurrentRoute(r); route != nil {
			if t, err := route.GetPathTemplate(); err == nil {
				name = t
			}
		}

		ctx, span := a.tracer.Start(ctx, r.Method+" "+name,
			trace.WithSpanKind(trace.SpanKindServer),
			trace.WithAttributes(
				attribute.String("http.request.method", r.Method),
				attribute.String("url.path", r.URL.Path),
			),
		)

		defer span.End()

		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *app) limit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.limiter.Allow() {
			writeError(w, http.StatusTooManyRequests, "Too many requests")
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withDeadline answers 503 with a JSON detail once a.timeout passes;
// the handler's own headers replace ours when it finishes in time
func (a *app) withDeadline(next http.Handler) http.Handler {
	h := http.TimeoutHandler(next, a.timeout, string(timeoutBody))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		h.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)

	// the status is already out, nothing left to report to
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, code int, detail string) {
	writeJSON(w, code, map[string]string{"detail": detail})
}

func httpStatus(err error) int {
	switch status.Code(err) {
	case codes.NotFound:
		return http.StatusNotFound
	case codes.AlreadyExists:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

func (a *app) fail(w http.ResponseWriter, r *http.Request, err error) {
	code := httpStatus(err)

	if code == http.StatusInternalServerError {
		a.logger.Error("request failed", zap.String("uri", r.RequestURI), zap.Error(err))
	}

	writeError(w, code, status.Convert(err).Message())
}

func invalid(format string, args ...interface{}) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}

func parseID(s string) (int, error) {
	id, err := strconv.Atoi(s)

	if err != nil {
		return 0, invalid("item_id: value is not a valid integer")
	}

	return id, nil
}

// publish is detached from the request deadline and gets at most
// half of it, so the store's reply still goes out
func (a *app) publish(r *http.Request, t events.Type, id int, item *model.Item) {
	e := events.Event{Type: t, ItemID: id, Item: item}
	limit := publishTimeout

	if a.timeout > 0 {
		limit = a.timeout / 2
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(r.Context()), limit)
	defer cancel()

	if err := a.events.Publish(ctx, e); err != nil {
		a.logger.Warn("event not published", zap.String("type", string(t)), zap.Int("item_id", id), zap.Error(err))
	}
}

func (a *app) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *app) list(w http.ResponseWriter, r *http.Request) {
	items, err := a.db.ListItems(r.Context())

	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, items)
}

func (a *app) get(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["item_id"])

	if err != nil {
		a.fail(w, r, err)
		return
	}

	if id < minID || id >= maxID {
		a.fail(w, r, invalid("item_id: must be >= %d and < %d", minID, maxID))
		return
	}

	item, err := a.db.GetItem(r.Context(), id)

	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (a *app) getByName(w http.ResponseWriter, r *http.Request) {
	names, ok := r.URL.Query()["name"]

	if !ok {
		a.fail(w, r, invalid("Item name required"))
		return
	}

	item, err := a.db.GetItemByName(r.Context(), names[0])

	if err != nil {
		a.fail(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, item)
}

func (a *app) add(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["item_id"])

	if err != nil {
		a.fail(w, r, err)
		return
	}

	var in model.NewItem

	if err = json.NewDecoder(r.Body).Decode(&in); err != nil {
		a.fail(w, r, invalid("Invalid input: %s", err))
		return
	}

	item, err := in.Item()

	if err != nil {
		a.fail(w, r, invalid("%s", err))
		return
	}

	stored, err := a.db.AddItem(r.Context(), id, item)

	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.publish(r, events.Created, id, stored)

	writeJSON(w, http.StatusOK, stored)
}

func (a *app) put(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(mux.Vars(r)["item_id"])

	if err != nil {
		a.fail(w, r, err)
		return
	}

	var patch model.UpdateItem

	if err = json.NewDecoder(r.Body).Decode(&patch); err != nil {
		a.fail(w, r, invalid("Invalid input: %s", err))
		return
	}

	item, err := a.db.UpdateItem(r.Context(), id, patch)

	if err != nil {
		a.fail(w, r, err)
		return
	}

	a.publish(r, events.Updated, id, item)

	writeJSON(w, http.StatusOK, item)
}

func (a *app) drop(w http.ResponseWriter, r *http.Request) {
	s := r.URL.Query().Get("item_id")

	if s == "" {
		a.fail(w, r, invalid("item_id: field required"))
		return
	}

	id, err := parseID(s)

	if err != nil {
		a.fail(w, r, err)
		return
	}

	if id <= 0 {
		a.fail(w, r, invalid("item_id: must be > 0"))
		return
	}

	if err = a.db.DeleteItem(r.Context(), id); err != nil {
		a.fail(w, r, err)
		return
	}

	a.publish(r, events.Deleted, id, nil)

	writeJSON(w, http.StatusOK, map[string]string{"Success": "Item deleted"})
}
