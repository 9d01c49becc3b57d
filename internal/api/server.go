// Package api exposes the inventory, cart and history operations over HTTP.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/safar/foodmanager/internal/database"
	"github.com/safar/foodmanager/internal/feed"
	"github.com/safar/foodmanager/internal/history"
	"github.com/safar/foodmanager/internal/inventory"
	"github.com/safar/foodmanager/internal/models"
	"github.com/safar/foodmanager/internal/purchase"
)

const defaultSnapshotWait = 5 * time.Second

// ItemGetter is the part of store.InventoryStore the cart handlers read to
// capture an item's current price.
type ItemGetter interface {
	GetItem(ctx context.Context, id string) (models.InventoryItem, error)
}

type Deps struct {
	Inventory *inventory.Engine
	Items     *inventory.Service
	Store     ItemGetter
	Cart      *purchase.Cart
	History   *history.Projector
	Logger    logrus.FieldLogger
	// SnapshotWait bounds how long a GET waits for a live feed's first value.
	SnapshotWait time.Duration
}

type Server struct {
	deps Deps
	log  logrus.FieldLogger
	mux  *http.ServeMux
}

func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logrus.StandardLogger()
	}
	if deps.SnapshotWait <= 0 {
		deps.SnapshotWait = defaultSnapshotWait
	}

	s := &Server{
		deps: deps,
		log:  deps.Logger.WithField("component", "api"),
		mux:  http.NewServeMux(),
	}

	s.mux.HandleFunc("/inventory", s.handleInventory)
	s.mux.HandleFunc("/inventory/", s.handleInventoryPath)
	s.mux.HandleFunc("/cart", s.handleCart)
	s.mux.HandleFunc("/cart/", s.handleCartPath)
	s.mux.HandleFunc("/history", s.handleHistory)

	return s
}

func (s *Server) Handler() http.Handler {
	return s.logRequests(s.mux)
}

type itemView struct {
	models.InventoryItem
	Status models.Status `json:"status"`
}

type inventoryView struct {
	Query    string          `json:"query"`
	Category models.Category `json:"category"`
	Items    []itemView      `json:"items"`
}

func toInventoryView(v inventory.View) inventoryView {
	out := inventoryView{
		Query:    v.Query,
		Category: v.Category,
		Items:    make([]itemView, len(v.Items)),
	}
	for i, item := range v.Items {
		out.Items[i] = itemView{InventoryItem: item, Status: item.Status()}
	}
	return out
}

func (s *Server) handleInventory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	switch r.Method {
	case http.MethodGet:
		sub, err := s.deps.Inventory.Subscribe(ctx)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		defer sub.Close()

		view, err := awaitFirst(ctx, s.deps.SnapshotWait, sub)
		if err != nil {
			s.respondErr(w, err)
			return
		}

		s.respondJSON(w, http.StatusOK, toInventoryView(view))

	case http.MethodPost:
		var form models.ItemForm
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		item, err := s.deps.Items.Save(ctx, form)
		if err != nil {
			s.respondErr(w, err)
			return
		}

		status := http.StatusOK
		if strings.TrimSpace(form.ID) == "" {
			status = http.StatusCreated
		}
		s.respondJSON(w, status, itemView{InventoryItem: item, Status: item.Status()})

	default:
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
	}
}

func (s *Server) handleInventoryPath(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	rest := r.URL.Path[len("/inventory/"):]

	switch {
	case rest == "filter":
		if r.Method != http.MethodPut {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		var req struct {
			Query    *string `json:"query"`
			Category *string `json:"category"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			s.respondError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if req.Category != nil {
			category, err := models.ParseCategory(*req.Category)
			if err != nil {
				s.respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.deps.Inventory.SetCategory(category)
		}
		if req.Query != nil {
			s.deps.Inventory.SetQuery(*req.Query)
		}

		s.respondJSON(w, http.StatusAccepted, toInventoryView(s.deps.Inventory.Current()))

	case rest == "seed":
		if r.Method != http.MethodPost {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		seeded, err := s.deps.Items.SeedSample(ctx)
		if err != nil {
			s.respondErr(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]bool{"seeded": seeded})

	case rest != "" && !strings.Contains(rest, "/"):
		if r.Method != http.MethodDelete {
			s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return
		}

		if err := s.deps.Items.Delete(ctx, rest); err != nil {
			s.respondErr(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		s.respondError(w, http.StatusNotFound, "Not found")
	}
}

func (s *Server) handleCart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	state, err := s.deps.Cart.State(r.Context())
	if err != nil {
		s.respondErr(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleCartPath(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodPost {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	rest := r.URL.Path[len("/cart/"):]
	if rest == "confirm" {
		result, err := s.deps.Cart.Confirm(ctx)
		if err != nil {
			s.respondErr(w, err)
			return
		}

		status := http.StatusCreated
		if result.Skipped {
			status = http.StatusOK
		}
		s.respondJSON(w, status, result)
		return
	}

	// items/{id}/increment | items/{id}/decrement
	parts := strings.Split(rest, "/")
	if len(parts) != 3 || parts[0] != "items" || parts[1] == "" {
		s.respondError(w, http.StatusNotFound, "Not found")
		return
	}
	id := parts[1]

	var (
		state purchase.State
		err   error
	)
	switch parts[2] {
	case "increment":
		var item models.InventoryItem
		item, err = s.deps.Store.GetItem(ctx, id)
		if err == nil {
			state, err = s.deps.Cart.Increment(ctx, item)
		}
	case "decrement":
		state, err = s.deps.Cart.Decrement(ctx, models.InventoryItem{ID: id})
	default:
		s.respondError(w, http.StatusNotFound, "Not found")
		return
	}
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, state)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if r.Method != http.MethodGet {
		s.respondError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}

	sub, err := s.deps.History.Subscribe(ctx)
	if err != nil {
		s.respondErr(w, err)
		return
	}
	defer sub.Close()

	orders, err := awaitFirst(ctx, s.deps.SnapshotWait, sub)
	if err != nil {
		s.respondErr(w, err)
		return
	}

	s.respondJSON(w, http.StatusOK, orders)
}

func awaitFirst[T any](ctx context.Context, wait time.Duration, sub *feed.Subscription[T]) (T, error) {
	ctx, cancel := context.WithTimeout(ctx, wait)
	defer cancel()
	return feed.Next(ctx, sub)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, database.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, database.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, database.ErrTransactionConflict), errors.Is(err, database.ErrVersionConflict):
		return http.StatusConflict
	case errors.Is(err, database.ErrStoreUnavailable),
		errors.Is(err, purchase.ErrCartClosed),
		errors.Is(err, feed.ErrClosed):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondErr(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.WithError(err).WithField("status", status).Error("request failed")
	}
	s.respondError(w, status, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.WithError(err).Error("encode JSON response")
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		s.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   rec.status,
			"duration": time.Since(start),
		}).Debug("request")
	})
}
