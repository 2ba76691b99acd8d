// Package admin is the private HTTP API the store owner manages the
// storefront with, plus the public PIX webhook endpoint.
package admin

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/shopspring/decimal"

	"github.com/vendezap/pixstore-bot/internal/catalog"
	"github.com/vendezap/pixstore-bot/internal/models"
	"github.com/vendezap/pixstore-bot/internal/payments"
)

const maxMediaUploadBytes = 50 << 20

// MediaStorage stores uploaded product media and returns its public URL.
type MediaStorage interface {
	Upload(ctx context.Context, data []byte, contentType string) (string, error)
}

// Broadcaster pushes a text message to a set of chats.
type Broadcaster interface {
	Broadcast(ctx context.Context, chatIDs []int64, text string) int
}

// ChatLister enumerates every chat that ever opened a session.
type ChatLister interface {
	ListChatIDs(ctx context.Context) ([]int64, error)
}

type Server struct {
	addr     string
	username string
	password string
	log      *slog.Logger
	catalog  *catalog.Service
	payments *payments.Service
	storage  MediaStorage
	bot      Broadcaster
	chats    ChatLister
	router   *chi.Mux
}

func NewServer(addr, username, password string, log *slog.Logger, catalogSvc *catalog.Service, paymentsSvc *payments.Service, storage MediaStorage, bot Broadcaster, chats ChatLister) *Server {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	s := &Server{
		addr:     addr,
		username: username,
		password: password,
		log:      log,
		catalog:  catalogSvc,
		payments: paymentsSvc,
		storage:  storage,
		bot:      bot,
		chats:    chats,
		router:   r,
	}
	r.Post("/webhook/pix", s.handlePixWebhook)
	r.Group(func(protected chi.Router) {
		protected.Use(s.basicAuthMiddleware())
		protected.Post("/broadcast", s.handleBroadcast)
		protected.Route("/products", func(r chi.Router) {
			r.Get("/", s.handleListProducts)
			r.Post("/", s.handleCreateProduct)
			r.Put("/{id}", s.handleUpdateProduct)
			r.Delete("/{id}", s.handleDeleteProduct)
			r.Post("/{id}/media", s.handleUploadMedia)
			r.Get("/{id}/fees", s.handleListFees)
			r.Post("/{id}/fees", s.handleCreateFee)
			r.Put("/{id}/fees/reorder", s.handleReorderFees)
			r.Get("/{id}/funnel", s.handleGetFunnel)
			r.Post("/{id}/upsells", s.handleCreateUpsell)
			r.Put("/{id}/upsells/reorder", s.handleReorderUpsells)
			r.Put("/{id}/downsell", s.handleSetDownsell)
			r.Delete("/{id}/downsell", s.handleDeleteDownsell)
		})
		protected.Route("/fees", func(r chi.Router) {
			r.Put("/{id}", s.handleUpdateFee)
			r.Delete("/{id}", s.handleDeleteFee)
		})
		protected.Route("/upsells", func(r chi.Router) {
			r.Put("/{id}", s.handleUpdateUpsell)
			r.Delete("/{id}", s.handleDeleteUpsell)
		})
		protected.Route("/templates", func(r chi.Router) {
			r.Get("/{type}", s.handleListTemplates)
			r.Post("/", s.handleCreateTemplate)
			r.Put("/reorder/{type}", s.handleReorderTemplates)
			r.Put("/{id}", s.handleUpdateTemplate)
			r.Delete("/{id}", s.handleDeleteTemplate)
		})
	})
	return s
}

func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			s.log.Error("admin shutdown error", "err", err)
		}
	}()

	s.log.Info("admin api listening", "addr", s.addr)
	if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("admin listen: %w", err)
	}
	return nil
}

// handlePixWebhook is the public endpoint the PIX provider posts payment
// status updates to.
func (s *Server) handlePixWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(r.Body)
	if err != nil {
		http.Error(w, "read body error", http.StatusBadRequest)
		return
	}
	if err := s.payments.HandlePixWebhook(r.Context(), body); err != nil {
		s.log.Error("pix webhook", "err", err)
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

type broadcastRequest struct {
	Message string `json:"message"`
}

func (s *Server) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	var req broadcastRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		http.Error(w, "message required", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	ids, err := s.chats.ListChatIDs(ctx)
	if err != nil {
		s.internalError(w, err)
		return
	}
	sent := s.bot.Broadcast(ctx, ids, req.Message)

	s.writeJSON(w, http.StatusOK, map[string]any{
		"sent":  sent,
		"total": len(ids),
	})
}

func (s *Server) handleListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := s.catalog.ListProducts(r.Context())
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, products)
}

type productRequest struct {
	Name                  string `json:"name"`
	Price                 string `json:"price"`
	Description           string `json:"description"`
	FileURL               string `json:"file_url"`
	GroupID               string `json:"group_id"`
	RequireFees           bool   `json:"require_fees"`
	LegacyUpsellProductID *int64 `json:"legacy_upsell_product_id"`
	IsActive              *bool  `json:"is_active"`
}

func (req productRequest) toModel() (*models.Product, error) {
	price, err := decimal.NewFromString(req.Price)
	if err != nil {
		return nil, fmt.Errorf("invalid price %q", req.Price)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &models.Product{
		Name:                  req.Name,
		Price:                 price,
		Description:           req.Description,
		FileURL:               req.FileURL,
		GroupID:               req.GroupID,
		RequireFees:           req.RequireFees,
		LegacyUpsellProductID: req.LegacyUpsellProductID,
		IsActive:              active,
	}, nil
}

func (s *Server) handleCreateProduct(w http.ResponseWriter, r *http.Request) {
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	product, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	created, err := s.catalog.CreateProduct(r.Context(), product)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req productRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	product, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	product.ID = id
	updated, err := s.catalog.UpdateProduct(r.Context(), product)
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteProduct(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteProduct(r.Context(), id); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleUploadMedia(w http.ResponseWriter, r *http.Request) {
	if s.storage == nil {
		http.Error(w, "media storage is not configured", http.StatusServiceUnavailable)
		return
	}
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMediaUploadBytes))
	if err != nil {
		http.Error(w, "read media error", http.StatusBadRequest)
		return
	}
	contentType := r.Header.Get("Content-Type")
	kind := mediaKindFromContentType(contentType)

	url, err := s.storage.Upload(r.Context(), data, contentType)
	if err != nil {
		s.internalError(w, err)
		return
	}
	if err := s.catalog.SetProductMedia(r.Context(), id, url, kind); err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"url":  url,
		"kind": kind,
	})
}

func (s *Server) handleListFees(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	fees, err := s.catalog.ListFees(r.Context(), id)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, fees)
}

type feeRequest struct {
	Name           string `json:"name"`
	Amount         string `json:"amount"`
	Description    string `json:"description"`
	PaymentMessage string `json:"payment_message"`
	ButtonText     string `json:"button_text"`
	IsActive       *bool  `json:"is_active"`
}

func (req feeRequest) toModel() (*models.Fee, error) {
	amount, err := decimal.NewFromString(req.Amount)
	if err != nil {
		return nil, fmt.Errorf("invalid amount %q", req.Amount)
	}
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &models.Fee{
		Name:           req.Name,
		Amount:         amount,
		Description:    req.Description,
		PaymentMessage: req.PaymentMessage,
		ButtonText:     req.ButtonText,
		IsActive:       active,
	}, nil
}

func (s *Server) handleCreateFee(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	fee, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	fee.ProductID = productID
	created, err := s.catalog.CreateFee(r.Context(), fee)
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateFee(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req feeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	fee, err := req.toModel()
	if err != nil {
		s.badRequest(w, err)
		return
	}
	fee.ID = id
	updated, err := s.catalog.UpdateFee(r.Context(), fee)
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteFee(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteFee(r.Context(), id); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reorderRequest struct {
	IDs []int64 `json:"ids"`
}

func (s *Server) handleReorderFees(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.catalog.ReorderFees(r.Context(), productID, req.IDs); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetFunnel(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	link, err := s.catalog.FunnelLink(r.Context(), productID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, link)
}

type upsellRequest struct {
	TargetProductID int64  `json:"target_product_id"`
	MessageOverride string `json:"message_override"`
}

func (s *Server) handleCreateUpsell(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req upsellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := s.catalog.CreateUpsell(r.Context(), &models.UpsellOffer{
		ProductID:       productID,
		TargetProductID: req.TargetProductID,
		MessageOverride: req.MessageOverride,
	})
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateUpsell(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req upsellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	updated, err := s.catalog.UpdateUpsell(r.Context(), &models.UpsellOffer{
		ID:              id,
		TargetProductID: req.TargetProductID,
		MessageOverride: req.MessageOverride,
	})
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteUpsell(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteUpsell(r.Context(), id); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderUpsells(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.catalog.ReorderUpsells(r.Context(), productID, req.IDs); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSetDownsell(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req upsellRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	set, err := s.catalog.SetDownsell(r.Context(), &models.DownsellOffer{
		ProductID:       productID,
		TargetProductID: req.TargetProductID,
		MessageOverride: req.MessageOverride,
	})
	if err != nil {
		s.catalogError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, set)
}

func (s *Server) handleDeleteDownsell(w http.ResponseWriter, r *http.Request) {
	productID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteDownsell(r.Context(), productID); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	mt := models.MessageType(chi.URLParam(r, "type"))
	templates, err := s.catalog.ListTemplates(r.Context(), mt)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, templates)
}

type templateRequest struct {
	Type      string          `json:"type"`
	Content   string          `json:"content"`
	MediaURL  string          `json:"media_url"`
	MediaKind string          `json:"media_kind"`
	Buttons   []models.Button `json:"buttons"`
	IsActive  *bool           `json:"is_active"`
}

func (req templateRequest) toModel() *models.MessageTemplate {
	active := true
	if req.IsActive != nil {
		active = *req.IsActive
	}
	return &models.MessageTemplate{
		Type:      models.MessageType(req.Type),
		Content:   req.Content,
		MediaURL:  req.MediaURL,
		MediaKind: models.MediaKind(req.MediaKind),
		Buttons:   req.Buttons,
		IsActive:  active,
	}
}

func (s *Server) handleCreateTemplate(w http.ResponseWriter, r *http.Request) {
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	created, err := s.catalog.CreateTemplate(r.Context(), req.toModel())
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleUpdateTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	var req templateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	tmpl := req.toModel()
	tmpl.ID = id
	updated, err := s.catalog.UpdateTemplate(r.Context(), tmpl)
	if err != nil {
		s.badRequest(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, updated)
}

func (s *Server) handleDeleteTemplate(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}
	if err := s.catalog.DeleteTemplate(r.Context(), id); err != nil {
		s.badRequest(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleReorderTemplates(w http.ResponseWriter, r *http.Request) {
	mt := models.MessageType(chi.URLParam(r, "type"))
	var req reorderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	if err := s.catalog.ReorderTemplates(r.Context(), mt, req.IDs); err != nil {
		s.catalogError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) basicAuthMiddleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, pass, ok := r.BasicAuth()
			if !ok || user != s.username || pass != s.password {
				w.Header().Set("WWW-Authenticate", `Basic realm="pixstore"`)
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (s *Server) badRequest(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), http.StatusBadRequest)
}

// catalogError maps the catalog service's sentinel errors to HTTP statuses.
func (s *Server) catalogError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, catalog.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, catalog.ErrInvalidName), errors.Is(err, catalog.ErrInvalidFee), errors.Is(err, catalog.ErrBadOrder):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		s.internalError(w, err)
	}
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("admin handler error", "err", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func parseID(value string) (int64, error) {
	return strconv.ParseInt(strings.TrimSpace(value), 10, 64)
}

func mediaKindFromContentType(contentType string) models.MediaKind {
	ct := strings.ToLower(contentType)
	if idx := strings.Index(ct, ";"); idx > 0 {
		ct = ct[:idx]
	}
	switch {
	case strings.HasPrefix(ct, "image/"):
		return models.MediaPhoto
	case strings.HasPrefix(ct, "video/"):
		return models.MediaVideo
	default:
		return models.MediaDocument
	}
}
