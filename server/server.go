// Package server exposes the merchant-facing HTTP API and orchestrates the
// signing, token, and transport components for each request.
package server

import (
	"bytes"
	"context"
	"crypto/rsa"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"momogw/momo/client"
	"momogw/momo/compose"
	"momogw/momo/signing"
	"momogw/observability"
	"momogw/storage"
)

const (
	maxRequestBody       = 1 << 20
	headerIdempotencyKey = "Idempotency-Key"
	gatewayCallTimeout   = 10 * time.Second
)

// GatewayClient is the subset of the gateway transport the server requires.
type GatewayClient interface {
	CreateOrder(ctx context.Context, envelope map[string]any, bearer string) (*client.OrderResponse, error)
	AuthToken(ctx context.Context, envelope map[string]any, bearer string) (*client.AuthTokenResponse, error)
}

// TokenSource serves the cached gateway bearer token.
type TokenSource interface {
	Token(ctx context.Context) (string, error)
	Invalidate()
}

// Server wires the connector components behind the merchant API.
type Server struct {
	store     *storage.Store
	gateway   GatewayClient
	tokens    TokenSource
	composer  *compose.Composer
	verifyKey *rsa.PublicKey
	auth      *Authenticator
	limiter   *RateLimiter
	logger    *slog.Logger
	nowFn     func() time.Time
}

// New constructs the server. All collaborators are required except the rate
// limiter, which may be nil to disable limiting.
func New(store *storage.Store, gateway GatewayClient, tokens TokenSource, composer *compose.Composer, verifyKey *rsa.PublicKey, auth *Authenticator, limiter *RateLimiter, logger *slog.Logger) *Server {
	if store == nil {
		panic("store required")
	}
	if gateway == nil {
		panic("gateway client required")
	}
	if tokens == nil {
		panic("token source required")
	}
	if composer == nil {
		panic("composer required")
	}
	if verifyKey == nil {
		panic("gateway public key required")
	}
	if auth == nil {
		panic("authenticator required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		store:     store,
		gateway:   gateway,
		tokens:    tokens,
		composer:  composer,
		verifyKey: verifyKey,
		auth:      auth,
		limiter:   limiter,
		logger:    logger,
		nowFn:     time.Now,
	}
}

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	if s.limiter != nil {
		r.Use(s.limiter.Middleware)
	}
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Method(http.MethodGet, "/metrics", promhttp.Handler())
	r.Route("/api", func(r chi.Router) {
		r.Post("/orders", s.authenticated(func(w http.ResponseWriter, req *http.Request, body []byte) {
			s.handleCreateOrder(w, req, body, false)
		}))
		r.Post("/mandates", s.authenticated(func(w http.ResponseWriter, req *http.Request, body []byte) {
			s.handleCreateOrder(w, req, body, true)
		}))
		r.Get("/orders/{id}", s.authenticated(s.handleGetOrder))
	})
	r.Post("/webhooks/payment", s.handleNotify)
	return r
}

// OrderCreateRequest is accepted by POST /api/orders and /api/mandates.
type OrderCreateRequest struct {
	MerchOrderID string `json:"merchOrderId"`
	Title        string `json:"title"`
	Amount       string `json:"amount"`
	Currency     string `json:"currency"`
	ContractNo   string `json:"contractNo"`
}

// OrderCreateResponse is returned on successful order creation.
type OrderCreateResponse struct {
	OrderID    string `json:"orderId"`
	PrepayID   string `json:"prepayId"`
	RawRequest string `json:"rawRequest"`
}

func (s *Server) authenticated(handler func(http.ResponseWriter, *http.Request, []byte)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := readBody(w, r)
		if err != nil {
			s.writeError(w, r, http.StatusBadRequest, err)
			return
		}
		if _, err := s.auth.Authenticate(r, body); err != nil {
			s.writeError(w, r, http.StatusUnauthorized, err)
			return
		}
		handler(w, r, body)
	}
}

func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request, body []byte, mandate bool) {
	key := strings.TrimSpace(r.Header.Get(headerIdempotencyKey))
	if key == "" {
		s.writeError(w, r, http.StatusBadRequest, errors.New("missing Idempotency-Key header"))
		return
	}
	requestHash := hashRequest(r.Method, r.URL.Path, body)
	if cached, err := s.store.LookupIdempotency(r.Context(), key, requestHash); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, storage.ErrIdempotencyConflict) {
			status = http.StatusConflict
		}
		s.writeError(w, r, status, err)
		return
	} else if cached != nil {
		s.writeJSONBytes(w, r, cached.Status, cached.Body)
		return
	}

	var req OrderCreateRequest
	if err := json.Unmarshal(body, &req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, fmt.Errorf("invalid JSON payload: %w", err))
		return
	}
	now := s.nowFn().UTC()
	orderID := uuid.NewString()
	ord := compose.OrderRequest{
		MerchOrderID: firstNonEmpty(req.MerchOrderID, orderID),
		Title:        req.Title,
		Amount:       req.Amount,
		Currency:     req.Currency,
		ContractNo:   req.ContractNo,
	}
	envelope, err := s.composer.PreOrderEnvelope(ord, mandate)
	if err != nil {
		var verr *compose.ValidationError
		if errors.As(err, &verr) {
			s.writeValidationError(w, r, verr)
			return
		}
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	existing, err := s.store.GetOrderByMerchID(r.Context(), ord.MerchOrderID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if existing != nil {
		if existing.Status != storage.StatusPending {
			s.writeError(w, r, http.StatusConflict,
				fmt.Errorf("order %s is already %s", ord.MerchOrderID, existing.Status))
			return
		}
		// A previous attempt wrote the row but failed at the gateway.
		// Reuse it so the merchant retry can complete.
		orderID = existing.ID
	} else {
		record := storage.OrderRecord{
			ID:           orderID,
			MerchOrderID: ord.MerchOrderID,
			Title:        ord.Title,
			Amount:       ord.Amount,
			Currency:     firstNonEmpty(ord.Currency, "ETB"),
			Status:       storage.StatusPending,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if mandate {
			record.ContractNo.String = ord.ContractNo
			record.ContractNo.Valid = true
		}
		if err := s.store.InsertOrder(r.Context(), record); err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), gatewayCallTimeout)
	defer cancel()
	bearer, err := s.tokens.Token(ctx)
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	order, err := s.gateway.CreateOrder(ctx, envelope, bearer)
	if err != nil {
		s.writeError(w, r, http.StatusBadGateway, err)
		return
	}
	raw, err := s.composer.RawRequest(order.PrepayID)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if err := s.store.UpdateOrderStatus(ctx, orderID, storage.StatusPending, &order.PrepayID); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}

	respBody, _ := json.Marshal(OrderCreateResponse{
		OrderID:    orderID,
		PrepayID:   order.PrepayID,
		RawRequest: raw,
	})
	if err := s.store.SaveIdempotency(ctx, key, requestHash, http.StatusOK, respBody); err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSONBytes(w, r, http.StatusOK, respBody)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request, _ []byte) {
	id := chi.URLParam(r, "id")
	order, err := s.store.GetOrder(r.Context(), id)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	if order == nil {
		s.writeError(w, r, http.StatusNotFound, errors.New("order not found"))
		return
	}
	payload := map[string]any{
		"orderId":      order.ID,
		"merchOrderId": order.MerchOrderID,
		"title":        order.Title,
		"amount":       order.Amount,
		"currency":     order.Currency,
		"status":       order.Status,
		"createdAt":    order.CreatedAt.UTC().Format(time.RFC3339),
		"updatedAt":    order.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if order.PrepayID.Valid {
		payload["prepayId"] = order.PrepayID.String
	}
	if order.ContractNo.Valid {
		payload["contractNo"] = order.ContractNo.String
	}
	s.writeJSON(w, r, http.StatusOK, payload)
}

// handleNotify receives payment notifications from the gateway. A failed
// signature check rejects the notification with 401; it is never treated as
// a server fault.
func (s *Server) handleNotify(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(w, r)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	fields, err := decodeNotifyFields(body)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	signature, _ := fields["sign"].(string)
	canonical, err := signing.Canonicalize(fields)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, err)
		return
	}
	verified := signing.Verify(canonical, signature, s.verifyKey)
	observability.Gateway().SignOps.WithLabelValues("verify", outcomeLabel(verified)).Inc()

	merchOrderID, _ := fields["merch_order_id"].(string)
	tradeStatus, _ := fields["trade_status"].(string)
	if err := s.store.InsertNotification(r.Context(), storage.NotificationRecord{
		ReceivedAt:   s.nowFn().UTC(),
		MerchOrderID: merchOrderID,
		TradeStatus:  tradeStatus,
		Verified:     verified,
		Payload:      body,
	}); err != nil {
		s.logger.Error("record notification failed", "merch_order_id", merchOrderID, "error", err.Error())
	}
	if !verified {
		s.writeError(w, r, http.StatusUnauthorized, errors.New("invalid notification signature"))
		return
	}
	// A 200 tells the gateway the notification is fully processed; if the
	// status transition cannot be persisted the response must be 5xx so the
	// gateway redelivers.
	if merchOrderID != "" {
		order, err := s.store.GetOrderByMerchID(r.Context(), merchOrderID)
		if err != nil {
			s.writeError(w, r, http.StatusInternalServerError, err)
			return
		}
		if order != nil {
			status := storage.StatusPending
			switch strings.ToLower(strings.TrimSpace(tradeStatus)) {
			case "completed", "success":
				status = storage.StatusCompleted
			case "failed", "failure", "cancelled":
				status = storage.StatusFailed
			}
			if status != storage.StatusPending {
				if err := s.store.UpdateOrderStatus(r.Context(), order.ID, status, nil); err != nil {
					s.writeError(w, r, http.StatusInternalServerError, err)
					return
				}
			}
		}
	}
	s.writeJSON(w, r, http.StatusOK, map[string]string{"status": "received"})
}

// decodeNotifyFields parses the notification body preserving numeric
// literals, so the canonical string renders numbers exactly as transmitted.
func decodeNotifyFields(body []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var fields map[string]any
	if err := dec.Decode(&fields); err != nil {
		return nil, fmt.Errorf("invalid notification payload: %w", err)
	}
	return fields, nil
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	reader := http.MaxBytesReader(w, r.Body, maxRequestBody)
	defer func() {
		_ = r.Body.Close()
	}()
	return io.ReadAll(reader)
}

func (s *Server) writeJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	body, err := json.Marshal(payload)
	if err != nil {
		s.writeError(w, r, http.StatusInternalServerError, err)
		return
	}
	s.writeJSONBytes(w, r, status, body)
}

func (s *Server) writeJSONBytes(w http.ResponseWriter, r *http.Request, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
	observability.Gateway().ObserveHTTP(routePattern(r), status)
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, err error) {
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "route", routePattern(r), "status", status, "error", err.Error())
	}
	body, _ := json.Marshal(map[string]string{"error": err.Error()})
	s.writeJSONBytes(w, r, status, body)
}

func (s *Server) writeValidationError(w http.ResponseWriter, r *http.Request, verr *compose.ValidationError) {
	body, _ := json.Marshal(map[string]any{
		"error":      "validation failed",
		"violations": verr.Violations,
	})
	s.writeJSONBytes(w, r, http.StatusBadRequest, body)
}

func routePattern(r *http.Request) string {
	if ctx := chi.RouteContext(r.Context()); ctx != nil {
		if pattern := ctx.RoutePattern(); pattern != "" {
			return pattern
		}
	}
	return r.URL.Path
}

func outcomeLabel(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}

func hashRequest(method, path string, body []byte) string {
	payload := strings.Join([]string{strings.ToUpper(method), path, string(body)}, "\n")
	sum := sha256.Sum256([]byte(payload))
	return fmt.Sprintf("%x", sum[:])
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
