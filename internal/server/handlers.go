package server

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"limitvault/internal/escrow"
)

type initializeRequest struct {
	OrderID string `json:"orderId"`
}

type delegateRequest struct {
	Owner   string `json:"owner"`
	OrderID string `json:"orderId"`
}

type depositNativeRequest struct {
	Amount string `json:"amount"`
}

type depositAssetRequest struct {
	Mint   string `json:"mint"`
	Amount string `json:"amount"`
}

type limitOrderRequest struct {
	OrderType  string `json:"orderType"`
	Asset      string `json:"asset"`
	LimitPrice string `json:"limitPrice"`
}

// The signer of an initialize request becomes the escrow owner.
func (s *Server) initialize(ctx context.Context, c call) (int, any, error) {
	var req initializeRequest
	if err := c.decode(&req); err != nil {
		return 0, nil, err
	}
	orderID, err := parseAmount("orderId", req.OrderID)
	if err != nil {
		return 0, nil, err
	}
	rec, err := c.entry.Initialize(ctx, c.caller, orderID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusCreated, newEscrowView(rec), nil
}

func (s *Server) delegate(ctx context.Context, c call) (int, any, error) {
	var req delegateRequest
	if err := c.decode(&req); err != nil {
		return 0, nil, err
	}
	owner, err := parseHash("owner", req.Owner)
	if err != nil {
		return 0, nil, err
	}
	orderID, err := parseAmount("orderId", req.OrderID)
	if err != nil {
		return 0, nil, err
	}
	rec, err := c.entry.Delegate(ctx, c.caller, owner, orderID)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newEscrowView(rec), nil
}

func (s *Server) depositNative(ctx context.Context, c call) (int, any, error) {
	addr, err := parseHash("address", chi.URLParam(c.req, "address"))
	if err != nil {
		return 0, nil, err
	}
	var req depositNativeRequest
	if err := c.decode(&req); err != nil {
		return 0, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return 0, nil, err
	}
	rec, err := c.entry.DepositNative(ctx, c.caller, addr, amount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newEscrowView(rec), nil
}

func (s *Server) depositAsset(ctx context.Context, c call) (int, any, error) {
	addr, err := parseHash("address", chi.URLParam(c.req, "address"))
	if err != nil {
		return 0, nil, err
	}
	var req depositAssetRequest
	if err := c.decode(&req); err != nil {
		return 0, nil, err
	}
	mint, err := parseHash("mint", req.Mint)
	if err != nil {
		return 0, nil, err
	}
	amount, err := parseAmount("amount", req.Amount)
	if err != nil {
		return 0, nil, err
	}
	receipt, err := c.entry.DepositAsset(ctx, c.caller, addr, mint, amount)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, assetDepositView{
		Escrow:  newEscrowView(receipt.Escrow),
		Mint:    receipt.Mint.Hex(),
		Holding: receipt.Holding.Hex(),
		Units:   strconv.FormatUint(receipt.Units, 10),
	}, nil
}

func (s *Server) createOrder(ctx context.Context, c call) (int, any, error) {
	addr, err := parseHash("address", chi.URLParam(c.req, "address"))
	if err != nil {
		return 0, nil, err
	}
	var req limitOrderRequest
	if err := c.decode(&req); err != nil {
		return 0, nil, err
	}
	orderType, err := escrow.ParseOrderType(req.OrderType)
	if err != nil {
		return 0, nil, err
	}
	asset, err := parseHash("asset", req.Asset)
	if err != nil {
		return 0, nil, err
	}
	price, err := parseAmount("limitPrice", req.LimitPrice)
	if err != nil {
		return 0, nil, err
	}
	rec, err := c.entry.CreateLimitOrder(ctx, c.caller, addr, escrow.OrderRequest{
		OrderType:  orderType,
		Asset:      asset,
		LimitPrice: price,
	})
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newEscrowView(rec), nil
}

func (s *Server) cancelOrder(ctx context.Context, c call) (int, any, error) {
	addr, err := parseHash("address", chi.URLParam(c.req, "address"))
	if err != nil {
		return 0, nil, err
	}
	rec, err := c.entry.CancelLimitOrder(ctx, c.caller, addr)
	if err != nil {
		return 0, nil, err
	}
	return http.StatusOK, newEscrowView(rec), nil
}

// The signer of an execute request acts as the crank.
func (s *Server) executeOrder(ctx context.Context, c call) (int, any, error) {
	addr, err := parseHash("address", chi.URLParam(c.req, "address"))
	if err != nil {
		return 0, nil, err
	}
	evt, err := c.entry.ExecuteLimitOrder(ctx, c.caller, addr)
	if err != nil {
		return 0, nil, err
	}
	s.metrics.incExecution(c.entry.Domain().String())
	return http.StatusOK, newEventView(evt), nil
}

func (s *Server) handleUndelegate(w http.ResponseWriter, r *http.Request) {
	addr, err := parseHash("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.engine.Undelegate(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.logger.Info("operator undelegated escrow", "address", addr.Hex(), "request_id", r.Header.Get(headerRequestID))
	writeJSON(w, http.StatusOK, newEscrowView(rec))
}

func (s *Server) handleDerive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	owner, err := parseHash("owner", q.Get("owner"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	orderID, err := parseAmount("orderId", q.Get("orderId"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, deriveView{
		Address: s.engine.Program().DeriveAddress(owner, orderID).Hex(),
		Owner:   owner.Hex(),
		OrderID: strconv.FormatUint(orderID, 10),
	})
}

func (s *Server) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, err := parseHash("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	rec, err := s.engine.Get(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(rec))
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	addr, err := parseHash("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	events, err := s.engine.Events(r.Context(), addr)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]eventView, 0, len(events))
	for _, evt := range events {
		out = append(out, newEventView(evt))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleHolding(w http.ResponseWriter, r *http.Request) {
	addr, err := parseHash("address", chi.URLParam(r, "address"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	mint, err := parseHash("mint", chi.URLParam(r, "mint"))
	if err != nil {
		s.writeError(w, err)
		return
	}
	holding, units, err := s.engine.AssetHolding(r.Context(), addr, mint)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, holdingView{
		Address: addr.Hex(),
		Mint:    mint.Hex(),
		Holding: holding.Hex(),
		Units:   strconv.FormatUint(units, 10),
	})
}

func (s *Server) handleActiveOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			s.writeError(w, invalidArgument("limit: %q", raw))
			return
		}
		limit = n
	}
	recs, err := s.engine.ActiveOrders(r.Context(), limit)
	if err != nil {
		s.writeError(w, err)
		return
	}
	out := make([]escrowView, 0, len(recs))
	for _, rec := range recs {
		out = append(out, newEscrowView(rec))
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	kind := escrow.Kind(err)
	status := statusFor(kind)
	message := err.Error()
	if status >= http.StatusInternalServerError {
		s.logger.Error("request failed", "kind", kind, "error", err)
	}
	if kind == "Internal" {
		message = "internal error"
	}
	writeJSON(w, status, errorResponse{Error: kind, Message: message})
}
