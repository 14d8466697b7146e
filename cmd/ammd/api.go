// Copyright (C) 2025, Lux Industries Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package main

import (
	"encoding/hex"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/luxfi/amm/pkg/engine"
	"github.com/luxfi/amm/pkg/ids"
	"github.com/luxfi/amm/pkg/oracle"
)

func (s *Server) setupRoutes() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.HandleFunc("/info", s.handleInfo).Methods("GET")

	r.HandleFunc("/pools", s.handleListPools).Methods("GET")
	r.HandleFunc("/pools", s.handleCreatePool).Methods("POST")
	r.HandleFunc("/pools/{id}", s.handleGetPool).Methods("GET")
	r.HandleFunc("/pools/{id}/twap", s.handleConsult).Methods("GET")

	r.HandleFunc("/quote", s.handleQuote).Methods("GET")
	r.HandleFunc("/swap", s.handleSwap).Methods("POST")
	r.HandleFunc("/liquidity/add", s.handleAddLiquidity).Methods("POST")
	r.HandleFunc("/liquidity/remove", s.handleRemoveLiquidity).Methods("POST")
	r.HandleFunc("/bridge/execute", s.handleBridgeExecute).Methods("POST")

	r.Handle("/metrics", promhttp.HandlerFor(s.metrics.GetGatherer(), promhttp.HandlerOpts{}))
	r.HandleFunc("/events/ws", s.handleEventsWS)

	if *devFaucet {
		r.HandleFunc("/faucet", s.handleFaucet).Methods("POST")
	}

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "healthy",
		"paused": s.gov.IsPaused(),
	})
}

func (s *Server) handleInfo(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"version":       Version,
		"commit":        GitCommit,
		"pools":         len(s.ledger.Pools()),
		"fee_bps":       s.gov.FeeRateBps(),
		"flash_fee_bps": s.gov.FlashFeeRateBps(),
		"paused":        s.gov.IsPaused(),
	})
}

type poolResponse struct {
	ID          string `json:"id"`
	Asset0      string `json:"asset0"`
	Asset1      string `json:"asset1"`
	Reserve0    string `json:"reserve0"`
	Reserve1    string `json:"reserve1"`
	TotalShares string `json:"total_shares"`
}

func (s *Server) handleListPools(w http.ResponseWriter, r *http.Request) {
	pools := s.ledger.Pools()
	out := make([]poolResponse, 0, len(pools))
	for _, p := range pools {
		out = append(out, poolResponse{
			ID:          p.ID.String(),
			Asset0:      p.Asset0.String(),
			Asset1:      p.Asset1.String(),
			Reserve0:    p.Reserve0.Dec(),
			Reserve1:    p.Reserve1.Dec(),
			TotalShares: p.TotalShares.Dec(),
		})
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	poolID, err := ids.FromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	pool, err := s.ledger.GetPool(poolID)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, poolResponse{
		ID:          pool.ID.String(),
		Asset0:      pool.Asset0.String(),
		Asset1:      pool.Asset1.String(),
		Reserve0:    pool.Reserve0.Dec(),
		Reserve1:    pool.Reserve1.Dec(),
		TotalShares: pool.TotalShares.Dec(),
	})
}

func (s *Server) handleConsult(w http.ResponseWriter, r *http.Request) {
	poolID, err := ids.FromString(mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	window := 10 * time.Minute
	if raw := r.URL.Query().Get("window"); raw != "" {
		if window, err = time.ParseDuration(raw); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}

	twap, err := s.oracle.Consult(poolID, window)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"price0":  oracle.PriceToDecimal(twap.Price0),
		"price1":  oracle.PriceToDecimal(twap.Price1),
		"elapsed": twap.Elapsed.String(),
	})
}

type createPoolRequest struct {
	Actor  string `json:"actor"`
	AssetA string `json:"asset_a"`
	AssetB string `json:"asset_b"`
}

func (s *Server) handleCreatePool(w http.ResponseWriter, r *http.Request) {
	var req createPoolRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	actor, err := ids.FromString(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetA, err := ids.FromString(req.AssetA)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetB, err := ids.FromString(req.AssetB)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	pool, err := s.engine.CreatePool(actor, assetA, assetB)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"pool_id": pool.ID.String()})
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	assetIn, err := ids.FromString(q.Get("asset_in"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetOut, err := ids.FromString(q.Get("asset_out"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountIn, err := uint256.FromDecimal(q.Get("amount_in"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	out, err := s.engine.Quote(assetIn, assetOut, amountIn)
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount_out": out.Dec()})
}

type swapRequest struct {
	Actor        string `json:"actor"`
	AssetIn      string `json:"asset_in"`
	AssetOut     string `json:"asset_out"`
	AmountIn     string `json:"amount_in"`
	AmountOutMin string `json:"amount_out_min"`
	Recipient    string `json:"recipient"`
	Deadline     int64  `json:"deadline"` // unix seconds, zero means none
}

func (s *Server) handleSwap(w http.ResponseWriter, r *http.Request) {
	var req swapRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	actor, err := ids.FromString(req.Actor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetIn, err := ids.FromString(req.AssetIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetOut, err := ids.FromString(req.AssetOut)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	recipient, err := ids.FromString(req.Recipient)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountIn, err := uint256.FromDecimal(req.AmountIn)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountOutMin := uint256.NewInt(0)
	if req.AmountOutMin != "" {
		if amountOutMin, err = uint256.FromDecimal(req.AmountOutMin); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	var deadline time.Time
	if req.Deadline != 0 {
		deadline = time.Unix(req.Deadline, 0)
	}

	out, err := s.engine.Swap(engine.SwapRequest{
		Actor:        actor,
		AssetIn:      assetIn,
		AssetOut:     assetOut,
		AmountIn:     amountIn,
		AmountOutMin: amountOutMin,
		Recipient:    recipient,
		Deadline:     deadline,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"amount_out": out.Dec()})
}

type addLiquidityRequest struct {
	Actor          string `json:"actor"`
	AssetA         string `json:"asset_a"`
	AssetB         string `json:"asset_b"`
	AmountADesired string `json:"amount_a_desired"`
	AmountBDesired string `json:"amount_b_desired"`
	AmountAMin     string `json:"amount_a_min"`
	AmountBMin     string `json:"amount_b_min"`
	Recipient      string `json:"recipient"`
	Deadline       int64  `json:"deadline"`
}

func (s *Server) handleAddLiquidity(w http.ResponseWriter, r *http.Request) {
	var req addLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	parsed, err := parseLiquidityCommon(req.Actor, req.AssetA, req.AssetB, req.Recipient, req.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountADesired, err := uint256.FromDecimal(req.AmountADesired)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountBDesired, err := uint256.FromDecimal(req.AmountBDesired)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountAMin, amountBMin, err := parseOptionalAmounts(req.AmountAMin, req.AmountBMin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	amountA, amountB, shares, err := s.engine.AddLiquidity(engine.AddLiquidityRequest{
		Actor:          parsed.actor,
		AssetA:         parsed.assetA,
		AssetB:         parsed.assetB,
		AmountADesired: amountADesired,
		AmountBDesired: amountBDesired,
		AmountAMin:     amountAMin,
		AmountBMin:     amountBMin,
		Recipient:      parsed.recipient,
		Deadline:       parsed.deadline,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": amountA.Dec(),
		"amount_b": amountB.Dec(),
		"shares":   shares.Dec(),
	})
}

type removeLiquidityRequest struct {
	Actor      string `json:"actor"`
	AssetA     string `json:"asset_a"`
	AssetB     string `json:"asset_b"`
	Shares     string `json:"shares"`
	AmountAMin string `json:"amount_a_min"`
	AmountBMin string `json:"amount_b_min"`
	Recipient  string `json:"recipient"`
	Deadline   int64  `json:"deadline"`
}

func (s *Server) handleRemoveLiquidity(w http.ResponseWriter, r *http.Request) {
	var req removeLiquidityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	parsed, err := parseLiquidityCommon(req.Actor, req.AssetA, req.AssetB, req.Recipient, req.Deadline)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	shares, err := uint256.FromDecimal(req.Shares)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amountAMin, amountBMin, err := parseOptionalAmounts(req.AmountAMin, req.AmountBMin)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	amountA, amountB, err := s.engine.RemoveLiquidity(engine.RemoveLiquidityRequest{
		Actor:      parsed.actor,
		AssetA:     parsed.assetA,
		AssetB:     parsed.assetB,
		Shares:     shares,
		AmountAMin: amountAMin,
		AmountBMin: amountBMin,
		Recipient:  parsed.recipient,
		Deadline:   parsed.deadline,
	})
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{
		"amount_a": amountA.Dec(),
		"amount_b": amountB.Dec(),
	})
}

type liquidityCommon struct {
	actor     ids.ID
	assetA    ids.ID
	assetB    ids.ID
	recipient ids.ID
	deadline  time.Time
}

func parseLiquidityCommon(actor, assetA, assetB, recipient string, deadline int64) (*liquidityCommon, error) {
	var (
		out liquidityCommon
		err error
	)
	if out.actor, err = ids.FromString(actor); err != nil {
		return nil, err
	}
	if out.assetA, err = ids.FromString(assetA); err != nil {
		return nil, err
	}
	if out.assetB, err = ids.FromString(assetB); err != nil {
		return nil, err
	}
	if out.recipient, err = ids.FromString(recipient); err != nil {
		return nil, err
	}
	if deadline != 0 {
		out.deadline = time.Unix(deadline, 0)
	}
	return &out, nil
}

func parseOptionalAmounts(a, b string) (*uint256.Int, *uint256.Int, error) {
	var (
		amountA, amountB *uint256.Int
		err              error
	)
	if a != "" {
		if amountA, err = uint256.FromDecimal(a); err != nil {
			return nil, nil, err
		}
	}
	if b != "" {
		if amountB, err = uint256.FromDecimal(b); err != nil {
			return nil, nil, err
		}
	}
	return amountA, amountB, nil
}

type bridgeExecuteRequest struct {
	Relay     string `json:"relay"`
	MessageID string `json:"message_id"` // source-chain unique id
	Payload   string `json:"payload"`    // hex-encoded wire message
}

func (s *Server) handleBridgeExecute(w http.ResponseWriter, r *http.Request) {
	var req bridgeExecuteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	relayActor, err := ids.FromString(req.Relay)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	messageID, err := ids.FromString(req.MessageID)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	payload, err := hex.DecodeString(req.Payload)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.relay.ExecuteCrossChainSwap(relayActor, messageID, payload); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"message_id": messageID.String(),
			"error":      err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message_id": messageID.String()})
}

type faucetRequest struct {
	Asset   string `json:"asset"`
	Account string `json:"account"`
	Amount  string `json:"amount"`
}

// handleFaucet mints test funds; only mounted with --dev-faucet
func (s *Server) handleFaucet(w http.ResponseWriter, r *http.Request) {
	var req faucetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	assetID, err := ids.FromString(req.Asset)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	account, err := ids.FromString(req.Account)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	amount, err := uint256.FromDecimal(req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	s.bank.Mint(assetID, account, amount)
	writeJSON(w, http.StatusOK, map[string]string{
		"balance": s.bank.BalanceOf(assetID, account).Dec(),
	})
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// handleEventsWS streams engine events to a websocket client as JSON
func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Error("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	sub := s.bus.Subscribe()
	defer s.bus.Unsubscribe(sub)
	for {
		select {
		case ev := <-sub:
			frame := map[string]any{
				"type":  ev.EventType(),
				"event": ev,
			}
			if err := conn.WriteJSON(frame); err != nil {
				s.log.Debug("websocket client gone", "error", err)
				return
			}
		case <-r.Context().Done():
			return
		}
	}
}
