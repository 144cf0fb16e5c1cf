package main

import (
	"context"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/holiman/uint256"
	"github.com/shopspring/decimal"

	"futarchy-lobbyist/internal/domain"
	"futarchy-lobbyist/internal/layout"
	"futarchy-lobbyist/internal/ledger"
	"futarchy-lobbyist/internal/solana"
	"futarchy-lobbyist/internal/storage"
	"futarchy-lobbyist/internal/token"
)

// errBadRequest marks request bodies that could not be decoded.
var errBadRequest = errors.New("bad request")

// API serves the ledger over JSON HTTP.
type API struct {
	ledger        *ledger.Service
	accounts      storage.AccountStore
	venues        storage.VenueStore
	events        storage.EventStore
	priceDecimals int32
	devMint       bool // enables /v1/dev/mint-to
	logger        *log.Logger
}

// Routes registers the API handlers on mux.
func (a *API) Routes(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/lobbyists", a.handleInitializeLobbyist)
	mux.HandleFunc("GET /v1/lobbyists/{addr}", a.handleGetLobbyist)
	mux.HandleFunc("POST /v1/escrows", a.handleInitializeEscrow)
	mux.HandleFunc("GET /v1/escrows/{addr}", a.handleGetEscrow)
	mux.HandleFunc("GET /v1/escrows/{addr}/events", a.handleEscrowEvents)
	mux.HandleFunc("POST /v1/escrows/{addr}/configure", a.handleConfigure)
	mux.HandleFunc("POST /v1/escrows/{addr}/deposit", a.handleCustody(a.ledger.Deposit))
	mux.HandleFunc("POST /v1/escrows/{addr}/withdraw", a.handleCustody(a.ledger.Withdraw))
	mux.HandleFunc("POST /v1/escrows/{addr}/split", a.handleConditional(a.ledger.Split))
	mux.HandleFunc("POST /v1/escrows/{addr}/merge", a.handleConditional(a.ledger.Merge))
	mux.HandleFunc("POST /v1/escrows/{addr}/trade", a.handleTrade)

	mux.HandleFunc("PUT /v1/venues/daos", a.handlePutDao)
	mux.HandleFunc("PUT /v1/venues/proposals", a.handlePutProposal)
	mux.HandleFunc("PUT /v1/venues/pools", a.handlePutPool)
	mux.HandleFunc("PUT /v1/mints", a.handlePutMint)
	if a.devMint {
		mux.HandleFunc("POST /v1/dev/mint-to", a.handleDevMintTo)
	}
}

// ── Request and response bodies ──

type lobbyistRequest struct {
	Dao           solana.Pubkey `json:"dao"`
	Proposal      solana.Pubkey `json:"proposal"`
	PassMarket    solana.Pubkey `json:"pass_market"`
	FailMarket    solana.Pubkey `json:"fail_market"`
	BaseMint      solana.Pubkey `json:"base_mint"`
	QuoteMint     solana.Pubkey `json:"quote_mint"`
	PassBaseMint  solana.Pubkey `json:"pass_base_mint"`
	PassQuoteMint solana.Pubkey `json:"pass_quote_mint"`
	FailBaseMint  solana.Pubkey `json:"fail_base_mint"`
	FailQuoteMint solana.Pubkey `json:"fail_quote_mint"`
}

type lobbyistView struct {
	Address       solana.Pubkey `json:"address"`
	Variant       string        `json:"variant"`
	Bump          uint8         `json:"bump"`
	Dao           solana.Pubkey `json:"dao"`
	Proposal      solana.Pubkey `json:"proposal"`
	SpotMarket    solana.Pubkey `json:"spot_market"`
	PassMarket    solana.Pubkey `json:"pass_market"`
	FailMarket    solana.Pubkey `json:"fail_market"`
	BaseMint      solana.Pubkey `json:"base_mint"`
	QuoteMint     solana.Pubkey `json:"quote_mint"`
	PassBaseMint  solana.Pubkey `json:"pass_base_mint"`
	PassQuoteMint solana.Pubkey `json:"pass_quote_mint"`
	FailBaseMint  solana.Pubkey `json:"fail_base_mint"`
	FailQuoteMint solana.Pubkey `json:"fail_quote_mint"`
}

func newLobbyistView(addr solana.Pubkey, l *domain.Lobbyist) lobbyistView {
	return lobbyistView{
		Address: addr, Variant: l.Variant.String(), Bump: l.Bump,
		Dao: l.Dao, Proposal: l.Proposal,
		SpotMarket: l.SpotMarket, PassMarket: l.PassMarket, FailMarket: l.FailMarket,
		BaseMint: l.BaseMint, QuoteMint: l.QuoteMint,
		PassBaseMint: l.PassBaseMint, PassQuoteMint: l.PassQuoteMint,
		FailBaseMint: l.FailBaseMint, FailQuoteMint: l.FailQuoteMint,
	}
}

type escrowRequest struct {
	Depositor   solana.Pubkey `json:"depositor"`
	Lobbyist    solana.Pubkey `json:"lobbyist"`
	Proposal    solana.Pubkey `json:"proposal"`
	PriceFeedID string        `json:"price_feed_id"` // hex, pyth deployments only
}

type escrowView struct {
	Address             solana.Pubkey `json:"address"`
	Variant             string        `json:"variant"`
	Bump                uint8         `json:"bump"`
	Lobbyist            solana.Pubkey `json:"lobbyist"`
	Proposal            solana.Pubkey `json:"proposal"`
	Depositor           solana.Pubkey `json:"depositor"`
	BaseAmount          uint64        `json:"base_amount"`
	QuoteAmount         uint64        `json:"quote_amount"`
	PassBaseAmount      uint64        `json:"pass_base_amount"`
	PassQuoteAmount     uint64        `json:"pass_quote_amount"`
	FailBaseAmount      uint64        `json:"fail_base_amount"`
	FailQuoteAmount     uint64        `json:"fail_quote_amount"`
	Active              bool          `json:"active"`
	Bullish             bool          `json:"bullish"`
	BullishThresholdBps uint16        `json:"bullish_threshold_bps"`
	BearishThresholdBps uint16        `json:"bearish_threshold_bps"`
	PriceFeedID         string        `json:"price_feed_id,omitempty"`
}

func newEscrowView(addr solana.Pubkey, e *domain.Escrow) escrowView {
	v := escrowView{
		Address: addr, Variant: e.Variant.String(), Bump: e.Bump,
		Lobbyist: e.Lobbyist, Proposal: e.Proposal, Depositor: e.Depositor,
		BaseAmount: e.BaseAmount, QuoteAmount: e.QuoteAmount,
		PassBaseAmount: e.PassBaseAmount, PassQuoteAmount: e.PassQuoteAmount,
		FailBaseAmount: e.FailBaseAmount, FailQuoteAmount: e.FailQuoteAmount,
		Active: e.Active, Bullish: e.Bullish,
		BullishThresholdBps: e.BullishThresholdBps, BearishThresholdBps: e.BearishThresholdBps,
	}
	if e.PriceFeedID != (domain.FeedID{}) {
		v.PriceFeedID = hex.EncodeToString(e.PriceFeedID[:])
	}
	return v
}

type configureRequest struct {
	Depositor           solana.Pubkey `json:"depositor"`
	Active              bool          `json:"active"`
	Bullish             bool          `json:"bullish"`
	BullishThresholdBps uint16        `json:"bullish_threshold_bps"`
	BearishThresholdBps uint16        `json:"bearish_threshold_bps"`
}

type custodyRequest struct {
	Depositor   solana.Pubkey `json:"depositor"`
	Lobbyist    solana.Pubkey `json:"lobbyist"`
	BaseMint    solana.Pubkey `json:"base_mint"`
	QuoteMint   solana.Pubkey `json:"quote_mint"`
	BaseAmount  uint64        `json:"base_amount"`
	QuoteAmount uint64        `json:"quote_amount"`
}

type conditionalRequest struct {
	Depositor solana.Pubkey `json:"depositor"`
	Side      ledger.Side   `json:"side"`
	Amount    uint64        `json:"amount"`
}

type tradeRequest struct {
	Depositor   solana.Pubkey `json:"depositor"`
	Lobbyist    solana.Pubkey `json:"lobbyist"`
	Dao         solana.Pubkey `json:"dao"`
	Proposal    solana.Pubkey `json:"proposal"`
	BaseMint    solana.Pubkey `json:"base_mint"`
	QuoteMint   solana.Pubkey `json:"quote_mint"`
	Amount      uint64        `json:"amount"`
	Attestation string        `json:"attestation"` // base64 PriceUpdateV2 account data
}

type tradeView struct {
	Action    string     `json:"action"`
	Market    string     `json:"market"`
	Current   string     `json:"current"`
	Reference string     `json:"reference"`
	Limit     string     `json:"limit"`
	Filled    bool       `json:"filled"`
	Input     uint64     `json:"input_amount,omitempty"`
	Output    uint64     `json:"output_amount,omitempty"`
	Escrow    escrowView `json:"escrow"`
}

type eventView struct {
	EventID     string        `json:"event_id"`
	Kind        string        `json:"kind"`
	Market      string        `json:"market,omitempty"`
	BaseAmount  uint64        `json:"base_amount"`
	QuoteAmount uint64        `json:"quote_amount"`
	BaseAfter   uint64        `json:"base_after"`
	QuoteAfter  uint64        `json:"quote_after"`
	Depositor   solana.Pubkey `json:"depositor"`
	Timestamp   int64         `json:"timestamp"`
}

type twapOracleJSON struct {
	Aggregator           string `json:"aggregator"`
	LastUpdatedTimestamp int64  `json:"last_updated_timestamp"`
	CreatedAtTimestamp   int64  `json:"created_at_timestamp"`
	LastPrice            string `json:"last_price"`
	LastObservation      string `json:"last_observation"`
	StartDelaySeconds    uint32 `json:"start_delay_seconds"`
}

type poolRequest struct {
	Address   solana.Pubkey  `json:"address"`
	BaseMint  solana.Pubkey  `json:"base_mint"`
	QuoteMint solana.Pubkey  `json:"quote_mint"`
	Oracle    twapOracleJSON `json:"oracle"`
}

type daoRequest struct {
	Address   solana.Pubkey `json:"address"`
	BaseMint  solana.Pubkey `json:"base_mint"`
	QuoteMint solana.Pubkey `json:"quote_mint"`
	SpotPool  solana.Pubkey `json:"spot_pool"`
}

type proposalRequest struct {
	Address  solana.Pubkey        `json:"address"`
	Dao      solana.Pubkey        `json:"dao"`
	State    domain.ProposalState `json:"state"`
	PassPool solana.Pubkey        `json:"pass_pool"`
	FailPool solana.Pubkey        `json:"fail_pool"`
}

type mintRequest struct {
	Address  solana.Pubkey `json:"address"`
	Decimals uint8         `json:"decimals"`
}

type mintToRequest struct {
	Owner  solana.Pubkey `json:"owner"`
	Mint   solana.Pubkey `json:"mint"`
	Amount uint64        `json:"amount"`
}

// ── Ledger handlers ──

func (a *API) handleInitializeLobbyist(w http.ResponseWriter, r *http.Request) {
	var req lobbyistRequest
	if !a.decode(w, r, &req) {
		return
	}
	addr, l, err := a.ledger.InitializeLobbyist(r.Context(), ledger.InitializeLobbyistRequest{
		Dao: req.Dao, Proposal: req.Proposal,
		PassMarket: req.PassMarket, FailMarket: req.FailMarket,
		BaseMint: req.BaseMint, QuoteMint: req.QuoteMint,
		PassBaseMint: req.PassBaseMint, PassQuoteMint: req.PassQuoteMint,
		FailBaseMint: req.FailBaseMint, FailQuoteMint: req.FailQuoteMint,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newLobbyistView(addr, l))
}

func (a *API) handleGetLobbyist(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.pathAddr(w, r)
	if !ok {
		return
	}
	l, err := a.ledger.Lobbyist(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newLobbyistView(addr, l))
}

func (a *API) handleInitializeEscrow(w http.ResponseWriter, r *http.Request) {
	var req escrowRequest
	if !a.decode(w, r, &req) {
		return
	}
	feed, err := parseFeedID(req.PriceFeedID)
	if err != nil {
		a.writeError(w, err)
		return
	}
	addr, e, err := a.ledger.InitializeEscrow(r.Context(), ledger.InitializeEscrowRequest{
		Depositor: req.Depositor, Lobbyist: req.Lobbyist, Proposal: req.Proposal, PriceFeedID: feed,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, newEscrowView(addr, e))
}

func (a *API) handleGetEscrow(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.pathAddr(w, r)
	if !ok {
		return
	}
	e, err := a.ledger.Escrow(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(addr, e))
}

func (a *API) handleEscrowEvents(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.pathAddr(w, r)
	if !ok {
		return
	}
	if a.events == nil {
		writeJSON(w, http.StatusOK, []eventView{})
		return
	}
	events, err := a.events.GetByEscrow(r.Context(), addr)
	if err != nil {
		a.writeError(w, err)
		return
	}
	out := make([]eventView, len(events))
	for i, ev := range events {
		out[i] = eventView{
			EventID: ev.EventID, Kind: string(ev.Kind), Market: string(ev.Market),
			BaseAmount: ev.BaseAmount, QuoteAmount: ev.QuoteAmount,
			BaseAfter: ev.BaseAfter, QuoteAfter: ev.QuoteAfter,
			Depositor: ev.Depositor, Timestamp: ev.Timestamp,
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleConfigure(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.pathAddr(w, r)
	if !ok {
		return
	}
	var req configureRequest
	if !a.decode(w, r, &req) {
		return
	}
	e, err := a.ledger.Configure(r.Context(), ledger.ConfigureRequest{
		Depositor: req.Depositor, Escrow: addr, Active: req.Active, Bullish: req.Bullish,
		BullishThresholdBps: req.BullishThresholdBps, BearishThresholdBps: req.BearishThresholdBps,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, newEscrowView(addr, e))
}

func (a *API) handleCustody(op func(context.Context, ledger.CustodyRequest) (*domain.Escrow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := a.pathAddr(w, r)
		if !ok {
			return
		}
		var req custodyRequest
		if !a.decode(w, r, &req) {
			return
		}
		e, err := op(r.Context(), ledger.CustodyRequest{
			Depositor: req.Depositor, Escrow: addr, Lobbyist: req.Lobbyist,
			BaseMint: req.BaseMint, QuoteMint: req.QuoteMint,
			BaseAmount: req.BaseAmount, QuoteAmount: req.QuoteAmount,
		})
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEscrowView(addr, e))
	}
}

func (a *API) handleConditional(op func(context.Context, ledger.ConditionalRequest) (*domain.Escrow, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		addr, ok := a.pathAddr(w, r)
		if !ok {
			return
		}
		var req conditionalRequest
		if !a.decode(w, r, &req) {
			return
		}
		e, err := op(r.Context(), ledger.ConditionalRequest{
			Depositor: req.Depositor, Escrow: addr, Side: req.Side, Amount: req.Amount,
		})
		if err != nil {
			a.writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, newEscrowView(addr, e))
	}
}

func (a *API) handleTrade(w http.ResponseWriter, r *http.Request) {
	addr, ok := a.pathAddr(w, r)
	if !ok {
		return
	}
	var req tradeRequest
	if !a.decode(w, r, &req) {
		return
	}

	var attestation *domain.PriceUpdate
	if req.Attestation != "" {
		data, err := base64.StdEncoding.DecodeString(req.Attestation)
		if err != nil {
			a.writeError(w, fmt.Errorf("attestation: %w: %v", errBadRequest, err))
			return
		}
		u, err := layout.DecodePriceUpdate(data)
		if err != nil {
			a.writeError(w, errors.Join(domain.ErrGetPythPrice, err))
			return
		}
		attestation = u
	}

	res, err := a.ledger.Trade(r.Context(), ledger.TradeRequest{
		Depositor: req.Depositor, Escrow: addr, Lobbyist: req.Lobbyist, Dao: req.Dao,
		Proposal: req.Proposal, BaseMint: req.BaseMint, QuoteMint: req.QuoteMint,
		Amount: req.Amount, Attestation: attestation,
	})
	if err != nil {
		a.writeError(w, err)
		return
	}

	d := res.Decision
	view := tradeView{
		Action:    string(d.Action),
		Market:    string(d.Market),
		Current:   a.formatPrice(d.Current),
		Reference: a.formatPrice(d.Reference),
		Limit:     a.formatPrice(d.Limit),
		Escrow:    newEscrowView(addr, res.Escrow),
	}
	if res.Fill != nil {
		view.Filled = true
		view.Input = res.Fill.InputAmount
		view.Output = res.Fill.OutputAmount
	}
	writeJSON(w, http.StatusOK, view)
}

// ── Venue and mint records supplied by collaborators ──

func (a *API) handlePutDao(w http.ResponseWriter, r *http.Request) {
	var req daoRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.venues.PutDao(r.Context(), &domain.Dao{
		Address: req.Address, BaseMint: req.BaseMint, QuoteMint: req.QuoteMint, SpotPool: req.SpotPool,
	})
	a.writeStored(w, err)
}

func (a *API) handlePutProposal(w http.ResponseWriter, r *http.Request) {
	var req proposalRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.venues.PutProposal(r.Context(), &domain.Proposal{
		Address: req.Address, Dao: req.Dao, State: req.State, PassPool: req.PassPool, FailPool: req.FailPool,
	})
	a.writeStored(w, err)
}

func (a *API) handlePutPool(w http.ResponseWriter, r *http.Request) {
	var req poolRequest
	if !a.decode(w, r, &req) {
		return
	}
	o, err := req.Oracle.toDomain()
	if err != nil {
		a.writeError(w, err)
		return
	}
	err = a.venues.PutPool(r.Context(), &domain.Pool{
		Address: req.Address, BaseMint: req.BaseMint, QuoteMint: req.QuoteMint, Oracle: o,
	})
	a.writeStored(w, err)
}

func (a *API) handlePutMint(w http.ResponseWriter, r *http.Request) {
	var req mintRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.accounts.WithTx(r.Context(), func(tx storage.Tx) error {
		return tx.PutMint(r.Context(), &domain.Mint{Address: req.Address, Decimals: req.Decimals})
	})
	a.writeStored(w, err)
}

// handleDevMintTo credits an owner's associated account. In-memory deployments only.
func (a *API) handleDevMintTo(w http.ResponseWriter, r *http.Request) {
	var req mintToRequest
	if !a.decode(w, r, &req) {
		return
	}
	err := a.accounts.WithTx(r.Context(), func(tx storage.Tx) error {
		addr, err := token.CreateAssociatedIdempotent(r.Context(), tx, req.Owner, req.Mint)
		if err != nil {
			return err
		}
		return token.MintTo(r.Context(), tx, req.Mint, addr, req.Amount)
	})
	a.writeStored(w, err)
}

// ── Helpers ──

func (o twapOracleJSON) toDomain() (domain.TwapOracle, error) {
	var out domain.TwapOracle
	for _, f := range []struct {
		name string
		in   string
		dst  *uint256.Int
	}{
		{"aggregator", o.Aggregator, &out.Aggregator},
		{"last_price", o.LastPrice, &out.LastPrice},
		{"last_observation", o.LastObservation, &out.LastObservation},
	} {
		if f.in == "" {
			continue
		}
		v, err := uint256.FromDecimal(f.in)
		if err != nil {
			return domain.TwapOracle{}, fmt.Errorf("oracle %s: %w: %v", f.name, errBadRequest, err)
		}
		f.dst.Set(v)
	}
	out.LastUpdatedTimestamp = o.LastUpdatedTimestamp
	out.CreatedAtTimestamp = o.CreatedAtTimestamp
	out.StartDelaySeconds = o.StartDelaySeconds
	return out, nil
}

func parseFeedID(s string) (domain.FeedID, error) {
	var feed domain.FeedID
	if s == "" {
		return feed, nil
	}
	b, err := hex.DecodeString(s)
	if err != nil || len(b) != len(feed) {
		return feed, fmt.Errorf("price_feed_id must be 32 hex-encoded bytes: %w", errBadRequest)
	}
	copy(feed[:], b)
	return feed, nil
}

// formatPrice renders a fixed-point price with the deployment's precision.
func (a *API) formatPrice(p *uint256.Int) string {
	if p == nil {
		return ""
	}
	return decimal.NewFromBigInt(p.ToBig(), -a.priceDecimals).String()
}

func (a *API) pathAddr(w http.ResponseWriter, r *http.Request) (solana.Pubkey, bool) {
	addr, err := solana.ParsePubkey(r.PathValue("addr"))
	if err != nil {
		a.writeError(w, fmt.Errorf("address: %w: %v", errBadRequest, err))
		return solana.Pubkey{}, false
	}
	return addr, true
}

func (a *API) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		a.writeError(w, fmt.Errorf("%w: %v", errBadRequest, err))
		return false
	}
	return true
}

func (a *API) writeStored(w http.ResponseWriter, err error) {
	if err != nil {
		a.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type errorBody struct {
	Code  string `json:"code"`
	Error string `json:"error"`
}

func (a *API) writeError(w http.ResponseWriter, err error) {
	code := domain.ErrorCode(err)
	status := http.StatusUnprocessableEntity

	switch {
	case errors.Is(err, errBadRequest), errors.Is(err, ledger.ErrInvalidRequest):
		code, status = "InvalidRequest", http.StatusBadRequest
	case errors.Is(err, domain.ErrNotInitialized), errors.Is(err, storage.ErrNotFound):
		code, status = "NotInitialized", http.StatusNotFound
	case errors.Is(err, domain.ErrAlreadyInitialized):
		status = http.StatusConflict
	case code == "Internal":
		if isTokenError(err) {
			code = "TokenTransferFailed"
			break
		}
		status = http.StatusInternalServerError
		a.logger.Printf("internal error: %v", err)
	}

	writeJSON(w, status, errorBody{Code: code, Error: err.Error()})
}

func isTokenError(err error) bool {
	for _, target := range []error{
		token.ErrInsufficientFunds, token.ErrOwnerMismatch, token.ErrMintMismatch,
		token.ErrDecimalsMismatch, token.ErrAccountNotFound, token.ErrMintNotFound,
		ledger.ErrInvalidFill,
	} {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
