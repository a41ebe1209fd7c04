package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/claims"
	"github.com/example/ride-rewards/internal/distance"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/notify"
	"github.com/example/ride-rewards/internal/observability"
	"github.com/example/ride-rewards/internal/offsets"
	"github.com/example/ride-rewards/internal/rewards"
)

// CallerHeader carries the caller identity asserted by the upstream identity
// layer. It is trusted as-is.
const CallerHeader = "X-Caller-Address"

const (
	maxBodyBytes  = 1 << 20
	notifyTimeout = 5 * time.Second
)

// Options wires the server. Claims, Offsets and Notifier are optional.
type Options struct {
	Ledger    *rewards.Ledger
	Oracle    *carbon.Oracle
	Claims    *claims.Service
	Offsets   *offsets.Service
	WSReg     *notify.WSRegistry
	Notifier  notify.Notifier
	Logger    *slog.Logger
	RateLimit RateLimit
}

type Server struct {
	Ledger   *rewards.Ledger
	Oracle   *carbon.Oracle
	Claims   *claims.Service
	Offsets  *offsets.Service
	WSReg    *notify.WSRegistry
	Notifier notify.Notifier

	logger  *slog.Logger
	limiter *RateLimiter
	mux     *mux.Router
}

func NewServer(opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	wsreg := opts.WSReg
	if wsreg == nil {
		wsreg = notify.NewWSRegistry()
	}
	notifier := opts.Notifier
	if notifier == nil {
		notifier = wsreg
	}
	s := &Server{
		Ledger:   opts.Ledger,
		Oracle:   opts.Oracle,
		Claims:   opts.Claims,
		Offsets:  opts.Offsets,
		WSReg:    wsreg,
		Notifier: notifier,
		logger:   logger,
		limiter:  NewRateLimiter(opts.RateLimit),
		mux:      mux.NewRouter(),
	}
	s.registerMiddleware()
	s.routes()
	return s
}

func (s *Server) routes() {
	api := s.mux.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/rewards/mint", s.handleMint).Methods(http.MethodPost)
	api.HandleFunc("/rewards/rates", s.handleRates).Methods(http.MethodGet)
	api.HandleFunc("/rewards/rates/{class}", s.handleUpdateRate).Methods(http.MethodPut)
	api.HandleFunc("/rewards/transactions/{tx_id}", s.handleTransaction).Methods(http.MethodGet)
	api.HandleFunc("/carbon/price", s.handleUpdatePrice).Methods(http.MethodPut)
	api.HandleFunc("/carbon/regions", s.handleRegions).Methods(http.MethodGet)
	api.HandleFunc("/carbon/regions/{code}", s.handleUpdateRegion).Methods(http.MethodPut)
	api.HandleFunc("/carbon/trips", s.handleTripCarbon).Methods(http.MethodGet)
	api.HandleFunc("/carbon/offsets", s.handleOffsetHold).Methods(http.MethodPost)
	api.HandleFunc("/carbon/offsets/{payment_intent_id}/capture", s.handleOffsetCapture).Methods(http.MethodPost)
	api.HandleFunc("/carbon/offsets/{payment_intent_id}/cancel", s.handleOffsetCancel).Methods(http.MethodPost)
	api.HandleFunc("/claims", s.handleClaim).Methods(http.MethodPost)

	s.mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(200); w.Write([]byte("ok")) }).Methods(http.MethodGet)
	s.mux.Handle("/metrics", promhttp.Handler())
	s.mux.HandleFunc("/ws/{address}", s.handleWS)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) { s.mux.ServeHTTP(w, r) }

// caller returns the zero address when the header is absent; the core then
// rejects the call as unauthorized.
func caller(r *http.Request) (models.Address, error) {
	v := strings.TrimSpace(r.Header.Get(CallerHeader))
	if v == "" {
		return models.Address{}, nil
	}
	return models.ParseAddress(v)
}

func decode(w http.ResponseWriter, r *http.Request, out any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		return &badRequestError{err: err}
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

type mintRequest struct {
	VehicleClass   string         `json:"vehicle_class"`
	DistanceMeters uint64         `json:"distance_meters"`
	TransactionID  string         `json:"transaction_id"`
	Recipient      string         `json:"recipient"`
	Trace          []models.Coord `json:"trace,omitempty"`
}

func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body mintRequest
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	txID, err := models.ParseTxID(body.TransactionID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	recipient, err := models.ParseAddress(body.Recipient)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	class := models.VehicleClass(strings.ToLower(strings.TrimSpace(body.VehicleClass)))
	meters := distance.RideMeters(models.RideEvent{DistanceMeters: body.DistanceMeters, Trace: body.Trace})
	req := models.RideRewardRequest{
		VehicleClass:   class,
		DistanceMeters: meters,
		TransactionID:  txID,
		Recipient:      recipient,
	}

	receipt, err := s.Ledger.Mint(r.Context(), who, req)
	if err != nil {
		observability.MintsTotal.WithLabelValues(string(class), mintOutcome(err)).Inc()
		s.writeError(w, r, err)
		return
	}
	observability.MintsTotal.WithLabelValues(string(class), "minted").Inc()
	observability.RewardUnitsIssued.WithLabelValues(string(class)).Add(float64(receipt.Quantity))
	s.notify(receipt)
	writeJSON(w, http.StatusOK, receipt)
}

func mintOutcome(err error) string {
	switch {
	case errors.Is(err, rewards.ErrDuplicateTransactionID):
		return "duplicate"
	case errors.Is(err, rewards.ErrUnauthorized):
		return "unauthorized"
	case errors.Is(err, rewards.ErrIssuance):
		return "issuance_failed"
	default:
		return "rejected"
	}
}

// notify runs detached from the request so a slow receiver never delays the
// mint response.
func (s *Server) notify(receipt models.MintReceipt) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
		defer cancel()
		if err := s.Notifier.Notify(ctx, receipt); err != nil {
			s.logger.Warn("receipt notification failed", "tx_id", receipt.TransactionID.Hex(), "err", err)
		}
	}()
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	rates, err := s.Ledger.Rates()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, rates)
}

type rateUpdate struct {
	Rate int64 `json:"rate"`
}

func (s *Server) handleUpdateRate(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body rateUpdate
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	class := models.VehicleClass(strings.ToLower(mux.Vars(r)["class"]))
	prev, err := s.Ledger.UpdateRate(r.Context(), who, class, body.Rate)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.RateUpdatesTotal.Inc()
	s.logger.Info("reward rate updated", "vehicle_class", class, "previous", prev, "rate", body.Rate)
	writeJSON(w, http.StatusOK, map[string]any{"vehicle_class": class, "previous_rate": prev, "rate": body.Rate})
}

func (s *Server) handleTransaction(w http.ResponseWriter, r *http.Request) {
	id, err := models.ParseTxID(mux.Vars(r)["tx_id"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	consumed, err := s.Ledger.IsConsumed(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transaction_id": id, "consumed": consumed})
}

func (s *Server) handleClaim(w http.ResponseWriter, r *http.Request) {
	if s.Claims == nil {
		http.Error(w, "claims disabled", http.StatusNotFound)
		return
	}
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body claims.Request
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	res, err := s.Claims.Claim(r.Context(), who, body)
	if err != nil {
		observability.ClaimsTotal.WithLabelValues(mintOutcome(err)).Inc()
		s.writeError(w, r, err)
		return
	}
	switch {
	case res.Receipt != nil:
		observability.ClaimsTotal.WithLabelValues("minted").Inc()
		s.notify(*res.Receipt)
	case res.AlreadyRewarded:
		observability.ClaimsTotal.WithLabelValues("duplicate").Inc()
	default:
		observability.ClaimsTotal.WithLabelValues("empty").Inc()
	}
	writeJSON(w, http.StatusOK, res)
}

var upgrader = websocket.Upgrader{}

func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	recipient, err := models.ParseAddress(mux.Vars(r)["address"])
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied
		return
	}
	s.WSReg.Add(recipient, conn)
	observability.WSSessions.Set(float64(s.WSReg.Len()))
	go func() {
		defer func() { observability.WSSessions.Set(float64(s.WSReg.Len())) }()
		defer conn.Close()
		defer s.WSReg.Remove(recipient, conn)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
