package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/example/ride-rewards/internal/carbon"
	"github.com/example/ride-rewards/internal/claims"
	"github.com/example/ride-rewards/internal/issuance"
	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/offsets"
	"github.com/example/ride-rewards/internal/rewards"
	"github.com/example/ride-rewards/internal/safemath"
)

var (
	owner     = models.Address{0x01}
	oracleKey = models.Address{0x02}
	rider     = models.Address{0x03}
	stranger  = models.Address{0x04}
)

type fakeHolds struct{}

func (fakeHolds) Hold(context.Context, offsets.HoldRequest) (string, error) { return "pi_123", nil }
func (fakeHolds) Capture(context.Context, string) error                     { return nil }
func (fakeHolds) Cancel(context.Context, string) error                      { return nil }

type testEnv struct {
	srv    *Server
	bank   *issuance.Bank
	ledger *rewards.Ledger
}

func newTestEnv(t *testing.T, limit RateLimit) *testEnv {
	t.Helper()
	ctx := context.Background()
	bank := issuance.NewBank()
	ledger := rewards.NewLedger(nil, bank, nil)
	require.NoError(t, ledger.Initialize(ctx, owner, models.Address{}, map[models.VehicleClass]int64{
		models.Scooter: 5, models.Bike: 10, models.EBike: math.MaxInt64,
	}))
	oracle := carbon.NewOracle(nil, 0)
	require.NoError(t, oracle.Initialize(ctx, oracleKey))

	srv := NewServer(Options{
		Ledger:    ledger,
		Oracle:    oracle,
		Claims:    claims.NewService(ledger, nil),
		Offsets:   offsets.NewService(oracle, fakeHolds{}, "usd", 0),
		Logger:    slog.New(slog.NewJSONHandler(io.Discard, nil)),
		RateLimit: limit,
	})
	return &testEnv{srv: srv, bank: bank, ledger: ledger}
}

func (e *testEnv) do(t *testing.T, method, path string, who models.Address, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rdr = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, rdr)
	if !who.IsZero() {
		req.Header.Set(CallerHeader, who.String())
	}
	rec := httptest.NewRecorder()
	e.srv.ServeHTTP(rec, req)
	return rec
}

func txHex(b byte) string { return models.TxID{b}.Hex() }

func mintBody(class string, meters uint64, tx byte) map[string]any {
	return map[string]any{
		"vehicle_class":   class,
		"distance_meters": meters,
		"transaction_id":  txHex(tx),
		"recipient":       rider.String(),
	}
}

func TestMintEndpoint(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, mintBody("Bike", 1200, 1))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var receipt models.MintReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	require.Equal(t, uint64(12000), receipt.Quantity)
	require.Equal(t, models.Bike, receipt.VehicleClass)
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	rec = env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, mintBody("bike", 1200, 1))
	require.Equal(t, http.StatusConflict, rec.Code)
	require.Equal(t, uint64(12000), env.bank.TotalSupply().Uint64())
}

func TestMintErrorMapping(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	cases := []struct {
		name   string
		who    models.Address
		body   any
		status int
	}{
		{"no caller", models.Address{}, mintBody("bike", 1, 10), http.StatusForbidden},
		{"wrong caller", stranger, mintBody("bike", 1, 11), http.StatusForbidden},
		{"unknown class", owner, mintBody("tram", 1, 12), http.StatusBadRequest},
		{"overflow", owner, mintBody("ebike", 3, 13), http.StatusUnprocessableEntity},
		{"short tx id", owner, map[string]any{"vehicle_class": "bike", "transaction_id": "0x01", "recipient": rider.String()}, http.StatusBadRequest},
		{"zero tx id", owner, mintBody("bike", 1, 0), http.StatusBadRequest},
		{"missing tx id", owner, map[string]any{"vehicle_class": "bike", "distance_meters": 1, "recipient": rider.String()}, http.StatusBadRequest},
		{"bad json", owner, "not an object", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/api/v1/rewards/mint", tc.who, tc.body)
			require.Equal(t, tc.status, rec.Code, rec.Body.String())
		})
	}

	// the overflowed id was released
	rec := env.do(t, http.MethodGet, "/api/v1/rewards/transactions/"+txHex(13), models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"consumed":false`)
}

func TestMintIssuerFailureIsBadGateway(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.bank.FailNext(errors.New("chain unavailable"))

	rec := env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, mintBody("bike", 10, 20))
	require.Equal(t, http.StatusBadGateway, rec.Code)

	rec = env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, mintBody("bike", 10, 20))
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestMintUsesTraceWhenDistanceMissing(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	body := mintBody("scooter", 0, 30)
	body["trace"] = []models.Coord{{Lat: 0, Lon: 0}, {Lat: 0.01, Lon: 0}}

	rec := env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, body)
	require.Equal(t, http.StatusOK, rec.Code)
	var receipt models.MintReceipt
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&receipt))
	require.InDelta(t, 1112, float64(receipt.DistanceMeters), 1)
}

func TestRateEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.do(t, http.MethodPut, "/api/v1/rewards/rates/scooter", owner, map[string]any{"rate": 7})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"previous_rate":5`)

	rec = env.do(t, http.MethodPut, "/api/v1/rewards/rates/scooter", stranger, map[string]any{"rate": 8})
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/v1/rewards/rates/scooter", owner, map[string]any{"rate": -1})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/rewards/rates", models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var rates map[string]uint64
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&rates))
	require.Equal(t, uint64(7), rates["scooter"])
}

func TestCarbonEndpoints(t *testing.T) {
	env := newTestEnv(t, RateLimit{})

	rec := env.do(t, http.MethodPut, "/api/v1/carbon/price", oracleKey, map[string]any{"price_per_ton": 3000})
	require.Equal(t, http.StatusOK, rec.Code)

	region := map[string]any{
		"avg_standard_consumption_per_km": 70,
		"avg_electric_consumption_per_km": 18,
		"avg_hybrid_consumption_per_km":   40,
		"emission_factor":                 2400,
	}
	rec = env.do(t, http.MethodPut, "/api/v1/carbon/regions/EU-WEST", oracleKey, region)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = env.do(t, http.MethodPut, "/api/v1/carbon/regions/EU-WEST", stranger, region)
	require.Equal(t, http.StatusForbidden, rec.Code)
	rec = env.do(t, http.MethodPut, "/api/v1/carbon/regions/WAY-TOO-LONG-CODE", oracleKey, region)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/carbon/trips?region=EU-WEST&vehicle=standard&distance_km=100", models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var calc models.TripCalculation
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&calc))
	require.Equal(t, uint64(16800), calc.CarbonEmissionsGrams)
	require.Equal(t, uint64(50), calc.CarbonCostMicrocents)

	rec = env.do(t, http.MethodGet, "/api/v1/carbon/trips?region=APAC&vehicle=standard&distance_km=1", models.Address{}, nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/carbon/trips?region=EU-WEST&vehicle=diesel&distance_km=1", models.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/api/v1/carbon/trips?region=EU-WEST&vehicle=standard", models.Address{}, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, fmt.Sprintf("/api/v1/carbon/trips?region=EU-WEST&vehicle=standard&distance_km=%d", uint64(math.MaxUint64)), models.Address{}, nil)
	require.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = env.do(t, http.MethodGet, "/api/v1/carbon/regions", models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var regions []models.RegionEntry
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&regions))
	require.Len(t, regions, 1)

	rec = env.do(t, http.MethodPost, "/api/v1/carbon/offsets", models.Address{}, map[string]any{
		"trip": map[string]any{"region": "EU-WEST", "vehicle_class": "Standard", "distance_km": 100},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	require.Contains(t, rec.Body.String(), `"payment_intent_id":"pi_123"`)

	rec = env.do(t, http.MethodPost, "/api/v1/carbon/offsets/pi_123/capture", models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestOffsetsDisabled(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	env.srv.Offsets = nil
	rec := env.do(t, http.MethodPost, "/api/v1/carbon/offsets", models.Address{}, map[string]any{})
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestClaimEndpoint(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	body := map[string]any{"recipient": rider.String(), "vehicle_class": "bike", "cumulative_meters": 300}

	rec := env.do(t, http.MethodPost, "/api/v1/claims", owner, body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var res claims.Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&res))
	require.Equal(t, uint64(300), res.DeltaMeters)
	require.Equal(t, uint64(3000), res.Receipt.Quantity)

	body["cumulative_meters"] = 100
	rec = env.do(t, http.MethodPost, "/api/v1/claims", owner, body)
	require.Equal(t, http.StatusConflict, rec.Code)
}

func TestRateLimit(t *testing.T) {
	env := newTestEnv(t, RateLimit{RequestsPerMinute: 1, Burst: 1})
	rec := env.do(t, http.MethodGet, "/healthz", models.Address{}, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = env.do(t, http.MethodGet, "/healthz", models.Address{}, nil)
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestWebsocketReceivesReceipt(t *testing.T) {
	env := newTestEnv(t, RateLimit{})
	ts := httptest.NewServer(env.srv)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/"+rider.String(), nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return env.srv.WSReg.Len() == 1 }, 2*time.Second, 10*time.Millisecond)

	rec := env.do(t, http.MethodPost, "/api/v1/rewards/mint", owner, mintBody("bike", 50, 40))
	require.Equal(t, http.StatusOK, rec.Code)

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got models.MintReceipt
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, uint64(500), got.Quantity)
	require.Equal(t, rider, got.Recipient)
}

func TestStatusFor(t *testing.T) {
	require.Equal(t, http.StatusInternalServerError, statusFor(errors.New("boom")))
	require.Equal(t, http.StatusUnprocessableEntity, statusFor(fmt.Errorf("wrap: %w", safemath.ErrArithmeticOverflow)))
	require.Equal(t, http.StatusServiceUnavailable, statusFor(rewards.ErrNotInitialized))
	require.Equal(t, http.StatusConflict, statusFor(carbon.ErrMaxRegionsExceeded))
	require.Equal(t, http.StatusBadGateway, statusFor(fmt.Errorf("%w: x", offsets.ErrPayment)))
}
