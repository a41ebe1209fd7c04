package httpapi

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/example/ride-rewards/internal/models"
	"github.com/example/ride-rewards/internal/observability"
	"github.com/example/ride-rewards/internal/offsets"
)

type priceUpdate struct {
	PricePerTon uint64 `json:"price_per_ton"`
}

func (s *Server) handleUpdatePrice(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body priceUpdate
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	prev, err := s.Oracle.UpdateCarbonPrice(r.Context(), who, body.PricePerTon)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.OracleUpdatesTotal.WithLabelValues("price").Inc()
	s.logger.Info("carbon price updated", "previous", prev, "price_per_ton", body.PricePerTon)
	writeJSON(w, http.StatusOK, map[string]uint64{"previous_price_per_ton": prev, "price_per_ton": body.PricePerTon})
}

type regionUpdate struct {
	AvgStandardConsumptionPerKm uint32 `json:"avg_standard_consumption_per_km"`
	AvgElectricConsumptionPerKm uint32 `json:"avg_electric_consumption_per_km"`
	AvgHybridConsumptionPerKm   uint32 `json:"avg_hybrid_consumption_per_km"`
	EmissionFactor              uint32 `json:"emission_factor"`
}

func (s *Server) handleUpdateRegion(w http.ResponseWriter, r *http.Request) {
	who, err := caller(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	var body regionUpdate
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	code := mux.Vars(r)["code"]
	err = s.Oracle.UpdateRegionData(r.Context(), who, models.RegionEntry{
		Code:                        code,
		AvgStandardConsumptionPerKm: body.AvgStandardConsumptionPerKm,
		AvgElectricConsumptionPerKm: body.AvgElectricConsumptionPerKm,
		AvgHybridConsumptionPerKm:   body.AvgHybridConsumptionPerKm,
		EmissionFactor:              body.EmissionFactor,
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.OracleUpdatesTotal.WithLabelValues("region").Inc()
	entry, err := s.Oracle.Region(code)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("carbon region updated", "region", entry.Code)
	writeJSON(w, http.StatusOK, entry)
}

func (s *Server) handleRegions(w http.ResponseWriter, r *http.Request) {
	regions, err := s.Oracle.Regions()
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if regions == nil {
		regions = []models.RegionEntry{}
	}
	writeJSON(w, http.StatusOK, regions)
}

func (s *Server) handleTripCarbon(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	km, err := strconv.ParseUint(strings.TrimSpace(q.Get("distance_km")), 10, 64)
	if err != nil {
		s.writeError(w, r, &badRequestError{err: err})
		return
	}
	calc, err := s.Oracle.CalculateTripCarbon(
		q.Get("region"),
		models.CarbonVehicleClass(strings.ToLower(strings.TrimSpace(q.Get("vehicle")))),
		km,
	)
	if err != nil {
		observability.CarbonCalculationsTotal.WithLabelValues("rejected").Inc()
		s.writeError(w, r, err)
		return
	}
	observability.CarbonCalculationsTotal.WithLabelValues("ok").Inc()
	writeJSON(w, http.StatusOK, calc)
}

func (s *Server) handleOffsetHold(w http.ResponseWriter, r *http.Request) {
	if s.Offsets == nil {
		s.writeError(w, r, offsets.ErrDisabled)
		return
	}
	var body offsets.Request
	if err := decode(w, r, &body); err != nil {
		s.writeError(w, r, err)
		return
	}
	body.Query.VehicleClass = models.CarbonVehicleClass(strings.ToLower(string(body.Query.VehicleClass)))
	hold, err := s.Offsets.Hold(r.Context(), body)
	if err != nil {
		observability.OffsetHoldsTotal.WithLabelValues("failed").Inc()
		s.writeError(w, r, err)
		return
	}
	observability.OffsetHoldsTotal.WithLabelValues("held").Inc()
	writeJSON(w, http.StatusCreated, hold)
}

func (s *Server) handleOffsetCapture(w http.ResponseWriter, r *http.Request) {
	s.offsetTransition(w, r, "captured", func(svc *offsets.Service, id string) error { return svc.Capture(r.Context(), id) })
}

func (s *Server) handleOffsetCancel(w http.ResponseWriter, r *http.Request) {
	s.offsetTransition(w, r, "cancelled", func(svc *offsets.Service, id string) error { return svc.Cancel(r.Context(), id) })
}

func (s *Server) offsetTransition(w http.ResponseWriter, r *http.Request, outcome string, fn func(*offsets.Service, string) error) {
	if s.Offsets == nil {
		s.writeError(w, r, offsets.ErrDisabled)
		return
	}
	id := mux.Vars(r)["payment_intent_id"]
	if err := fn(s.Offsets, id); err != nil {
		s.writeError(w, r, err)
		return
	}
	observability.OffsetHoldsTotal.WithLabelValues(outcome).Inc()
	writeJSON(w, http.StatusOK, map[string]string{"payment_intent_id": id, "status": outcome})
}
