package models

import (
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

var (
	ErrInvalidVehicleClass = errors.New("models: invalid vehicle class")
	ErrInvalidAddress      = errors.New("models: invalid address")
	ErrInvalidTxID         = errors.New("models: invalid transaction id")
)

type Coord struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// VehicleClass selects the reward rate applied to a ride.
type VehicleClass string

const (
	Scooter  VehicleClass = "scooter"
	EScooter VehicleClass = "escooter"
	Bike     VehicleClass = "bike"
	EBike    VehicleClass = "ebike"
)

// VehicleClasses lists every reward class in a stable order.
var VehicleClasses = []VehicleClass{Scooter, EScooter, Bike, EBike}

func (v VehicleClass) Valid() bool {
	switch v {
	case Scooter, EScooter, Bike, EBike:
		return true
	}
	return false
}

func ParseVehicleClass(s string) (VehicleClass, error) {
	v := VehicleClass(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVehicleClass, s)
	}
	return v, nil
}

// CarbonVehicleClass selects the consumption coefficient of a region. It is a
// separate taxonomy from VehicleClass and the two are never converted.
type CarbonVehicleClass string

const (
	Standard CarbonVehicleClass = "standard"
	Electric CarbonVehicleClass = "electric"
	Hybrid   CarbonVehicleClass = "hybrid"
)

func (v CarbonVehicleClass) Valid() bool {
	switch v {
	case Standard, Electric, Hybrid:
		return true
	}
	return false
}

func ParseCarbonVehicleClass(s string) (CarbonVehicleClass, error) {
	v := CarbonVehicleClass(strings.ToLower(strings.TrimSpace(s)))
	if !v.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidVehicleClass, s)
	}
	return v, nil
}

// Address is a 32-byte account identity, rendered in base58 like the wallets
// that hold the reward token.
type Address [32]byte

func ParseAddress(s string) (Address, error) {
	var a Address
	raw := base58.Decode(strings.TrimSpace(s))
	if len(raw) != len(a) {
		return a, fmt.Errorf("%w: %q", ErrInvalidAddress, s)
	}
	copy(a[:], raw)
	if a.IsZero() {
		return a, fmt.Errorf("%w: zero address", ErrInvalidAddress)
	}
	return a, nil
}

func (a Address) IsZero() bool { return a == Address{} }

func (a Address) String() string { return base58.Encode(a[:]) }

func (a Address) MarshalText() ([]byte, error) { return []byte(a.String()), nil }

func (a *Address) UnmarshalText(b []byte) error {
	parsed, err := ParseAddress(string(b))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// TxID identifies a rewarded ride. Once consumed it can never be minted again.
type TxID = common.Hash

// ParseTxID decodes a 0x-prefixed hex string of exactly 32 bytes. The
// all-zero id is what a missing field decodes to and is rejected.
func ParseTxID(s string) (TxID, error) {
	raw, err := hexutil.Decode(strings.TrimSpace(s))
	if err != nil {
		return TxID{}, fmt.Errorf("%w: %v", ErrInvalidTxID, err)
	}
	if len(raw) != common.HashLength {
		return TxID{}, fmt.Errorf("%w: want %d bytes, got %d", ErrInvalidTxID, common.HashLength, len(raw))
	}
	id := common.BytesToHash(raw)
	if id == (TxID{}) {
		return TxID{}, fmt.Errorf("%w: zero", ErrInvalidTxID)
	}
	return id, nil
}

type RideRewardRequest struct {
	VehicleClass   VehicleClass `json:"vehicle_class"`
	DistanceMeters uint64       `json:"distance_meters"`
	TransactionID  TxID         `json:"transaction_id"`
	Recipient      Address      `json:"recipient"`
}

type MintReceipt struct {
	TransactionID  TxID         `json:"transaction_id"`
	Recipient      Address      `json:"recipient"`
	VehicleClass   VehicleClass `json:"vehicle_class"`
	DistanceMeters uint64       `json:"distance_meters"`
	Rate           uint64       `json:"rate"`
	Quantity       uint64       `json:"quantity"`
}

// RegionEntry holds per-region consumption coefficients. Standard and hybrid
// consumption is in ml/km, electric in Wh/km; EmissionFactor is g CO2e per
// liter or kWh.
type RegionEntry struct {
	Code                        string `json:"code"`
	AvgStandardConsumptionPerKm uint32 `json:"avg_standard_consumption_per_km"`
	AvgElectricConsumptionPerKm uint32 `json:"avg_electric_consumption_per_km"`
	AvgHybridConsumptionPerKm   uint32 `json:"avg_hybrid_consumption_per_km"`
	EmissionFactor              uint32 `json:"emission_factor"`
	UpdatedAt                   int64  `json:"updated_at"`
}

// Coefficient returns the per-km consumption for the given class.
func (r RegionEntry) Coefficient(v CarbonVehicleClass) (uint32, bool) {
	switch v {
	case Standard:
		return r.AvgStandardConsumptionPerKm, true
	case Electric:
		return r.AvgElectricConsumptionPerKm, true
	case Hybrid:
		return r.AvgHybridConsumptionPerKm, true
	}
	return 0, false
}

type TripCarbonQuery struct {
	RegionCode   string             `json:"region"`
	VehicleClass CarbonVehicleClass `json:"vehicle_class"`
	DistanceKm   uint64             `json:"distance_km"`
}

type TripCalculation struct {
	Region               string             `json:"region"`
	VehicleClass         CarbonVehicleClass `json:"vehicle_class"`
	DistanceKm           uint64             `json:"distance_km"`
	CarbonEmissionsGrams uint64             `json:"carbon_emissions_grams"`
	CarbonCostMicrocents uint64             `json:"carbon_cost_microcents"`
}

// RideEvent is published by the trip source when a ride completes.
type RideEvent struct {
	TransactionID  TxID         `json:"transaction_id"`
	Recipient      Address      `json:"recipient"`
	VehicleClass   VehicleClass `json:"vehicle_class"`
	DistanceMeters uint64       `json:"distance_meters"`
	Trace          []Coord      `json:"trace,omitempty"`
}
