package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/example/ride-rewards/internal/models"
)

// Bootstrap is the TOML file used to initialize an empty deployment. It is
// ignored once persisted state exists.
//
//	owner            = "<base58>"
//	mint_authority   = "<base58>"   # optional, defaults to owner
//	oracle_authority = "<base58>"
//	carbon_price_per_ton = 3000
//
//	[rates]
//	scooter = 5
//	bike = 10
//
//	[[regions]]
//	code = "EU-WEST"
//	standard = 70
//	electric = 18
//	hybrid = 40
//	emission_factor = 2400
type Bootstrap struct {
	Owner             string            `toml:"owner"`
	MintAuthority     string            `toml:"mint_authority"`
	OracleAuthority   string            `toml:"oracle_authority"`
	CarbonPricePerTon uint64            `toml:"carbon_price_per_ton"`
	Rates             map[string]int64  `toml:"rates"`
	Regions           []BootstrapRegion `toml:"regions"`
}

type BootstrapRegion struct {
	Code           string `toml:"code"`
	Standard       uint32 `toml:"standard"`
	Electric       uint32 `toml:"electric"`
	Hybrid         uint32 `toml:"hybrid"`
	EmissionFactor uint32 `toml:"emission_factor"`
}

// Genesis is a validated Bootstrap.
type Genesis struct {
	Owner             models.Address
	MintAuthority     models.Address
	OracleAuthority   models.Address
	CarbonPricePerTon uint64
	Rates             map[models.VehicleClass]int64
	Regions           []models.RegionEntry
}

func LoadBootstrap(path string) (Genesis, error) {
	var b Bootstrap
	meta, err := toml.DecodeFile(path, &b)
	if err != nil {
		return Genesis{}, fmt.Errorf("bootstrap %s: %w", path, err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return Genesis{}, fmt.Errorf("bootstrap %s: unknown key %q", path, undecoded[0].String())
	}
	return b.Genesis()
}

func (b Bootstrap) Genesis() (Genesis, error) {
	var errs []error
	g := Genesis{
		CarbonPricePerTon: b.CarbonPricePerTon,
		Rates:             make(map[models.VehicleClass]int64, len(b.Rates)),
	}

	parse := func(field, v string, required bool) models.Address {
		if strings.TrimSpace(v) == "" {
			if required {
				errs = append(errs, fmt.Errorf("%s is required", field))
			}
			return models.Address{}
		}
		a, err := models.ParseAddress(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", field, err))
		}
		return a
	}
	g.Owner = parse("owner", b.Owner, true)
	g.MintAuthority = parse("mint_authority", b.MintAuthority, false)
	g.OracleAuthority = parse("oracle_authority", b.OracleAuthority, true)

	for name, rate := range b.Rates {
		v, err := models.ParseVehicleClass(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("rates: %w", err))
			continue
		}
		g.Rates[v] = rate
	}
	for _, r := range b.Regions {
		g.Regions = append(g.Regions, models.RegionEntry{
			Code:                        r.Code,
			AvgStandardConsumptionPerKm: r.Standard,
			AvgElectricConsumptionPerKm: r.Electric,
			AvgHybridConsumptionPerKm:   r.Hybrid,
			EmissionFactor:              r.EmissionFactor,
		})
	}
	return g, errors.Join(errs...)
}
