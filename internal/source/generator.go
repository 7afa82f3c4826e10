package source

import (
	"hash/fnv"
	"math"
	"math/rand/v2"
	"time"

	"github.com/galafis/financial-data-etl/internal/models"
)

// DefaultSyntheticRows is the series length used when a synthetic descriptor omits Rows.
const DefaultSyntheticRows = 365

// Random walk parameters of the synthetic series.
const (
	startPrice    = 100.0
	driftMean     = 0.001
	driftStdDev   = 0.02
	openSpread    = 0.01
	wickSpread    = 0.02
	minVolume     = 1e6
	maxVolume     = 5e6
	minPriceRatio = 0.01
)

// Generator produces deterministic synthetic daily OHLCV series.
// The same symbol, row count, seed and clock day always produce the same table.
type Generator struct {
	clock func() time.Time
}

// NewGenerator creates a generator whose series end on the day returned by clock.
// A nil clock means the current time.
func NewGenerator(clock func() time.Time) *Generator {
	if clock == nil {
		clock = time.Now
	}
	return &Generator{clock: clock}
}

// Generate returns rows daily records for symbol ending at the generator's current UTC day.
// A zero seed derives the seed from the symbol. Every record is OHLC consistent with
// positive prices and volume in [1e6, 5e6).
func (g *Generator) Generate(symbol string, rows int, seed uint64) *models.Table {
	if rows <= 0 {
		return models.NewTable(nil)
	}
	if seed == 0 {
		seed = symbolSeed(symbol)
	}
	rng := rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))

	now := g.clock().UTC()
	end := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	first := end.AddDate(0, 0, -(rows - 1))

	out := make([]models.Record, rows)
	price := startPrice
	for i := range out {
		step := 1 + driftMean + driftStdDev*rng.NormFloat64()
		price *= math.Max(step, minPriceRatio)

		open := price * (1 + openSpread*(2*rng.Float64()-1))
		high := math.Max(open, price) * (1 + wickSpread*rng.Float64())
		low := math.Min(open, price) * (1 - wickSpread*rng.Float64())

		out[i] = models.NewRecord(first.AddDate(0, 0, i), open, high, low, price,
			minVolume+(maxVolume-minVolume)*rng.Float64())
		out[i].Symbol = symbol
	}
	return models.NewTable(out)
}

func symbolSeed(symbol string) uint64 {
	h := fnv.New64a()
	h.Write([]byte(symbol))
	if s := h.Sum64(); s != 0 {
		return s
	}
	return 1
}
