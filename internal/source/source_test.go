package source

import (
	"context"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	etlerrors "github.com/galafis/financial-data-etl/internal/errors"
	"github.com/galafis/financial-data-etl/internal/models"
	"github.com/galafis/financial-data-etl/internal/storage"
	"github.com/galafis/financial-data-etl/internal/validator"
)

var fixedNow = time.Date(2024, 3, 15, 17, 42, 0, 0, time.UTC)

func fixedClock() time.Time { return fixedNow }

func TestGenerator_Shape(t *testing.T) {
	g := NewGenerator(fixedClock)
	table := g.Generate("BTC-USD", 30, 7)

	require.Equal(t, 30, table.Len())
	assert.Empty(t, table.Columns)
	assert.True(t, table.IsSorted())
	assert.Equal(t, time.Date(2024, 3, 15, 0, 0, 0, 0, time.UTC), table.Rows[29].Timestamp)
	assert.Equal(t, time.Date(2024, 2, 15, 0, 0, 0, 0, time.UTC), table.Rows[0].Timestamp)

	for i, r := range table.Rows {
		assert.Equal(t, "BTC-USD", r.Symbol)
		o, h, l, c, v := r.Open.V, r.High.V, r.Low.V, r.Close.V, r.Volume.V
		assert.True(t, r.Open.Valid && r.High.Valid && r.Low.Valid && r.Close.Valid && r.Volume.Valid, "row %d", i)
		assert.GreaterOrEqual(t, h, o, "row %d", i)
		assert.GreaterOrEqual(t, h, c, "row %d", i)
		assert.LessOrEqual(t, l, o, "row %d", i)
		assert.LessOrEqual(t, l, c, "row %d", i)
		assert.Greater(t, l, 0.0, "row %d", i)
		assert.GreaterOrEqual(t, v, 1e6, "row %d", i)
		assert.Less(t, v, 5e6, "row %d", i)
	}
}

func TestGenerator_Deterministic(t *testing.T) {
	g := NewGenerator(fixedClock)

	assert.Equal(t, g.Generate("ETH-USD", 50, 42), g.Generate("ETH-USD", 50, 42))
	assert.Equal(t, g.Generate("ETH-USD", 50, 0), g.Generate("ETH-USD", 50, 0))
	assert.NotEqual(t, g.Generate("ETH-USD", 50, 42).Rows[10].Close, g.Generate("ETH-USD", 50, 43).Rows[10].Close)
	assert.NotEqual(t, g.Generate("ETH-USD", 50, 0).Rows[10].Close, g.Generate("SOL-USD", 50, 0).Rows[10].Close)
}

func TestGenerator_Empty(t *testing.T) {
	g := NewGenerator(fixedClock)
	assert.Equal(t, 0, g.Generate("X", 0, 1).Len())
	assert.Equal(t, 0, g.Generate("X", -5, 1).Len())
}

func TestGenerator_PassesValidation(t *testing.T) {
	table := NewGenerator(fixedClock).Generate("BTC-USD", 365, 1)

	_, entry, err := validator.New().Validate(context.Background(), table)
	require.NoError(t, err)
	assert.Equal(t, 365, entry.FinalRowCount)
	assert.Empty(t, entry.Issues)
}

func TestExtractor_Synthetic(t *testing.T) {
	ctx := context.Background()
	e := NewExtractor(nil, WithGenerator(NewGenerator(fixedClock)))

	tests := []struct {
		name     string
		desc     models.SourceDescriptor
		wantRows int
	}{
		{name: "explicit rows", desc: models.SourceDescriptor{Kind: models.SourceSynthetic, Symbol: "AAPL", Rows: 10}, wantRows: 10},
		{name: "default rows", desc: models.SourceDescriptor{Kind: models.SourceSynthetic, Symbol: "AAPL"}, wantRows: DefaultSyntheticRows},
		{name: "api alias", desc: models.SourceDescriptor{Kind: "api", Symbol: "AAPL", Rows: 3}, wantRows: 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			table, err := e.Extract(ctx, tt.desc)
			require.NoError(t, err)
			assert.Equal(t, tt.wantRows, table.Len())
			assert.Equal(t, "AAPL", table.Rows[0].Symbol)
		})
	}
}

func TestExtractor_SyntheticErrors(t *testing.T) {
	ctx := context.Background()
	e := NewExtractor(nil)

	tests := []struct {
		name string
		desc models.SourceDescriptor
	}{
		{name: "no symbol", desc: models.SourceDescriptor{Kind: models.SourceSynthetic, Rows: 10}},
		{name: "negative rows", desc: models.SourceDescriptor{Kind: models.SourceSynthetic, Symbol: "AAPL", Rows: -1}},
		{name: "unknown kind", desc: models.SourceDescriptor{Kind: "ftp", Path: "x"}},
		{name: "no kind no path", desc: models.SourceDescriptor{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Extract(ctx, tt.desc)
			assert.ErrorIs(t, err, etlerrors.ErrSourceUnavailable)
		})
	}
}

func TestExtractor_Files(t *testing.T) {
	ctx := context.Background()
	fs := afero.NewMemMapFs()
	store := storage.NewFileStore(fs, storage.WithRetryPolicy(etlerrors.RetryPolicy{MaxAttempts: 1}))

	csv := "timestamp,open,high,low,close,volume\n" +
		"2024-01-01,1,2,0.5,1.5,10\n" +
		"2024-01-02,1.5,2.5,1,2,20\n"
	require.NoError(t, afero.WriteFile(fs, "in/prices.csv", []byte(csv), 0o644))

	e := NewExtractor(store)

	t.Run("kind inferred from extension", func(t *testing.T) {
		table, err := e.Extract(ctx, models.SourceDescriptor{Path: "in/prices.csv"})
		require.NoError(t, err)
		require.Equal(t, 2, table.Len())
		assert.False(t, table.HasSymbols())
		assert.Equal(t, models.Some(2), table.Rows[1].Close)
	})

	t.Run("symbol filled in", func(t *testing.T) {
		table, err := e.Extract(ctx, models.SourceDescriptor{Kind: models.SourceCSV, Path: "in/prices.csv", Symbol: "MSFT"})
		require.NoError(t, err)
		assert.Equal(t, "MSFT", table.Rows[0].Symbol)
		assert.Equal(t, "MSFT", table.Rows[1].Symbol)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := e.Extract(ctx, models.SourceDescriptor{Path: "in/missing.json"})
		assert.ErrorIs(t, err, etlerrors.ErrSourceUnavailable)
	})

	t.Run("no reader", func(t *testing.T) {
		_, err := NewExtractor(nil).Extract(ctx, models.SourceDescriptor{Path: "in/prices.csv"})
		assert.ErrorIs(t, err, etlerrors.ErrSourceUnavailable)
	})
}

func TestExtractor_CanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := NewExtractor(nil).Extract(ctx, models.SourceDescriptor{Kind: models.SourceSynthetic, Symbol: "AAPL"})
	assert.ErrorIs(t, err, context.Canceled)
}
