package memory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alanyoungcy/iqsession/internal/domain"
)

func TestInstrumentCatalog_ReplaceIsAtomicSwap(t *testing.T) {
	c := NewInstrumentCatalog()
	actives := c.ReplaceInstruments(domain.InstrumentForex, []domain.Instrument{
		{ID: "EURUSD", ActiveID: 1},
		{ID: "GBPAUD", ActiveID: 104},
	})
	assert.Equal(t, []int64{1, 104}, actives)

	id, err := c.ActiveID("GBPAUD")
	require.NoError(t, err)
	assert.Equal(t, int64(104), id)
	name, err := c.InstrumentID(1)
	require.NoError(t, err)
	assert.Equal(t, "EURUSD", name)

	c.ReplaceInstruments(domain.InstrumentForex, []domain.Instrument{{ID: "USDNOK", ActiveID: 168}})

	_, err = c.ActiveID("EURUSD")
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
	_, err = c.InstrumentID(104)
	assert.ErrorIs(t, err, domain.ErrUnknownInstrument)
	in, err := c.Lookup(domain.InstrumentForex, "USDNOK")
	require.NoError(t, err)
	assert.Equal(t, domain.InstrumentForex, in.Type)
	assert.Len(t, c.Instruments(domain.InstrumentForex), 1)
}

func TestInstrumentCatalog_Leverages(t *testing.T) {
	c := NewInstrumentCatalog()
	c.ReplaceInstruments(domain.InstrumentForex, []domain.Instrument{{ID: "EURUSD", ActiveID: 1}})

	unknown := c.ReplaceLeverages(domain.InstrumentForex, map[int64]domain.LeverageTable{
		1:   {50: true, 500: false},
		999: {10: true},
	})
	assert.Equal(t, []int64{999}, unknown)

	table, err := c.Leverages(domain.InstrumentForex, "EURUSD")
	require.NoError(t, err)
	assert.True(t, table.Supports(500))
	assert.False(t, table.Supports(30))

	_, err = c.Leverages(domain.InstrumentCrypto, "EURUSD")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestInstrumentCatalog_TopAssets(t *testing.T) {
	c := NewInstrumentCatalog()
	c.ReplaceTopAssets(domain.InstrumentBinary, []int64{3, 1, 3})
	assert.Equal(t, []int64{1, 3}, c.TopAssets(domain.InstrumentBinary))

	c.ReplaceTopAssets(domain.InstrumentBinary, []int64{7})
	assert.Equal(t, []int64{7}, c.TopAssets(domain.InstrumentBinary))
	assert.Empty(t, c.TopAssets(domain.InstrumentForex))
}
