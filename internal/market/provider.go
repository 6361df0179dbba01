package market

import "context"

// DataProvider supplies quotes and candles for instruments. Adapters for
// concrete market-data services implement this port; the core only depends
// on the interface.
type DataProvider interface {
	// Quote returns the latest quote for the instrument.
	Quote(ctx context.Context, inst Instrument) (Quote, error)

	// Candles returns the most recent n bars for the instrument at the
	// given timeframe (e.g. "1h"), oldest first.
	Candles(ctx context.Context, inst Instrument, timeframe string, n int) ([]Candle, error)
}
