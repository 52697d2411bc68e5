package keys_test

import (
	"testing"

	"github.com/shubham-shewale/market-cache/pkg/keys"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

func TestKeys(t *testing.T) {
	if got := keys.Quote("AAPL"); got != "quote:AAPL" {
		t.Errorf("Quote key: got %s", got)
	}
	if got := keys.Depth("AAPL"); got != "depth:AAPL" {
		t.Errorf("Depth key: got %s", got)
	}
	if got := keys.Candles("AAPL", models.Timeframe5m); got != "candles:AAPL:5m" {
		t.Errorf("Candles key: got %s", got)
	}
}

func TestInstrumentFromChannel(t *testing.T) {
	inst, ok := keys.InstrumentFromChannel(keys.Channel("BRK.B"))
	if !ok || inst != "BRK.B" {
		t.Errorf("Round trip failed: %q %v", inst, ok)
	}
	for _, ch := range []string{"prices.", "quotes.AAPL", ""} {
		if _, ok := keys.InstrumentFromChannel(ch); ok {
			t.Errorf("Expected %q to be rejected", ch)
		}
	}
}
