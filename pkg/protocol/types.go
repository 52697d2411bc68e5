package protocol

import "github.com/shubham-shewale/market-cache/pkg/models"

const (
	ActionSubscribe      = "subscribe"
	ActionUnsubscribe    = "unsubscribe"
	ActionUnsubscribeAll = "unsubscribe_all"
	ActionGetQuote       = "get_quote"
	ActionGetCandles     = "get_candles"
	ActionGetOrderBook   = "get_order_book"
	ActionStats          = "stats"
)

const (
	TypeAck       = "ack"
	TypeError     = "error"
	TypeQuote     = "quote"
	TypeCandles   = "candles"
	TypeOrderBook = "order_book"
	TypeStats     = "stats"
	TypeEvent     = "event"
)

type WSRequest struct {
	Action  string         `json:"action"`
	Payload RequestPayload `json:"payload"`
	ID      string         `json:"id,omitempty"`
}

type RequestPayload struct {
	Symbols   []string `json:"symbols"`
	Timeframe string   `json:"timeframe,omitempty"`
	// Limit caps the number of candles returned, newest kept. 0 means all.
	Limit int `json:"limit,omitempty"`
}

type WSResponse struct {
	Type    string      `json:"type"`             // one of the Type constants
	ID      string      `json:"id,omitempty"`     // Matches request ID
	Status  string      `json:"status,omitempty"` // "success", "error"
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
}

// QuoteData answers get_quote. Found is false when nothing is known.
type QuoteData struct {
	Instrument string        `json:"instrument"`
	Found      bool          `json:"found"`
	Quote      *models.Quote `json:"quote,omitempty"`
}

type CandlesData struct {
	Instrument string           `json:"instrument"`
	Timeframe  models.Timeframe `json:"timeframe"`
	Candles    []models.Candle  `json:"candles"`
}

type OrderBookData struct {
	Instrument string                    `json:"instrument"`
	Found      bool                      `json:"found"`
	Book       *models.OrderBookSnapshot `json:"book,omitempty"`
}
