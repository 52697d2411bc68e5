package hub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/engine"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/market-cache/pkg/models"
	"github.com/shubham-shewale/market-cache/pkg/protocol"
)

type ClientInterface interface {
	ID() string
	SendJSON(v interface{})
	SendBytes(b []byte)
	Close()
}

// Cache is the query API the hub serves to clients.
type Cache interface {
	Subscribe(ctx context.Context, instrument string) (*registry.Handle, error)
	GetQuote(ctx context.Context, instrument string) (models.Quote, bool, error)
	GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error)
	GetOrderBook(ctx context.Context, instrument string) (models.OrderBookSnapshot, bool, error)
	Stats(ctx context.Context) (engine.Stats, error)
}

// Hub maps clients to the instruments they watch. Each client/instrument
// pair holds one engine subscription handle.
type Hub struct {
	subscribers map[string]map[ClientInterface]bool
	clientSubs  map[ClientInterface]map[string]*registry.Handle

	cache        Cache
	logger       *zap.Logger
	mu           sync.RWMutex
	queryTimeout time.Duration
}

func NewHub(cache Cache, logger *zap.Logger, queryTimeout time.Duration) *Hub {
	if queryTimeout <= 0 {
		queryTimeout = 30 * time.Second
	}
	return &Hub{
		subscribers:  make(map[string]map[ClientInterface]bool),
		clientSubs:   make(map[ClientInterface]map[string]*registry.Handle),
		cache:        cache,
		logger:       logger,
		queryTimeout: queryTimeout,
	}
}

// Run forwards engine events to subscribed clients until the stream closes
// or ctx is done.
func (h *Hub) Run(ctx context.Context, stream <-chan events.Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-stream:
			if !ok {
				return
			}
			h.Broadcast(ev)
		}
	}
}

func (h *Hub) HandleCommand(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	switch req.Action {
	case protocol.ActionSubscribe:
		h.handleSubscribe(client, req, validTickers)
	case protocol.ActionUnsubscribe:
		h.handleUnsubscribe(client, req)
	case protocol.ActionUnsubscribeAll:
		h.handleUnsubscribeAll(client, req)
	case protocol.ActionGetQuote:
		h.handleGetQuote(client, req, validTickers)
	case protocol.ActionGetCandles:
		h.handleGetCandles(client, req, validTickers)
	case protocol.ActionGetOrderBook:
		h.handleGetOrderBook(client, req, validTickers)
	case protocol.ActionStats:
		h.handleStats(client, req)
	default:
		h.sendError(client, req.ID, "Unknown action: "+req.Action)
	}
}

func (h *Hub) handleSubscribe(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	h.mu.Lock()
	var valid []string
	for _, s := range req.Payload.Symbols {
		// Idempotency: Ignore if already subscribed
		if validTickers[s] && h.clientSubs[client][s] == nil {
			valid = append(valid, s)
		}
	}
	if len(valid) > 0 && h.clientSubs[client] == nil {
		h.clientSubs[client] = make(map[string]*registry.Handle)
	}
	h.mu.Unlock()

	if len(valid) == 0 {
		h.sendError(client, req.ID, "No valid/new symbols provided")
		return
	}

	// The engine may open a feed subscription; broadcasts must not wait on it.
	handles := make(map[string]*registry.Handle, len(valid))
	var lastErr error
	for _, sym := range valid {
		ctx, cancel := context.WithTimeout(context.Background(), h.queryTimeout)
		handle, err := h.cache.Subscribe(ctx, sym)
		cancel()
		if err != nil {
			h.logger.Error("Failed to subscribe", zap.String("symbol", sym), zap.Error(err))
			lastErr = err
			continue
		}
		handles[sym] = handle
	}

	h.mu.Lock()
	var subscribed []string
	var unused []*registry.Handle
	subs := h.clientSubs[client]
	for _, sym := range valid {
		handle, ok := handles[sym]
		switch {
		case !ok:
		case subs == nil || subs[sym] != nil:
			// Unregistered meanwhile, or a concurrent request won.
			unused = append(unused, handle)
		default:
			subs[sym] = handle
			if h.subscribers[sym] == nil {
				h.subscribers[sym] = make(map[ClientInterface]bool)
			}
			h.subscribers[sym][client] = true
			subscribed = append(subscribed, sym)
		}
	}
	h.mu.Unlock()
	release(unused)

	if len(subscribed) == 0 {
		msg := fmt.Sprintf("Subscription failed for %v", valid)
		if lastErr != nil {
			msg += ": " + lastErr.Error()
		}
		h.sendError(client, req.ID, msg)
		return
	}
	h.sendAck(client, req.ID, "success", fmt.Sprintf("Subscribed to %v", subscribed))

	// Send snapshots without holding the lock; a cold miss may fetch.
	go func(targets []string) {
		for _, sym := range targets {
			h.sendQuote(client, "", sym)
		}
	}(subscribed)
}

func (h *Hub) handleUnsubscribe(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	var removed []*registry.Handle
	var names []string
	if subs, ok := h.clientSubs[client]; ok {
		for _, sym := range req.Payload.Symbols {
			if handle := subs[sym]; handle != nil {
				delete(subs, sym)
				h.dropSubscriber(sym, client)
				removed = append(removed, handle)
				names = append(names, sym)
			}
		}
	}
	h.mu.Unlock()
	release(removed)

	if len(names) > 0 {
		h.sendAck(client, req.ID, "success", fmt.Sprintf("Unsubscribed from %v", names))
	} else {
		h.sendError(client, req.ID, fmt.Sprintf("Not subscribed to: %v", req.Payload.Symbols))
	}
}

func (h *Hub) handleUnsubscribeAll(client ClientInterface, req protocol.WSRequest) {
	h.mu.Lock()
	removed := h.detach(client)
	// Keep the client registered
	h.clientSubs[client] = make(map[string]*registry.Handle)
	h.mu.Unlock()
	release(removed)

	h.sendAck(client, req.ID, "success", "Unsubscribed from all symbols")
}

func (h *Hub) Unregister(client ClientInterface) {
	h.mu.Lock()
	removed := h.detach(client)
	delete(h.clientSubs, client)
	h.mu.Unlock()
	release(removed)

	client.Close()
}

// detach removes client from every instrument and returns its handles.
// Callers hold h.mu.
func (h *Hub) detach(client ClientInterface) []*registry.Handle {
	var handles []*registry.Handle
	for sym, handle := range h.clientSubs[client] {
		h.dropSubscriber(sym, client)
		handles = append(handles, handle)
	}
	return handles
}

func (h *Hub) dropSubscriber(sym string, client ClientInterface) {
	delete(h.subscribers[sym], client)
	if len(h.subscribers[sym]) == 0 {
		delete(h.subscribers, sym)
	}
}

// release gives handles back to the engine. It must run without h.mu held.
func release(handles []*registry.Handle) {
	for _, handle := range handles {
		handle.Release()
	}
}

// Broadcast pushes an instrument event to the clients watching it.
func (h *Hub) Broadcast(ev events.Event) {
	if ev.Instrument == "" {
		return
	}
	switch ev.Kind {
	case events.QuoteUpdated, events.TradeReceived, events.OrderBookUpdated, events.ErrorOccurred:
	default:
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	clients, ok := h.subscribers[ev.Instrument]
	if !ok {
		return
	}
	msgBytes, err := json.Marshal(protocol.WSResponse{Type: protocol.TypeEvent, Data: ev})
	if err != nil {
		h.logger.Error("Failed to encode event", zap.Error(err))
		return
	}
	for client := range clients {
		client.SendBytes(msgBytes)
	}
}

func (h *Hub) queryCtx() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), h.queryTimeout)
}

// singleSymbol returns the one valid instrument a query names.
func (h *Hub) singleSymbol(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) (string, bool) {
	if len(req.Payload.Symbols) != 1 || !validTickers[req.Payload.Symbols[0]] {
		h.sendError(client, req.ID, "Exactly one valid symbol required")
		return "", false
	}
	return req.Payload.Symbols[0], true
}

func (h *Hub) handleGetQuote(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	if sym, ok := h.singleSymbol(client, req, validTickers); ok {
		h.sendQuote(client, req.ID, sym)
	}
}

func (h *Hub) sendQuote(client ClientInterface, id, sym string) {
	ctx, cancel := h.queryCtx()
	defer cancel()

	q, found, err := h.cache.GetQuote(ctx, sym)
	if err != nil {
		h.sendError(client, id, err.Error())
		return
	}
	data := protocol.QuoteData{Instrument: sym, Found: found}
	if found {
		data.Quote = &q
	}
	client.SendJSON(protocol.WSResponse{Type: protocol.TypeQuote, ID: id, Data: data})
}

func (h *Hub) handleGetCandles(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	sym, ok := h.singleSymbol(client, req, validTickers)
	if !ok {
		return
	}
	tf, err := models.ParseTimeframe(req.Payload.Timeframe)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}

	ctx, cancel := h.queryCtx()
	defer cancel()
	candles, err := h.cache.GetCandles(ctx, sym, tf, req.Payload.Limit)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}
	if candles == nil {
		candles = []models.Candle{}
	}
	client.SendJSON(protocol.WSResponse{
		Type: protocol.TypeCandles,
		ID:   req.ID,
		Data: protocol.CandlesData{Instrument: sym, Timeframe: tf, Candles: candles},
	})
}

func (h *Hub) handleGetOrderBook(client ClientInterface, req protocol.WSRequest, validTickers map[string]bool) {
	sym, ok := h.singleSymbol(client, req, validTickers)
	if !ok {
		return
	}

	ctx, cancel := h.queryCtx()
	defer cancel()
	book, found, err := h.cache.GetOrderBook(ctx, sym)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}
	data := protocol.OrderBookData{Instrument: sym, Found: found}
	if found {
		data.Book = &book
	}
	client.SendJSON(protocol.WSResponse{Type: protocol.TypeOrderBook, ID: req.ID, Data: data})
}

func (h *Hub) handleStats(client ClientInterface, req protocol.WSRequest) {
	ctx, cancel := h.queryCtx()
	defer cancel()
	stats, err := h.cache.Stats(ctx)
	if err != nil {
		h.sendError(client, req.ID, err.Error())
		return
	}
	client.SendJSON(protocol.WSResponse{Type: protocol.TypeStats, ID: req.ID, Data: stats})
}

func (h *Hub) sendAck(c ClientInterface, id, status, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeAck, ID: id, Status: status, Message: msg})
}

func (h *Hub) sendError(c ClientInterface, id, msg string) {
	c.SendJSON(protocol.WSResponse{Type: protocol.TypeError, ID: id, Status: "error", Message: msg})
}
