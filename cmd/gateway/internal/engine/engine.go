// Package engine owns the gateway's market-data caches.
//
// A single goroutine (Run) applies every mutation. Feed messages, scheduler
// ticks and queries reach it as commands on one channel, so the stores need
// no locks and arrive in the order they were sent.
package engine

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/cache"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/events"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/fetch"
	"github.com/shubham-shewale/market-cache/cmd/gateway/internal/registry"
	"github.com/shubham-shewale/market-cache/pkg/candles"
	"github.com/shubham-shewale/market-cache/pkg/dedup"
	"github.com/shubham-shewale/market-cache/pkg/models"
)

// ErrClosed is returned by calls made after Run has returned.
var ErrClosed = errors.New("engine stopped")

// FeedSource is the real-time collaborator. Run blocks, handing every
// message to onMessage, until ctx is done.
type FeedSource interface {
	Subscribe(ctx context.Context, instrument string) error
	Unsubscribe(ctx context.Context, instrument string) error
	Run(ctx context.Context, onMessage func(models.FeedMessage)) error
}

type Config struct {
	MaxQuotes        int
	HistoryRetention int
	OrderBookTTL     time.Duration
	DepthLevels      int
	QuoteStaleAfter  time.Duration
	DedupWindow      time.Duration
	SequenceIdleTTL  time.Duration
	FetchTimeout     time.Duration
	// FeedTimeout bounds Subscribe/Unsubscribe calls on the feed.
	FeedTimeout time.Duration
	// FeedSilenceAfter is how long the feed may stay quiet while instruments
	// are watched before the engine reports itself degraded.
	FeedSilenceAfter time.Duration
	// MaxSubscriptions caps the number of distinct watched instruments.
	MaxSubscriptions int
	RefreshParallel  int
	CommandBuffer    int
}

func DefaultConfig() Config {
	return Config{
		MaxQuotes:        1000,
		HistoryRetention: cache.DefaultRetention,
		OrderBookTTL:     cache.DefaultOrderBookTTL,
		DepthLevels:      cache.DefaultDepthLevels,
		QuoteStaleAfter:  30 * time.Second,
		DedupWindow:      dedup.DefaultWindow,
		SequenceIdleTTL:  time.Hour,
		FetchTimeout:     30 * time.Second,
		FeedTimeout:      5 * time.Second,
		FeedSilenceAfter: 90 * time.Second,
		MaxSubscriptions: 100,
		RefreshParallel:  8,
		CommandBuffer:    1024,
	}
}

// Status is the connectivity state shown to consumers.
type Status string

const (
	StatusOnline   Status = "online"
	StatusDegraded Status = "degraded"
)

type Stats struct {
	Quotes          cache.QuoteStats `json:"quotes"`
	Series          int              `json:"series"`
	OrderBooks      int              `json:"order_books"`
	Subscriptions   int              `json:"subscriptions"`
	SequenceRecords int              `json:"sequence_records"`
	EventsDropped   uint64           `json:"events_dropped"`
	// LastFeedMessage is when the feed last delivered anything; zero if never.
	LastFeedMessage time.Time `json:"last_feed_message"`
	Status          Status    `json:"status"`
	LastError       string    `json:"last_error,omitempty"`
}

// RefreshReport summarises one refresh pass.
type RefreshReport struct {
	Attempted int
	Refreshed int
	Failed    int
}

type inflight struct {
	ctx    context.Context
	cancel context.CancelFunc
}

type Engine struct {
	cfg     Config
	feed    FeedSource
	fetcher fetch.Source
	bus     *events.Bus
	clock   cache.Clock
	logger  *zap.Logger

	cmds    chan func()
	stopped chan struct{}
	group   singleflight.Group

	// Everything below is touched only by the Run goroutine.
	quotes    *cache.QuoteCache
	history   *cache.HistoricalStore
	bars      *candles.Aggregator
	books     *cache.OrderBookCache
	dedup     *dedup.Deduplicator
	registry  *registry.Registry
	refreshes map[string]*inflight
	status    Status
	lastErr   string

	// Feed health.
	lastFeedAt   time.Time
	watchedSince time.Time
	feedSilent   bool
}

func New(cfg Config, feed FeedSource, fetcher fetch.Source, bus *events.Bus, logger *zap.Logger) *Engine {
	cfg = cfg.withDefaults()

	e := &Engine{
		cfg:       cfg,
		feed:      feed,
		fetcher:   fetcher,
		bus:       bus,
		logger:    logger,
		cmds:      make(chan func(), cfg.CommandBuffer),
		stopped:   make(chan struct{}),
		registry:  registry.New(),
		history:   cache.NewHistoricalStore(cfg.HistoryRetention),
		bars:      candles.NewAggregator(nil),
		refreshes: make(map[string]*inflight),
		status:    StatusOnline,
	}
	return e.WithClock(cache.RealClock{})
}

// withDefaults fills every unset field from DefaultConfig.
func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MaxQuotes <= 0 {
		c.MaxQuotes = def.MaxQuotes
	}
	if c.HistoryRetention <= 0 {
		c.HistoryRetention = def.HistoryRetention
	}
	if c.OrderBookTTL <= 0 {
		c.OrderBookTTL = def.OrderBookTTL
	}
	if c.DepthLevels <= 0 {
		c.DepthLevels = def.DepthLevels
	}
	if c.QuoteStaleAfter <= 0 {
		c.QuoteStaleAfter = def.QuoteStaleAfter
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = def.DedupWindow
	}
	if c.SequenceIdleTTL <= 0 {
		c.SequenceIdleTTL = def.SequenceIdleTTL
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = def.FetchTimeout
	}
	if c.FeedTimeout <= 0 {
		c.FeedTimeout = def.FeedTimeout
	}
	if c.FeedSilenceAfter <= 0 {
		c.FeedSilenceAfter = def.FeedSilenceAfter
	}
	if c.MaxSubscriptions <= 0 {
		c.MaxSubscriptions = def.MaxSubscriptions
	}
	if c.RefreshParallel <= 0 {
		c.RefreshParallel = def.RefreshParallel
	}
	if c.CommandBuffer <= 0 {
		c.CommandBuffer = def.CommandBuffer
	}
	return c
}

// WithClock replaces the clock. Call before Run.
func (e *Engine) WithClock(c cache.Clock) *Engine {
	e.clock = c
	e.quotes = cache.NewQuoteCache(c)
	e.books = cache.NewOrderBookCache(c, e.cfg.OrderBookTTL)
	e.dedup = dedup.New(e.cfg.DedupWindow).WithClock(c.Now)
	return e
}

// Events subscribes to cache notifications.
func (e *Engine) Events(buffer int) (<-chan events.Event, func()) {
	return e.bus.Subscribe(buffer)
}

// Run owns the caches until ctx is done. It also drives the feed.
func (e *Engine) Run(ctx context.Context) error {
	defer close(e.stopped)

	feedDone := make(chan error, 1)
	go func() { feedDone <- e.feed.Run(ctx, e.Ingest) }()

	e.logger.Info("Engine started")
	for {
		select {
		case fn := <-e.cmds:
			fn()
		case err := <-feedDone:
			feedDone = nil
			if err != nil && ctx.Err() == nil {
				e.logger.Error("Feed stopped", zap.Error(err))
				e.degrade("", fmt.Errorf("feed stopped: %w", err))
			}
		case <-ctx.Done():
			for inst, f := range e.refreshes {
				f.cancel()
				delete(e.refreshes, inst)
			}
			e.logger.Info("Engine stopped")
			return nil
		}
	}
}

// do runs fn on the owner goroutine and waits for it. Once queued, fn is
// waited for even if ctx ends, so its results are never lost.
func (e *Engine) do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	select {
	case e.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-e.stopped:
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-e.stopped:
		return ErrClosed
	}
}

// Ingest queues a feed message. It blocks while the command queue is full.
func (e *Engine) Ingest(msg models.FeedMessage) {
	select {
	case e.cmds <- func() { e.apply(msg) }:
	case <-e.stopped:
	}
}

func (e *Engine) apply(msg models.FeedMessage) {
	e.lastFeedAt = e.clock.Now()
	if e.feedSilent {
		e.feedSilent = false
		e.logger.Info("Feed resumed")
		e.recovered()
	}

	inst := models.NormalizeInstrument(msg.Instrument)
	if !e.registry.IsWatched(inst) {
		e.logger.Debug("Ignoring message for unwatched instrument", zap.String("instrument", inst))
		return
	}
	if !e.dedup.ShouldProcess(inst, msg.Sequence, msg.Observed()) {
		e.logger.Debug("Skipping duplicate update", zap.String("instrument", inst), zap.Int64("seq_id", msg.Sequence))
		return
	}
	if err := msg.Validate(); err != nil {
		e.logger.Debug("Discarding invalid message", zap.String("instrument", inst), zap.Error(err))
		return
	}

	switch msg.Kind {
	case models.KindQuote:
		e.storeQuote(inst, *msg.Quote, cache.SourceFeed)

	case models.KindTrade:
		t := *msg.Trade
		e.publish(events.Event{Kind: events.TradeReceived, Instrument: inst, Source: string(cache.SourceFeed), Trade: &t})
		e.foldTrade(inst, t, msg.Observed())
		q, ok, err := e.quotes.ApplyTrade(inst, t)
		if err != nil {
			e.logger.Debug("Trade rejected", zap.String("instrument", inst), zap.Error(err))
			return
		}
		if ok {
			e.publish(events.Event{Kind: events.QuoteUpdated, Instrument: inst, Source: string(cache.SourceFeed), Quote: &q})
		}

	case models.KindDepth:
		var book models.OrderBookSnapshot
		var err error
		if msg.Depth.Snapshot {
			book = msg.Depth.Book.Clone()
			err = e.books.Put(inst, book, cache.SourceFeed)
		} else {
			book, err = e.books.ApplyDelta(inst, msg.Depth.Book, e.cfg.DepthLevels)
		}
		if err != nil {
			e.logger.Debug("Order book rejected", zap.String("instrument", inst), zap.Error(err))
			return
		}
		e.publish(events.Event{Kind: events.OrderBookUpdated, Instrument: inst, Source: string(cache.SourceFeed), OrderBook: &book})
	}
}

// foldTrade extends the open candle of every cached series of inst.
func (e *Engine) foldTrade(inst string, t models.Trade, observed time.Time) {
	at := t.Timestamp
	if at.IsZero() {
		at = observed
	}
	for _, tf := range e.history.Timeframes(inst) {
		if !e.bars.Open(inst, tf) {
			if last, ok := e.history.Last(inst, tf); ok {
				e.bars.Seed(inst, last)
			}
		}
		c, ok := e.bars.Fold(inst, tf, t, at)
		if !ok {
			continue
		}
		if err := e.history.Append(inst, tf, c); err != nil {
			e.logger.Debug("Candle rejected", zap.String("instrument", inst), zap.String("timeframe", string(tf)), zap.Error(err))
			continue
		}
		e.publish(events.Event{
			Kind:       events.HistoricalDataReceived,
			Instrument: inst,
			Source:     string(cache.SourceFeed),
			Timeframe:  tf,
			Candles:    []models.Candle{c},
		})
	}
}

func (e *Engine) storeQuote(inst string, q models.Quote, src cache.Source) bool {
	if err := e.quotes.Put(inst, q, src); err != nil {
		e.logger.Debug("Quote rejected", zap.String("instrument", inst), zap.Error(err))
		return false
	}
	e.publish(events.Event{Kind: events.QuoteUpdated, Instrument: inst, Source: string(src), Quote: &q})
	return true
}

func (e *Engine) publish(ev events.Event) {
	ev.At = e.clock.Now()
	e.bus.Publish(ev)
}

// degrade records a fetch or feed failure and tells consumers about it.
func (e *Engine) degrade(inst string, err error) {
	e.status = StatusDegraded
	e.lastErr = err.Error()
	e.publish(events.Event{Kind: events.ErrorOccurred, Instrument: inst, Error: err.Error(), Degraded: true})
}

func (e *Engine) recovered() {
	if e.status != StatusOnline {
		e.logger.Info("Upstream recovered")
	}
	e.status = StatusOnline
	e.lastErr = ""
}

// fetchSource tags values coming from the fetcher.
func (e *Engine) fetchSource() cache.Source {
	if fetch.IsSynthetic(e.fetcher) {
		return cache.SourceSynthetic
	}
	return cache.SourceRefresh
}

// fetchErr turns a raw fetch failure into a *models.FetchError.
func fetchErr(op, inst string, err error) error {
	var fe *models.FetchError
	if errors.As(err, &fe) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) && !errors.Is(err, models.ErrTimeout) {
		err = fmt.Errorf("%w: %w", models.ErrTimeout, err)
	}
	return &models.FetchError{Op: op, Instrument: inst, Attempts: 1, Err: err}
}

// coldFetch runs fn once per key at a time, bounded by the fetch timeout.
// The shared call is detached from ctx, so a caller that gives up only stops
// waiting. A nil value with a nil error means the upstream has no data.
func (e *Engine) coldFetch(ctx context.Context, op, key, inst string, fn func(ctx context.Context) (any, error)) (any, error) {
	ch := e.group.DoChan(op+":"+key, func() (any, error) {
		fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.cfg.FetchTimeout)
		defer cancel()
		v, err := fn(fctx)
		if errors.Is(err, models.ErrNotFound) {
			return nil, nil
		}
		if err != nil {
			err = fetchErr(op, inst, err)
			e.logger.Warn("Fetch failed", zap.String("op", op), zap.String("instrument", inst), zap.Error(err))
			if !errors.Is(err, context.Canceled) {
				_ = e.do(context.Background(), func() { e.degrade(inst, err) })
			}
			return nil, err
		}
		return v, nil
	})

	select {
	case r := <-ch:
		return r.Val, r.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// GetQuote returns the cached quote, fetching it on a cold miss. found is
// false when neither the cache nor the upstream has anything.
func (e *Engine) GetQuote(ctx context.Context, instrument string) (q models.Quote, found bool, err error) {
	inst := models.NormalizeInstrument(instrument)
	if err := e.do(ctx, func() { q, found = e.quotes.Get(inst) }); err != nil {
		return models.Quote{}, false, err
	}
	if found {
		return q, true, nil
	}

	v, err := e.coldFetch(ctx, "fetch_quote", inst, inst, func(ctx context.Context) (any, error) {
		return e.fetcher.FetchQuote(ctx, inst)
	})
	if err != nil || v == nil {
		return models.Quote{}, false, err
	}

	err = e.do(ctx, func() {
		e.recovered()
		if e.storeQuote(inst, v.(models.Quote), e.fetchSource()) {
			q, found = e.quotes.Get(inst)
		}
	})
	return q, found, err
}

// GetCandles returns up to limit of the newest candles (all when limit <= 0).
// The retention window is fetched on a cold miss, once the series is older
// than one period, and when the cache holds fewer candles than limit. A
// failed refetch falls back to the cached series.
func (e *Engine) GetCandles(ctx context.Context, instrument string, tf models.Timeframe, limit int) ([]models.Candle, error) {
	inst := models.NormalizeInstrument(instrument)
	if tf.Duration() == 0 {
		return nil, &models.ValidationError{Field: "timeframe", Reason: fmt.Sprintf("unknown timeframe %q", tf)}
	}

	var series []models.Candle
	var refetch bool
	if err := e.do(ctx, func() {
		series = e.history.Get(inst, tf)
		refetch = e.needsFetch(inst, tf, len(series), limit)
	}); err != nil {
		return nil, err
	}

	if refetch {
		fetched, err := e.fetchSeries(ctx, inst, tf)
		switch {
		case err == nil:
			series = fetched
		case len(series) == 0 || ctx.Err() != nil:
			return nil, err
		default:
			e.logger.Debug("Serving cached candles", zap.String("instrument", inst), zap.String("timeframe", string(tf)), zap.Error(err))
		}
	}

	if limit > 0 && len(series) > limit {
		series = series[len(series)-limit:]
	}
	return series, nil
}

// needsFetch decides whether a series must be loaded from the upstream.
func (e *Engine) needsFetch(inst string, tf models.Timeframe, have, limit int) bool {
	at, ok := e.history.FetchedAt(inst, tf)
	switch {
	case !ok || have == 0:
		return true
	case e.clock.Now().Sub(at) >= tf.Duration():
		return true
	default:
		return limit > have && have < e.cfg.HistoryRetention
	}
}

// fetchSeries loads the retention window of a series and merges it into the
// store. Live candles newer than the upstream's are kept.
func (e *Engine) fetchSeries(ctx context.Context, inst string, tf models.Timeframe) ([]models.Candle, error) {
	rng := models.LastPeriods(tf, e.cfg.HistoryRetention, e.clock.Now())
	v, err := e.coldFetch(ctx, "fetch_candles", inst+":"+string(tf), inst, func(ctx context.Context) (any, error) {
		return e.fetcher.FetchCandles(ctx, inst, tf, rng)
	})
	if err != nil {
		return nil, err
	}

	var series []models.Candle
	err = e.do(ctx, func() {
		e.history.MarkFetched(inst, tf, e.clock.Now())
		if v != nil {
			e.recovered()
			if rejected := e.history.Merge(inst, tf, v.([]models.Candle)); rejected > 0 {
				e.logger.Debug("Discarded invalid candles", zap.String("instrument", inst), zap.Int("rejected", rejected))
			}
			if last, ok := e.history.Last(inst, tf); ok {
				e.bars.Seed(inst, last)
			}
		}
		series = e.history.Get(inst, tf)
		if v != nil {
			e.publish(events.Event{
				Kind:       events.HistoricalDataReceived,
				Instrument: inst,
				Source:     string(e.fetchSource()),
				Timeframe:  tf,
				Candles:    series,
			})
		}
	})
	return series, err
}

// GetOrderBook returns the unexpired snapshot, fetching on a miss.
func (e *Engine) GetOrderBook(ctx context.Context, instrument string) (book models.OrderBookSnapshot, found bool, err error) {
	inst := models.NormalizeInstrument(instrument)
	if err := e.do(ctx, func() { book, found = e.books.Get(inst) }); err != nil {
		return models.OrderBookSnapshot{}, false, err
	}
	if found {
		return book, true, nil
	}

	v, err := e.coldFetch(ctx, "fetch_order_book", inst, inst, func(ctx context.Context) (any, error) {
		return e.fetcher.FetchOrderBook(ctx, inst)
	})
	if err != nil || v == nil {
		return models.OrderBookSnapshot{}, false, err
	}

	err = e.do(ctx, func() {
		e.recovered()
		fetched := v.(models.OrderBookSnapshot)
		src := e.fetchSource()
		if err := e.books.Put(inst, fetched, src); err != nil {
			e.logger.Debug("Order book rejected", zap.String("instrument", inst), zap.Error(err))
			return
		}
		book, found = e.books.Get(inst)
		snap := book.Clone()
		e.publish(events.Event{Kind: events.OrderBookUpdated, Instrument: inst, Source: string(src), OrderBook: &snap})
	})
	return book, found, err
}

// Subscribe registers interest in an instrument. The first subscriber opens
// the feed subscription; the returned handle's Release undoes it.
func (e *Engine) Subscribe(ctx context.Context, instrument string) (*registry.Handle, error) {
	inst := models.NormalizeInstrument(instrument)
	if inst == "" {
		return nil, &models.ValidationError{Field: "instrument", Reason: "empty instrument key"}
	}

	var h *registry.Handle
	var subErr error
	err := e.do(ctx, func() {
		if !e.registry.IsWatched(inst) && e.registry.Len() >= e.cfg.MaxSubscriptions {
			subErr = &models.ValidationError{
				Field:  "instrument",
				Reason: fmt.Sprintf("subscription limit of %d instruments reached", e.cfg.MaxSubscriptions),
			}
			return
		}
		if e.registry.Len() == 0 {
			e.watchedSince = e.clock.Now()
		}
		handle, first := e.registry.Acquire(inst, e.clock.Now())
		if first {
			fctx, cancel := context.WithTimeout(context.Background(), e.cfg.FeedTimeout)
			defer cancel()
			if err := e.feed.Subscribe(fctx, inst); err != nil {
				e.registry.Release(handle)
				subErr = fmt.Errorf("subscribe %s: %w", inst, err)
				e.logger.Error("Failed to subscribe upstream", zap.String("instrument", inst), zap.Error(err))
				e.degrade(inst, subErr)
				return
			}
		}
		handle.Bind(func(h *registry.Handle) { _ = e.Unsubscribe(context.Background(), h) })
		h = handle
		e.publish(events.Event{Kind: events.SubscriptionChanged, Instrument: inst, Subscribers: e.registry.Count(inst)})
	})
	if err != nil {
		return nil, err
	}
	return h, subErr
}

// Unsubscribe drops the handle's reference. The last one closes the feed
// subscription and cancels a refresh in flight for the instrument.
// Releasing the same handle twice is a no-op.
func (e *Engine) Unsubscribe(ctx context.Context, h *registry.Handle) error {
	if h == nil {
		return nil
	}
	return e.do(ctx, func() {
		inst, last, ok := e.registry.Release(h)
		if !ok {
			return
		}
		if last {
			if f, busy := e.refreshes[inst]; busy {
				f.cancel()
				delete(e.refreshes, inst)
			}
			fctx, cancel := context.WithTimeout(context.Background(), e.cfg.FeedTimeout)
			defer cancel()
			if err := e.feed.Unsubscribe(fctx, inst); err != nil {
				e.logger.Error("Failed to unsubscribe upstream", zap.String("instrument", inst), zap.Error(err))
			}
		}
		e.publish(events.Event{Kind: events.SubscriptionChanged, Instrument: inst, Subscribers: e.registry.Count(inst)})
	})
}

// RefreshStale checks feed health and re-fetches the quote of every watched
// instrument that is stale. Failures are reported per instrument and keep
// the old entry.
func (e *Engine) RefreshStale(ctx context.Context) (RefreshReport, error) {
	type target struct {
		inst string
		f    *inflight
	}
	var targets []target
	err := e.do(ctx, func() {
		e.checkFeed()
		for _, inst := range e.registry.Instruments() {
			if !e.quotes.IsStale(inst, e.cfg.QuoteStaleAfter) {
				continue
			}
			if _, busy := e.refreshes[inst]; busy {
				continue
			}
			fctx, cancel := context.WithTimeout(ctx, e.cfg.FetchTimeout)
			f := &inflight{ctx: fctx, cancel: cancel}
			e.refreshes[inst] = f
			targets = append(targets, target{inst: inst, f: f})
		}
	})
	if err != nil {
		return RefreshReport{}, err
	}

	results := make([]bool, len(targets))
	var g errgroup.Group
	g.SetLimit(e.cfg.RefreshParallel)
	for i, t := range targets {
		g.Go(func() error {
			results[i] = e.refreshOne(t.inst, t.f)
			return nil
		})
	}
	_ = g.Wait()

	report := RefreshReport{Attempted: len(targets)}
	for _, ok := range results {
		if ok {
			report.Refreshed++
		} else {
			report.Failed++
		}
	}
	return report, nil
}

// checkFeed degrades the engine when instruments are watched but the feed
// has delivered nothing for longer than FeedSilenceAfter.
func (e *Engine) checkFeed() {
	if e.registry.Len() == 0 {
		return
	}
	since := e.lastFeedAt
	if e.watchedSince.After(since) {
		since = e.watchedSince
	}
	silent := e.clock.Now().Sub(since)
	if silent <= e.cfg.FeedSilenceAfter {
		return
	}
	e.feedSilent = true
	e.logger.Warn("Feed is silent", zap.Duration("silent_for", silent), zap.Int("subscriptions", e.registry.Len()))
	e.degrade("", fmt.Errorf("no feed message for %s", silent.Round(time.Second)))
}

func (e *Engine) refreshOne(inst string, f *inflight) bool {
	q, err := e.fetcher.FetchQuote(f.ctx, inst)
	cancelled := errors.Is(f.ctx.Err(), context.Canceled)

	ok := false
	_ = e.do(context.Background(), func() {
		if cur := e.refreshes[inst]; cur == f {
			delete(e.refreshes, inst)
		}
		f.cancel()

		switch {
		case cancelled:
			e.logger.Debug("Refresh cancelled", zap.String("instrument", inst))
		case errors.Is(err, models.ErrNotFound):
			e.logger.Debug("Refresh found no data", zap.String("instrument", inst))
		case err != nil:
			err = fetchErr("fetch_quote", inst, err)
			e.logger.Warn("Refresh failed", zap.String("instrument", inst), zap.Error(err))
			e.degrade(inst, err)
		default:
			e.recovered()
			ok = e.storeQuote(inst, q, e.fetchSource())
		}
	})
	return ok
}

// Cleanup evicts excess quotes, trims history, expires order books and
// prunes idle sequence records.
func (e *Engine) Cleanup(ctx context.Context) (events.CleanupReport, error) {
	var report events.CleanupReport
	err := e.do(ctx, func() {
		report.QuotesEvicted = len(e.quotes.EvictLRU(e.cfg.MaxQuotes))
		report.CandlesTrimmed = e.history.Trim(e.cfg.HistoryRetention)
		report.OrderBooksExpired = e.books.Expire()
		report.SequencesPruned = e.dedup.Prune(e.clock.Now(), e.cfg.SequenceIdleTTL)

		r := report
		e.publish(events.Event{Kind: events.CleanupCompleted, Cleanup: &r})
		e.logger.Info("Cleanup completed",
			zap.Int("quotes_evicted", report.QuotesEvicted),
			zap.Int("candles_trimmed", report.CandlesTrimmed),
			zap.Int("order_books_expired", report.OrderBooksExpired),
			zap.Int("sequences_pruned", report.SequencesPruned))
	})
	return report, err
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	err := e.do(ctx, func() {
		s = Stats{
			Quotes:          e.quotes.Stats(),
			Series:          e.history.Len(),
			OrderBooks:      e.books.Len(),
			Subscriptions:   e.registry.Len(),
			SequenceRecords: e.dedup.Len(),
			EventsDropped:   e.bus.Dropped(),
			LastFeedMessage: e.lastFeedAt,
			Status:          e.status,
			LastError:       e.lastErr,
		}
	})
	return s, err
}

// Subscribed lists watched instruments with their reference counts.
func (e *Engine) Subscribed(ctx context.Context) (map[string]int, error) {
	out := make(map[string]int)
	err := e.do(ctx, func() {
		for _, inst := range e.registry.Instruments() {
			out[inst] = e.registry.Count(inst)
		}
	})
	return out, err
}
