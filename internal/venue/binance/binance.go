// Package binance implements venue.Connector against Binance USD-M futures,
// wired from github.com/adshao/go-binance/v2 — a real dependency of the
// retrieved pack (poorman-SynapseStrike/go.mod). Grounded on the teacher's
// exchange.Client shape: one client struct wrapping the vendor SDK, a
// TokenBucket guarding every call, credentials loaded from config rather
// than hardcoded.
package binance

import (
	"context"
	"fmt"
	"strconv"
	"time"

	sdk "github.com/adshao/go-binance/v2/futures"

	"quantcore/internal/venue"
	"quantcore/pkg/types"
)

// intervalOf maps a BarAggregation to Binance's kline interval string.
var intervalOf = map[types.BarAggregation]string{
	types.Bar1m:  "1m",
	types.Bar5m:  "5m",
	types.Bar15m: "15m",
	types.Bar1h:  "1h",
	types.Bar4h:  "4h",
	types.Bar1d:  "1d",
}

// Connector wraps the Binance USD-M futures REST client behind venue.Connector.
type Connector struct {
	client  *sdk.Client
	limiter *venue.TokenBucket
}

// New constructs a Connector. baseURL overrides the SDK default when set
// (testnet, or a proxy); apiKey/apiSecret may be empty for market-data-only
// use (public endpoints need no signature).
func New(baseURL, apiKey, apiSecret string, rateLimitPerMin int) *Connector {
	c := sdk.NewClient(apiKey, apiSecret)
	if baseURL != "" {
		c.BaseURL = baseURL
	}
	return &Connector{
		client:  c,
		limiter: venue.NewTokenBucket(rateLimitPerMin),
	}
}

func (c *Connector) Name() string { return "binance" }

func (c *Connector) wait(ctx context.Context) error {
	return c.limiter.Wait(ctx)
}

func (c *Connector) GetTicker(ctx context.Context, instrument string) (types.Ticker, error) {
	if err := c.wait(ctx); err != nil {
		return types.Ticker{}, err
	}
	stats, err := c.client.NewListPriceChangeStatsService().Symbol(instrument).Do(ctx)
	if err != nil {
		return types.Ticker{}, fmt.Errorf("binance: 24hr ticker %s: %w", instrument, err)
	}
	if len(stats) == 0 {
		return types.Ticker{}, fmt.Errorf("binance: no ticker data for %s", instrument)
	}
	s := stats[0]
	return types.Ticker{
		Instrument: instrument,
		LastPrice:  parseFloat(s.LastPrice),
		Volume24h:  parseFloat(s.Volume),
		High24h:    parseFloat(s.HighPrice),
		Low24h:     parseFloat(s.LowPrice),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *Connector) GetKlines(ctx context.Context, instrument string, agg types.BarAggregation, start, end time.Time) ([]types.MarketBar, error) {
	interval, ok := intervalOf[agg]
	if !ok {
		return nil, fmt.Errorf("binance: unsupported aggregation %s", agg)
	}
	if err := c.wait(ctx); err != nil {
		return nil, err
	}

	raw, err := c.client.NewKlinesService().
		Symbol(instrument).
		Interval(interval).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(1500).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: klines %s %s: %w", instrument, agg, err)
	}

	bars := make([]types.MarketBar, 0, len(raw))
	for _, k := range raw {
		bars = append(bars, types.MarketBar{
			Instrument:  instrument,
			Aggregation: agg,
			OpenTime:    time.UnixMilli(k.OpenTime).UTC(),
			Open:        parseFloat(k.Open),
			High:        parseFloat(k.High),
			Low:         parseFloat(k.Low),
			Close:       parseFloat(k.Close),
			Volume:      parseFloat(k.Volume),
			CloseTime:   time.UnixMilli(k.CloseTime).UTC(),
		})
	}
	return bars, nil
}

func (c *Connector) GetFundingRate(ctx context.Context, instrument string) (types.FundingRate, error) {
	if err := c.wait(ctx); err != nil {
		return types.FundingRate{}, err
	}
	idx, err := c.client.NewPremiumIndexService().Symbol(instrument).Do(ctx)
	if err != nil {
		return types.FundingRate{}, fmt.Errorf("binance: premium index %s: %w", instrument, err)
	}
	if len(idx) == 0 {
		return types.FundingRate{}, fmt.Errorf("binance: no premium index for %s", instrument)
	}
	p := idx[0]
	return types.FundingRate{
		Instrument:      instrument,
		Rate:            parseFloat(p.LastFundingRate),
		NextFundingTime: time.UnixMilli(p.NextFundingTime).UTC(),
	}, nil
}

func (c *Connector) GetFundingRateHistory(ctx context.Context, instrument string, start, end time.Time) ([]types.FundingRate, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	raw, err := c.client.NewFundingRateService().
		Symbol(instrument).
		StartTime(start.UnixMilli()).
		EndTime(end.UnixMilli()).
		Limit(1000).
		Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: funding rate history %s: %w", instrument, err)
	}
	out := make([]types.FundingRate, 0, len(raw))
	for _, r := range raw {
		out = append(out, types.FundingRate{
			Instrument:      instrument,
			Rate:            parseFloat(r.FundingRate),
			NextFundingTime: time.UnixMilli(r.FundingTime).UTC(),
		})
	}
	return out, nil
}

func (c *Connector) GetOrderbook(ctx context.Context, instrument string, depth int) (types.OrderBook, error) {
	if err := c.wait(ctx); err != nil {
		return types.OrderBook{}, err
	}
	if depth <= 0 {
		depth = 20
	}
	d, err := c.client.NewDepthService().Symbol(instrument).Limit(depth).Do(ctx)
	if err != nil {
		return types.OrderBook{}, fmt.Errorf("binance: depth %s: %w", instrument, err)
	}
	book := types.OrderBook{Instrument: instrument, Timestamp: time.Now().UTC()}
	for _, b := range d.Bids {
		book.Bids = append(book.Bids, types.PriceLevel{Price: parseFloat(b.Price), Quantity: parseFloat(b.Quantity)})
	}
	for _, a := range d.Asks {
		book.Asks = append(book.Asks, types.PriceLevel{Price: parseFloat(a.Price), Quantity: parseFloat(a.Quantity)})
	}
	return book, nil
}

func (c *Connector) GetMarkPrice(ctx context.Context, instrument string) (float64, error) {
	if err := c.wait(ctx); err != nil {
		return 0, err
	}
	idx, err := c.client.NewPremiumIndexService().Symbol(instrument).Do(ctx)
	if err != nil {
		return 0, fmt.Errorf("binance: mark price %s: %w", instrument, err)
	}
	if len(idx) == 0 {
		return 0, fmt.Errorf("binance: no mark price for %s", instrument)
	}
	return parseFloat(idx[0].MarkPrice), nil
}

func (c *Connector) PlaceOrder(ctx context.Context, order *types.Order) (types.Fill, error) {
	if err := c.wait(ctx); err != nil {
		return types.Fill{}, err
	}
	side := sdk.SideTypeBuy
	if order.Side == types.Sell {
		side = sdk.SideTypeSell
	}

	svc := c.client.NewCreateOrderService().Symbol(order.Instrument).Side(side).
		Quantity(strconv.FormatFloat(order.Quantity, 'f', -1, 64))

	switch order.Kind {
	case types.OrderLimit:
		svc = svc.Type(sdk.OrderTypeLimit).TimeInForce(sdk.TimeInForceTypeGTC)
		if order.LimitPrice != nil {
			svc = svc.Price(strconv.FormatFloat(*order.LimitPrice, 'f', -1, 64))
		}
	default:
		svc = svc.Type(sdk.OrderTypeMarket)
	}

	resp, err := svc.Do(ctx)
	if err != nil {
		return types.Fill{}, fmt.Errorf("binance: place order %s: %w", order.Instrument, err)
	}

	return types.Fill{
		OrderID:    strconv.FormatInt(resp.OrderID, 10),
		Instrument: order.Instrument,
		Side:       order.Side,
		Price:      parseFloat(resp.AvgPrice),
		Quantity:   parseFloat(resp.ExecutedQuantity),
		Timestamp:  time.Now().UTC(),
	}, nil
}

func (c *Connector) CancelOrder(ctx context.Context, instrument, orderID string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	id, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return fmt.Errorf("binance: invalid order id %s: %w", orderID, err)
	}
	_, err = c.client.NewCancelOrderService().Symbol(instrument).OrderID(id).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: cancel order %s/%s: %w", instrument, orderID, err)
	}
	return nil
}

func (c *Connector) GetBalances(ctx context.Context) (types.Balance, error) {
	if err := c.wait(ctx); err != nil {
		return types.Balance{}, err
	}
	balances, err := c.client.NewGetBalanceService().Do(ctx)
	if err != nil {
		return types.Balance{}, fmt.Errorf("binance: get balances: %w", err)
	}
	var bal types.Balance
	for _, b := range balances {
		if b.Asset != "USDT" {
			continue
		}
		bal.Total = parseFloat(b.Balance)
		bal.Available = parseFloat(b.AvailableBalance)
		bal.Locked = bal.Total - bal.Available
	}
	return bal, nil
}

func (c *Connector) GetPositions(ctx context.Context) ([]types.Position, error) {
	if err := c.wait(ctx); err != nil {
		return nil, err
	}
	risks, err := c.client.NewGetPositionRiskService().Do(ctx)
	if err != nil {
		return nil, fmt.Errorf("binance: get position risk: %w", err)
	}
	out := make([]types.Position, 0, len(risks))
	for _, r := range risks {
		qty := parseFloat(r.PositionAmt)
		if qty == 0 {
			continue
		}
		side := types.Long
		if qty < 0 {
			side = types.Short
			qty = -qty
		}
		out = append(out, types.Position{
			Instrument:    r.Symbol,
			Side:          side,
			Quantity:      qty,
			AvgEntryPrice: parseFloat(r.EntryPrice),
			UnrealizedPnL: parseFloat(r.UnRealizedProfit),
			UpdatedAt:     time.Now().UTC(),
		})
	}
	return out, nil
}

func (c *Connector) SetLeverage(ctx context.Context, instrument string, leverage int) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	_, err := c.client.NewChangeLeverageService().Symbol(instrument).Leverage(leverage).Do(ctx)
	if err != nil {
		return fmt.Errorf("binance: set leverage %s: %w", instrument, err)
	}
	return nil
}

func (c *Connector) SetMarginType(ctx context.Context, instrument string, marginType string) error {
	if err := c.wait(ctx); err != nil {
		return err
	}
	mt := sdk.MarginTypeIsolated
	if marginType == "CROSSED" || marginType == "CROSS" {
		mt = sdk.MarginTypeCrossed
	}
	if err := c.client.NewChangeMarginTypeService().Symbol(instrument).MarginType(mt).Do(ctx); err != nil {
		return fmt.Errorf("binance: set margin type %s: %w", instrument, err)
	}
	return nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}
