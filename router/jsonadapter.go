package router

import (
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/valyala/fastjson"

	mdkernel "github.com/marketflux/mdkernel"
)

// fastjson parsers are not safe for concurrent use; pool one per goroutine
// that calls the ParseX helpers below.
var parserPool fastjson.ParserPool

// ParseTradeJSON decodes a MarketTradeUpdate from a raw adapter JSON
// payload using a zero-allocation fastjson parse, avoiding the reflection
// cost of encoding/json on the hot ingestion path.
func ParseTradeJSON(raw []byte) (mdkernel.MarketTradeUpdate, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return mdkernel.MarketTradeUpdate{}, fmt.Errorf("parse trade json: %w", err)
	}

	price, err := decimalField(v, "price")
	if err != nil {
		return mdkernel.MarketTradeUpdate{}, err
	}

	return mdkernel.MarketTradeUpdate{
		TimestampUTC: v.GetInt64("timestamp_utc"),
		Symbol:       string(v.GetStringBytes("symbol")),
		Price:        price,
		Size:         v.GetInt64("size"),
		Sequence:     v.GetInt64("sequence"),
		Aggressor:    mdkernel.Aggressor(v.GetUint("aggressor")),
		StreamID:     string(v.GetStringBytes("stream_id")),
		Venue:        string(v.GetStringBytes("venue")),
	}, nil
}

// ParseQuoteJSON decodes a MarketQuoteUpdate from a raw adapter JSON payload.
func ParseQuoteJSON(raw []byte) (mdkernel.MarketQuoteUpdate, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return mdkernel.MarketQuoteUpdate{}, fmt.Errorf("parse quote json: %w", err)
	}

	bid, err := decimalField(v, "bid_price")
	if err != nil {
		return mdkernel.MarketQuoteUpdate{}, err
	}
	ask, err := decimalField(v, "ask_price")
	if err != nil {
		return mdkernel.MarketQuoteUpdate{}, err
	}

	return mdkernel.MarketQuoteUpdate{
		TimestampUTC: v.GetInt64("timestamp_utc"),
		Symbol:       string(v.GetStringBytes("symbol")),
		BidPrice:     bid,
		BidSize:      v.GetInt64("bid_size"),
		AskPrice:     ask,
		AskSize:      v.GetInt64("ask_size"),
		StreamID:     string(v.GetStringBytes("stream_id")),
		Venue:        string(v.GetStringBytes("venue")),
	}, nil
}

// ParseDepthJSON decodes a MarketDepthUpdate from a raw adapter JSON payload.
func ParseDepthJSON(raw []byte) (mdkernel.MarketDepthUpdate, error) {
	p := parserPool.Get()
	defer parserPool.Put(p)

	v, err := p.ParseBytes(raw)
	if err != nil {
		return mdkernel.MarketDepthUpdate{}, fmt.Errorf("parse depth json: %w", err)
	}

	price, err := decimalField(v, "price")
	if err != nil {
		return mdkernel.MarketDepthUpdate{}, err
	}
	size, err := decimalField(v, "size")
	if err != nil {
		return mdkernel.MarketDepthUpdate{}, err
	}

	return mdkernel.MarketDepthUpdate{
		TimestampUTC: v.GetInt64("timestamp_utc"),
		Symbol:       string(v.GetStringBytes("symbol")),
		Position:     uint16(v.GetUint("position")),
		Operation:    mdkernel.DepthOperation(v.GetUint("operation")),
		Side:         mdkernel.Side(v.GetUint("side")),
		Price:        price,
		Size:         size,
		StreamID:     string(v.GetStringBytes("stream_id")),
		Venue:        string(v.GetStringBytes("venue")),
	}, nil
}

func decimalField(v *fastjson.Value, field string) (decimal.Decimal, error) {
	sv := v.Get(field)
	if sv == nil {
		return decimal.Zero, nil
	}
	switch sv.Type() {
	case fastjson.TypeString:
		s, _ := sv.StringBytes()
		return decimal.NewFromString(string(s))
	default:
		f, err := sv.Float64()
		if err != nil {
			return decimal.Zero, fmt.Errorf("field %q: %w", field, err)
		}
		return decimal.NewFromFloat(f), nil
	}
}
