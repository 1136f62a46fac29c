package collector_test

import (
	"time"

	"github.com/marketflux/mdkernel/collector"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func trade(seq int64) mdkernel.MarketTradeUpdate {
	return mdkernel.MarketTradeUpdate{
		Symbol: "AAPL", Price: decimal.NewFromInt(100), Size: 10, Sequence: seq,
	}
}

var _ = Describe("TradeCollector", func() {
	It("accepts a trade after a sequence gap without discarding history", func() {
		tc := collector.NewTradeCollector(nil)

		ev100 := tc.OnTrade(trade(100))
		Expect(ev100).To(HaveLen(2))
		Expect(ev100[0].Kind).To(Equal(mdkernel.EventKindTrade))
		Expect(ev100[1].Kind).To(Equal(mdkernel.EventKindOrderFlow))

		ev101 := tc.OnTrade(trade(101))
		Expect(ev101).To(HaveLen(2))

		ev104 := tc.OnTrade(trade(104))
		Expect(ev104).To(HaveLen(3))
		Expect(ev104[0].Kind).To(Equal(mdkernel.EventKindIntegrity))
		Expect(ev104[0].Integrity.Code).To(Equal(mdkernel.CodeSequenceGap))
		Expect(ev104[0].Integrity.Severity).To(Equal(mdkernel.SeverityError))
		Expect(ev104[1].Kind).To(Equal(mdkernel.EventKindTrade))
		Expect(ev104[2].OrderFlow.TradeCount).To(Equal(int64(3)))
	})

	It("rejects a duplicate/out-of-order sequence without emitting a Trade event", func() {
		tc := collector.NewTradeCollector(nil)
		tc.OnTrade(trade(10))
		tc.OnTrade(trade(11))

		events := tc.OnTrade(trade(11))
		Expect(events).To(HaveLen(1))
		Expect(events[0].Kind).To(Equal(mdkernel.EventKindIntegrity))
		Expect(events[0].Integrity.Code).To(Equal(mdkernel.CodeOutOfOrder))

		Expect(tc.GetRecent("AAPL", 10)).To(HaveLen(2))
	})

	It("rejects invalid symbols with an Integrity event and no state change", func() {
		tc := collector.NewTradeCollector(nil)
		events := tc.OnTrade(mdkernel.MarketTradeUpdate{Symbol: "", Price: decimal.NewFromInt(1), Size: 1, Sequence: 1})
		Expect(events).To(HaveLen(1))
		Expect(events[0].Integrity.Code).To(Equal(mdkernel.CodeInvalidSymbol))
	})

	It("rejects negative sequence numbers", func() {
		tc := collector.NewTradeCollector(nil)
		events := tc.OnTrade(mdkernel.MarketTradeUpdate{Symbol: "AAPL", Price: decimal.NewFromInt(1), Size: 1, Sequence: -1})
		Expect(events).To(HaveLen(1))
		Expect(events[0].Integrity.Code).To(Equal(mdkernel.CodeInvalidSequence))
	})

	It("treats sequence 0 as a valid, meaningful sequence", func() {
		tc := collector.NewTradeCollector(nil)
		events := tc.OnTrade(trade(0))
		Expect(events[0].Kind).To(Equal(mdkernel.EventKindTrade))
		Expect(events[0].Trade.Sequence).To(Equal(int64(0)))
	})

	It("infers Buy aggressor when price lifts the ask", func() {
		quotes := collector.NewQuoteCollector()
		quotes.OnQuote(mdkernel.MarketQuoteUpdate{
			Symbol: "AAPL", BidPrice: decimal.NewFromFloat(100.00), AskPrice: decimal.NewFromFloat(100.05),
		})
		tc := collector.NewTradeCollector(quotes)

		events := tc.OnTrade(mdkernel.MarketTradeUpdate{
			Symbol: "AAPL", Price: decimal.NewFromFloat(100.05), Size: 200, Sequence: 1,
			Aggressor: mdkernel.AggressorUnknown,
		})
		Expect(events[0].Trade.Aggressor).To(Equal(mdkernel.AggressorBuy))
		Expect(events[1].OrderFlow.BuyVolume).To(Equal(int64(200)))
		Expect(events[1].OrderFlow.Imbalance).To(Equal(1.0))
	})

	It("computes VWAP matching an independent calculation; an unknown symbol has no recent trades", func() {
		tc := collector.NewTradeCollector(nil)
		Expect(tc.GetRecent("NEW", 1)).To(BeNil())

		tc.OnTrade(mdkernel.MarketTradeUpdate{Symbol: "MSFT", Price: decimal.NewFromInt(100), Size: 10, Sequence: 1})
		events := tc.OnTrade(mdkernel.MarketTradeUpdate{Symbol: "MSFT", Price: decimal.NewFromInt(110), Size: 30, Sequence: 2})

		want := decimal.NewFromInt(100).Mul(decimal.NewFromInt(10)).Add(decimal.NewFromInt(110).Mul(decimal.NewFromInt(30))).Div(decimal.NewFromInt(40))
		Expect(events[1].OrderFlow.Vwap.Equal(want)).To(BeTrue())
	})

	It("keeps imbalance within [-1, 1]", func() {
		tc := collector.NewTradeCollector(nil)
		ev := tc.OnTrade(mdkernel.MarketTradeUpdate{
			Symbol: "AAPL", Price: decimal.NewFromInt(1), Size: 500, Sequence: 1, Aggressor: mdkernel.AggressorSell,
		})
		Expect(ev[1].OrderFlow.Imbalance).To(BeNumerically(">=", -1.0))
		Expect(ev[1].OrderFlow.Imbalance).To(BeNumerically("<=", 1.0))
	})

	It("GetRecent returns newest-first, capped at 200", func() {
		tc := collector.NewTradeCollector(nil)
		for i := int64(0); i < 205; i++ {
			tc.OnTrade(trade(i))
		}
		recent := tc.GetRecent("AAPL", 300)
		Expect(recent).To(HaveLen(200))
		Expect(recent[0].Sequence).To(Equal(int64(204)))
	})

	It("SweepIdle evicts a symbol untouched for over an hour", func() {
		tc := collector.NewTradeCollector(nil)
		tc.OnTrade(trade(1))
		removed := tc.SweepIdle(time.Now().Add(2 * time.Hour).UnixMicro())
		Expect(removed).To(Equal(1))
		Expect(tc.GetRecent("AAPL", 10)).To(BeEmpty())
	})
})
