package collector_test

import (
	"time"

	"github.com/marketflux/mdkernel/collector"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func depthUpdate(ts int64, pos uint16, op mdkernel.DepthOperation, side mdkernel.Side, price, size float64) mdkernel.MarketDepthUpdate {
	return mdkernel.MarketDepthUpdate{
		TimestampUTC: ts, Symbol: "AAPL", Position: pos, Operation: op, Side: side,
		Price: decimal.NewFromFloat(price), Size: decimal.NewFromFloat(size),
	}
}

var _ = Describe("DepthCollector", func() {
	It("produces the expected bid snapshots across Insert/Insert/Delete", func() {
		dc := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())

		ev1 := dc.OnDepth(depthUpdate(1, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 99.99, 10))
		Expect(ev1[0].L2Snapshot.Bids).To(HaveLen(1))
		Expect(ev1[0].L2Snapshot.Bids[0].Level).To(Equal(uint16(0)))
		Expect(ev1[0].L2Snapshot.Bids[0].Price.Equal(decimal.NewFromFloat(99.99))).To(BeTrue())

		ev2 := dc.OnDepth(depthUpdate(2, 1, mdkernel.DepthOpInsert, mdkernel.SideBid, 99.98, 5))
		Expect(ev2[0].L2Snapshot.Bids).To(HaveLen(2))
		Expect(ev2[0].L2Snapshot.Bids[1].Level).To(Equal(uint16(1)))

		ev3 := dc.OnDepth(depthUpdate(3, 0, mdkernel.DepthOpDelete, mdkernel.SideBid, 0, 0))
		Expect(ev3[0].L2Snapshot.Bids).To(HaveLen(1))
		Expect(ev3[0].L2Snapshot.Bids[0].Price.Equal(decimal.NewFromFloat(99.98))).To(BeTrue())
		Expect(ev3[0].L2Snapshot.Bids[0].Level).To(Equal(uint16(0)))
	})

	It("transitions to Stale on corruption, rejects further deltas, and recovers after reset", func() {
		dc := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())

		ev1 := dc.OnDepth(depthUpdate(1, 0, mdkernel.DepthOpUpdate, mdkernel.SideBid, 1, 1))
		Expect(ev1[0].Kind).To(Equal(mdkernel.EventKindDepthIntegrity))
		Expect(ev1[0].DepthIntegrity.Kind).To(Equal(mdkernel.DepthIntegrityOutOfOrder))
		Expect(dc.IsStale("AAPL")).To(BeTrue())

		ev2 := dc.OnDepth(depthUpdate(2, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 1, 1))
		Expect(ev2[0].DepthIntegrity.Kind).To(Equal(mdkernel.DepthIntegrityStale))

		dc.Reset("AAPL")
		Expect(dc.IsStale("AAPL")).To(BeFalse())

		ev3 := dc.OnDepth(depthUpdate(3, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 1, 1))
		Expect(ev3[0].Kind).To(Equal(mdkernel.EventKindL2Snapshot))
	})

	It("keeps level indices consecutive after any prefix of deltas", func() {
		dc := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())
		dc.OnDepth(depthUpdate(1, 0, mdkernel.DepthOpInsert, mdkernel.SideAsk, 100, 1))
		dc.OnDepth(depthUpdate(2, 1, mdkernel.DepthOpInsert, mdkernel.SideAsk, 101, 1))
		dc.OnDepth(depthUpdate(3, 2, mdkernel.DepthOpInsert, mdkernel.SideAsk, 102, 1))
		ev := dc.OnDepth(depthUpdate(4, 1, mdkernel.DepthOpDelete, mdkernel.SideAsk, 0, 0))
		for i, lvl := range ev[0].L2Snapshot.Asks {
			Expect(lvl.Level).To(Equal(uint16(i)))
		}
	})

	It("triggers exactly one auto-reset after three DepthIntegrity events within the window", func() {
		cfg := collector.DepthCollectorConfig{AutoResetThreshold: 3, AutoResetWindow: 15 * time.Second}
		dc := collector.NewDepthCollector(cfg)

		base := int64(0)
		dc.OnDepth(depthUpdate(base, 0, mdkernel.DepthOpUpdate, mdkernel.SideBid, 1, 1))   // fail 1 -> stale
		dc.OnDepth(depthUpdate(base+1_000_000, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 1, 1)) // fail 2 (Stale rejection)
		dc.OnDepth(depthUpdate(base+2_000_000, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 1, 1)) // fail 3 -> auto reset fires

		// After the auto-reset, the book is healthy again and accepts inserts.
		Expect(dc.IsStale("AAPL")).To(BeFalse())
		ev := dc.OnDepth(depthUpdate(base+3_000_000, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 5, 5))
		Expect(ev[0].Kind).To(Equal(mdkernel.EventKindL2Snapshot))
	})

	It("computes mid and top-of-book imbalance once both sides are non-empty", func() {
		dc := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())
		dc.OnDepth(depthUpdate(1, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 99, 10))
		ev := dc.OnDepth(depthUpdate(2, 0, mdkernel.DepthOpInsert, mdkernel.SideAsk, 101, 30))
		Expect(ev[0].L2Snapshot.HasDerived).To(BeTrue())
		Expect(ev[0].L2Snapshot.Mid.Equal(decimal.NewFromFloat(100))).To(BeTrue())
	})

	It("SweepIdle evicts a book untouched for over an hour of event time", func() {
		dc := collector.NewDepthCollector(collector.DefaultDepthCollectorConfig())
		dc.OnDepth(depthUpdate(1, 0, mdkernel.DepthOpInsert, mdkernel.SideBid, 99, 10))
		removed := dc.SweepIdle(int64(2 * time.Hour / time.Microsecond))
		Expect(removed).To(Equal(1))
		Expect(dc.RecentIntegrity("AAPL", 10)).To(BeEmpty())
	})
})
