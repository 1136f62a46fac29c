package anomaly_test

import (
	"github.com/marketflux/mdkernel/anomaly"

	mdkernel "github.com/marketflux/mdkernel"
	"github.com/shopspring/decimal"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func tradeEv(ts int64, price float64, size int64) mdkernel.MarketEvent {
	return mdkernel.MarketEvent{
		TimestampUTC: ts, Symbol: "AAPL", Kind: mdkernel.EventKindTrade,
		Trade: &mdkernel.TradePayload{Price: decimal.NewFromFloat(price), Size: size},
	}
}

var _ = Describe("DuplicateDetector", func() {
	It("flags an equal-fingerprint event observed within the window", func() {
		cfg := anomaly.DefaultDuplicateConfig()
		d := anomaly.NewDuplicateDetector(cfg)

		d.OnEvent(tradeEv(1_000_000, 100, 10))
		d.OnEvent(tradeEv(1_100_000, 100, 10))

		Expect(d.DuplicateCount("AAPL")).To(Equal(int64(1)))
	})

	It("does not flag the same fingerprint once the window has elapsed", func() {
		cfg := anomaly.DefaultDuplicateConfig()
		d := anomaly.NewDuplicateDetector(cfg)

		d.OnEvent(tradeEv(0, 100, 10))
		d.OnEvent(tradeEv(int64(cfg.Window.Microseconds())+1, 100, 10))

		Expect(d.DuplicateCount("AAPL")).To(Equal(int64(0)))
	})

	It("does not flag distinct fingerprints", func() {
		cfg := anomaly.DefaultDuplicateConfig()
		d := anomaly.NewDuplicateDetector(cfg)

		d.OnEvent(tradeEv(0, 100, 10))
		d.OnEvent(tradeEv(1, 101, 10))

		Expect(d.DuplicateCount("AAPL")).To(Equal(int64(0)))
	})
})
