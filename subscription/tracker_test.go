package subscription_test

import (
	"github.com/marketflux/mdkernel/subscription"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Tracker", func() {
	It("assigns unique, monotonically increasing ids starting at 100000", func() {
		tr := subscription.New(true)
		id1 := tr.Add("AAPL", subscription.KindTrades)
		id2 := tr.Add("MSFT", subscription.KindQuotes)
		Expect(id1).To(Equal(100000))
		Expect(id2).To(Equal(100001))
	})

	It("ShouldProcess is false for unsubscribed symbols when explicit subscription is required", func() {
		tr := subscription.New(true)
		Expect(tr.ShouldProcess("AAPL", subscription.KindTrades)).To(BeFalse())
		tr.Add("AAPL", subscription.KindTrades)
		Expect(tr.ShouldProcess("AAPL", subscription.KindTrades)).To(BeTrue())
		Expect(tr.ShouldProcess("aapl", subscription.KindTrades)).To(BeTrue())
		Expect(tr.ShouldProcess("AAPL", subscription.KindQuotes)).To(BeFalse())
	})

	It("ShouldProcess is always true when explicit subscription is not required", func() {
		tr := subscription.New(false)
		Expect(tr.ShouldProcess("ANYTHING", subscription.KindDepth)).To(BeTrue())
	})

	It("keeps a symbol active while any subscription on (symbol, kind) remains", func() {
		tr := subscription.New(true)
		id1 := tr.Add("AAPL", subscription.KindTrades)
		tr.Add("AAPL", subscription.KindTrades)
		Expect(tr.Remove(id1)).To(BeTrue())
		Expect(tr.ShouldProcess("AAPL", subscription.KindTrades)).To(BeTrue())
	})

	It("drops the symbol once the last subscription on (symbol, kind) is removed", func() {
		tr := subscription.New(true)
		id1 := tr.Add("AAPL", subscription.KindTrades)
		Expect(tr.Remove(id1)).To(BeTrue())
		Expect(tr.ShouldProcess("AAPL", subscription.KindTrades)).To(BeFalse())
	})

	It("Remove reports false for an unknown id", func() {
		tr := subscription.New(true)
		Expect(tr.Remove(999999)).To(BeFalse())
	})
})
