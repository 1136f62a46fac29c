package offlinequeue_test

import (
	"time"

	"github.com/marketflux/mdkernel/offlinequeue"

	mdkernel "github.com/marketflux/mdkernel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

func tradeEvent(ts int64) mdkernel.MarketEvent {
	return mdkernel.MarketEvent{TimestampUTC: ts, Symbol: "AAPL", Kind: mdkernel.EventKindTrade,
		Trade: &mdkernel.TradePayload{Size: 1, Sequence: ts}}
}

var _ = Describe("Queue", func() {
	It("drops the oldest entry once MaxQueueSize is reached", func() {
		cfg := offlinequeue.DefaultConfig("")
		cfg.MaxQueueSize = 2
		q := offlinequeue.New(cfg)

		q.TryEnqueue(tradeEvent(1))
		q.TryEnqueue(tradeEvent(2))
		q.TryEnqueue(tradeEvent(3))

		Expect(q.Len()).To(Equal(2))
		Expect(q.Dropped()).To(Equal(int64(1)))
	})

	It("preserves the event multiset across a go-offline/come-online round trip, and timestamp order with PreserveOrder", func() {
		dir := GinkgoT().TempDir()
		cfg := offlinequeue.DefaultConfig(dir)
		cfg.UseZstdSpill = false
		q := offlinequeue.New(cfg)

		q.TryEnqueue(tradeEvent(1))
		q.TryEnqueue(tradeEvent(2))
		path, err := q.GoOffline()
		Expect(err).NotTo(HaveOccurred())
		Expect(path).NotTo(BeEmpty())

		q.TryEnqueue(tradeEvent(3))

		var flushed []int64
		err = q.ComeOnline(func(batch []offlinequeue.QueuedRecord) (int, error) {
			for _, r := range batch {
				flushed = append(flushed, r.Event.TimestampUTC)
			}
			return len(batch), nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(flushed).To(Equal([]int64{1, 2, 3}))
	})

	It("re-enqueues records the flush handler fails to fully accept", func() {
		dir := GinkgoT().TempDir()
		cfg := offlinequeue.DefaultConfig(dir)
		cfg.UseZstdSpill = false
		q := offlinequeue.New(cfg)
		q.TryEnqueue(tradeEvent(1))
		q.TryEnqueue(tradeEvent(2))

		err := q.ComeOnline(func(batch []offlinequeue.QueuedRecord) (int, error) {
			return 1, nil
		})
		Expect(err).NotTo(HaveOccurred())
		Expect(q.Len()).To(Equal(1))
	})

	It("describes its backlog in human-readable form", func() {
		cfg := offlinequeue.DefaultConfig("")
		q := offlinequeue.New(cfg)
		q.TryEnqueue(tradeEvent(1))
		Expect(q.Describe()).To(ContainSubstring("1 events buffered"))
	})

	It("flags clock drift beyond tolerance and escalates to Critical past 2x", func() {
		cfg := offlinequeue.DefaultConfig("")
		q := offlinequeue.New(cfg)

		ev := q.RecordClockSync("vendorA", time.Now().Add(-500*time.Millisecond))
		Expect(ev).NotTo(BeNil())
		Expect(ev.Critical).To(BeTrue())

		ev = q.RecordClockSync("vendorA", time.Now().Add(-10*time.Millisecond))
		Expect(ev).To(BeNil())
	})
})
