package mdkernel_test

import (
	"sync"

	mdkernel "github.com/marketflux/mdkernel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("SymbolMap", func() {
	It("get-or-create is idempotent under concurrent callers", func() {
		sm := mdkernel.NewSymbolMap[int]()
		var wg sync.WaitGroup
		ptrs := make([]*int, 32)
		for i := 0; i < 32; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				ptrs[i] = sm.GetOrCreate("AAPL", func() *int { v := 0; return &v })
			}(i)
		}
		wg.Wait()
		for _, p := range ptrs {
			Expect(p).To(BeIdenticalTo(ptrs[0]))
		}
	})

	It("deletes and reports presence", func() {
		sm := mdkernel.NewSymbolMap[int]()
		sm.GetOrCreate("MSFT", func() *int { v := 1; return &v })
		Expect(sm.Delete("MSFT")).To(BeTrue())
		Expect(sm.Delete("MSFT")).To(BeFalse())
	})

	It("DeleteWhere removes matching entries only", func() {
		sm := mdkernel.NewSymbolMap[int]()
		sm.GetOrCreate("A", func() *int { v := 1; return &v })
		sm.GetOrCreate("B", func() *int { v := 2; return &v })
		removed := sm.DeleteWhere(func(key string, v *int) bool { return *v == 1 })
		Expect(removed).To(Equal(1))
		_, ok := sm.Get("A")
		Expect(ok).To(BeFalse())
		_, ok = sm.Get("B")
		Expect(ok).To(BeTrue())
	})
})
