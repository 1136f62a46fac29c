package mdkernel_test

import (
	"strings"

	mdkernel "github.com/marketflux/mdkernel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Symbol", func() {
	It("accepts the documented character set", func() {
		sym, err := mdkernel.NewSymbol("BRK.B-W:1/2")
		Expect(err).To(BeNil())
		Expect(sym.String()).To(Equal("BRK.B-W:1/2"))
	})

	It("normalizes the lookup key but preserves original casing", func() {
		sym, err := mdkernel.NewSymbol("AaPl")
		Expect(err).To(BeNil())
		Expect(sym.Key()).To(Equal("AAPL"))
		Expect(sym.String()).To(Equal("AaPl"))
	})

	It("rejects symbols over the length cap", func() {
		_, err := mdkernel.NewSymbol(strings.Repeat("A", mdkernel.MaxSymbolLength+1))
		Expect(err).To(MatchError(mdkernel.ErrInvalidSymbol))
	})

	It("rejects disallowed characters", func() {
		_, err := mdkernel.NewSymbol("AAPL US EQUITY")
		Expect(err).To(MatchError(mdkernel.ErrInvalidSymbol))
	})

	It("rejects the empty symbol", func() {
		_, err := mdkernel.NewSymbol("")
		Expect(err).To(MatchError(mdkernel.ErrInvalidSymbol))
	})
})
