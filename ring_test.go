package mdkernel_test

import (
	mdkernel "github.com/marketflux/mdkernel"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

var _ = Describe("Ring", func() {
	It("returns newest-first order", func() {
		r := mdkernel.NewRing[int](3)
		r.Push(1)
		r.Push(2)
		r.Push(3)
		Expect(r.Recent(3)).To(Equal([]int{3, 2, 1}))
	})

	It("overwrites the oldest entry once full", func() {
		r := mdkernel.NewRing[int](2)
		r.Push(1)
		r.Push(2)
		r.Push(3)
		Expect(r.Len()).To(Equal(2))
		Expect(r.Recent(2)).To(Equal([]int{3, 2}))
	})

	It("clamps limit to the current size", func() {
		r := mdkernel.NewRing[int](5)
		r.Push(1)
		Expect(r.Recent(10)).To(Equal([]int{1}))
	})
})
