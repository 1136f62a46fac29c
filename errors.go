// Sentinel errors for this package. NewSymbol returns ErrInvalidSymbol
// as is; no code path returns the others. Domain defects (a malformed update, a sequence gap, a
// corrupt book) surface as MarketEvent values, not errors — these sentinels
// are reserved for programmer-contract violations and I/O failures.

package mdkernel

import "fmt"

var (
	ErrInvalidSymbol    = fmt.Errorf("mdkernel: invalid symbol")
	ErrInvalidSequence  = fmt.Errorf("mdkernel: negative sequence number")
	ErrUnknownSymbol    = fmt.Errorf("mdkernel: unknown symbol")
	ErrBookStale        = fmt.Errorf("mdkernel: book is stale, reset required")
	ErrInvalidPosition  = fmt.Errorf("mdkernel: invalid depth position")
	ErrQueueClosed      = fmt.Errorf("mdkernel: offline queue is closed")
	ErrSubscriptionGone = fmt.Errorf("mdkernel: subscription id not found")
)

func unexpectedSeqError(got, want int64) error {
	return fmt.Errorf("mdkernel: expected sequence %d, got %d", want, got)
}
