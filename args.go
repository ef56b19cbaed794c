package windows

import (
	"github.com/wnxd/microdbg/encoding"
)

// Args is a cursor over the argument slots of one call site.
type Args interface {
	encoding.Stream
	Extract(args ...any) error
	Store(args ...any) error
	// Slot reads the next whole slot, zero-extended.
	Slot() (uint64, error)
	Consumed() int
}
