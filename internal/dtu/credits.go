package dtu

import (
	"strconv"
	"sync/atomic"
)

// Credits is the message budget of a send gate. A budget created with zero
// credits is unlimited.
type Credits struct {
	unlimited bool
	left      atomic.Uint32
}

// NewCredits creates a budget of n messages, or an unlimited one for n == 0.
func NewCredits(n uint32) *Credits {
	c := &Credits{unlimited: n == 0}
	c.left.Store(n)
	return c
}

// Unlimited reports whether sends never run out of credits.
func (c *Credits) Unlimited() bool { return c.unlimited }

// Remaining returns the number of messages that can still be sent. It is
// meaningless for unlimited budgets.
func (c *Credits) Remaining() uint32 { return c.left.Load() }

func (c *Credits) take() bool {
	if c.unlimited {
		return true
	}
	for {
		v := c.left.Load()
		if v == 0 {
			return false
		}
		if c.left.CompareAndSwap(v, v-1) {
			return true
		}
	}
}

func (c *Credits) refund() {
	if !c.unlimited {
		c.left.Add(1)
	}
}

func (c *Credits) String() string {
	if c.unlimited {
		return "unlimited"
	}
	return strconv.FormatUint(uint64(c.Remaining()), 10)
}
