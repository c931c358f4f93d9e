package cap

import (
	"fmt"

	"github.com/GriffinCanCode/AgentOS/capcore/internal/kif"
)

// Capability is one entry of a table. It references an object and remembers
// the capability it was derived from.
type Capability struct {
	table    *Table
	sel      kif.CapSel
	obj      Object
	parent   *Capability
	children []*Capability
	revoked  bool
}

// Sel returns the selector of the capability within its table
func (c *Capability) Sel() kif.CapSel { return c.sel }

// Table returns the table currently holding the capability
func (c *Capability) Table() *Table { return c.table }

// Object returns the referenced kernel object
func (c *Capability) Object() Object { return c.obj }

// Parent returns the capability c was derived from, or nil for a root.
func (c *Capability) Parent() *Capability { return c.parent }

// Revoked reports whether c has been destroyed.
func (c *Capability) Revoked() bool { return c.revoked }

// Children returns the capabilities directly derived from c.
func (c *Capability) Children() []*Capability {
	return append([]*Capability(nil), c.children...)
}

// Descendants returns every capability derived from c, directly or
// transitively, in pre-order.
func (c *Capability) Descendants() []*Capability {
	order := subtree(c)
	return order[1:]
}

func (c *Capability) String() string {
	return fmt.Sprintf("Cap[vpe=%d, sel=%d, %s, children=%d]",
		c.table.owner, c.sel, c.obj.Kind(), len(c.children))
}

// subtree returns c followed by all its descendants in pre-order. It walks
// with an explicit stack so arbitrarily deep derivation chains are fine.
func subtree(c *Capability) []*Capability {
	var order []*Capability
	stack := []*Capability{c}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		order = append(order, n)
		for i := len(n.children) - 1; i >= 0; i-- {
			stack = append(stack, n.children[i])
		}
	}
	return order
}

func (c *Capability) removeChild(child *Capability) {
	for i, o := range c.children {
		if o == child {
			c.children = append(c.children[:i], c.children[i+1:]...)
			return
		}
	}
}

// destroy removes c from its table and the forest and drops its reference.
// Destroying a revoked capability does nothing.
func (c *Capability) destroy() {
	if c.revoked {
		return
	}
	c.revoked = true

	if c.table.caps[c.sel] == c {
		delete(c.table.caps, c.sel)
	}
	if c.parent != nil {
		c.parent.removeChild(c)
	}
	for _, ch := range c.children {
		ch.parent = nil
	}
	c.children = nil

	release(c.obj)
}
