package tree

import (
	"time"
)

// nodeID addresses a node in the arena
type nodeID int

const (
	noNode nodeID = -1
	rootID nodeID = 0
)

// node owns a [start, end) range and the items whose range is exactly that range.
// Children are linked left to right by start date through rightSibling.
type node struct {
	start        time.Time
	end          time.Time
	hasRange     bool
	parent       nodeID
	leftChild    nodeID
	rightSibling nodeID
	items        itemsInterval
}

// addNodeCallback drives insertion; see addNode
type addNodeCallback struct {
	// onExistingNode is called when a non root node has exactly the new node's range.
	// Its result is the result of addNode.
	onExistingNode func(existing nodeID) bool
	// shouldInsertNode decides whether the new node may be placed below insertion
	shouldInsertNode func(insertion nodeID) bool
}

type buildCallback struct {
	onMissingInterval func(n nodeID, start, end time.Time)
	onLastNode        func(n nodeID)
}

// arena stores every node of one interval tree; index 0 is the root.
// Removed nodes stay in the slice but are unlinked.
type arena struct {
	nodes []node
}

func newArena() *arena {
	return &arena{nodes: []node{{parent: noNode, leftChild: noNode, rightSibling: noNode}}}
}

func (a *arena) newNode(item *Item) nodeID {
	a.nodes = append(a.nodes, node{
		start:        item.StartDate,
		end:          item.EndDate,
		hasRange:     true,
		parent:       noNode,
		leftChild:    noNode,
		rightSibling: noNode,
		items:        itemsInterval{item},
	})
	return nodeID(len(a.nodes) - 1)
}

func (a *arena) n(id nodeID) *node {
	return &a.nodes[id]
}

func (a *arena) isRoot(id nodeID) bool {
	return a.n(id).parent == noNode
}

func (a *arena) isEmpty() bool {
	return a.n(rootID).leftChild == noNode
}

func (a *arena) isSameRange(id, other nodeID) bool {
	n, o := a.n(id), a.n(other)
	return n.hasRange && n.start.Equal(o.start) && n.end.Equal(o.end)
}

// isItemContained reports whether other fits in id's range, bounds included
func (a *arena) isItemContained(id, other nodeID) bool {
	n, o := a.n(id), a.n(other)
	return !o.start.Before(n.start) && !o.start.After(n.end) &&
		!o.end.Before(n.start) && !o.end.After(n.end)
}

// isItemOverlap reports whether other strictly covers id's range
func (a *arena) isItemOverlap(id, other nodeID) bool {
	n, o := a.n(id), a.n(other)
	return (o.start.Before(n.start) && !o.end.Before(n.end)) ||
		(!o.start.After(n.start) && o.end.After(n.end))
}

func (a *arena) computeRootInterval(id, newNode nodeID) {
	if !a.isRoot(id) {
		return
	}
	r, nn := a.n(id), a.n(newNode)
	if !r.hasRange || r.start.After(nn.start) {
		r.start = nn.start
	}
	if !r.hasRange || r.end.Before(nn.end) {
		r.end = nn.end
	}
	r.hasRange = true
}

// addNode places newNode below id: inside the child containing it, above the
// children it covers, or among the children ordered by start date.
func (a *arena) addNode(id, newNode nodeID, cb addNodeCallback) bool {
	if !a.isRoot(id) && a.isSameRange(id, newNode) {
		return cb.onExistingNode(id)
	}

	a.computeRootInterval(id, newNode)

	a.n(newNode).parent = id
	if a.n(id).leftChild == noNode {
		if cb.shouldInsertNode(id) {
			a.n(id).leftChild = newNode
			return true
		}
		return false
	}

	prev := noNode
	cur := a.n(id).leftChild
	for cur != noNode {
		if a.isItemContained(cur, newNode) {
			return a.addNode(cur, newNode, cb)
		}

		if a.isItemOverlap(cur, newNode) && a.rebalance(id, newNode) {
			return cb.shouldInsertNode(id)
		}

		if a.n(newNode).start.Before(a.n(cur).start) {
			if !cb.shouldInsertNode(id) {
				return false
			}
			a.n(newNode).rightSibling = cur
			if prev == noNode {
				a.n(id).leftChild = newNode
			} else {
				a.n(prev).rightSibling = newNode
			}
			return true
		}
		prev = cur
		cur = a.n(cur).rightSibling
	}

	if !cb.shouldInsertNode(id) {
		return false
	}
	a.n(prev).rightSibling = newNode
	return true
}

// rebalance moves the first run of children covered by newNode below it and
// puts newNode in their place.
func (a *arena) rebalance(id, newNode nodeID) bool {
	prevRebalanced := noNode
	toRebalance := make([]nodeID, 0)
	for cur := a.n(id).leftChild; cur != noNode; cur = a.n(cur).rightSibling {
		if a.isItemOverlap(cur, newNode) {
			toRebalance = append(toRebalance, cur)
			continue
		}
		if len(toRebalance) > 0 {
			break
		}
		prevRebalanced = cur
	}
	if len(toRebalance) == 0 {
		return false
	}

	a.n(newNode).parent = id
	last := toRebalance[len(toRebalance)-1]
	a.n(newNode).rightSibling = a.n(last).rightSibling
	a.n(last).rightSibling = noNode
	if prevRebalanced == noNode {
		a.n(id).leftChild = newNode
	} else {
		a.n(prevRebalanced).rightSibling = newNode
	}

	prev := noNode
	for _, cur := range toRebalance {
		a.n(cur).parent = newNode
		if prev == noNode {
			a.n(newNode).leftChild = cur
		} else {
			a.n(prev).rightSibling = cur
		}
		prev = cur
	}
	return true
}

// removeChild unlinks child from id; the child's own children take its place
func (a *arena) removeChild(id, child nodeID) {
	prev := noNode
	for cur := a.n(id).leftChild; cur != noNode; cur = a.n(cur).rightSibling {
		if cur != child {
			prev = cur
			continue
		}

		replacement := a.n(cur).rightSibling
		if first := a.n(cur).leftChild; first != noNode {
			lastGrandChild := first
			for g := first; g != noNode; g = a.n(g).rightSibling {
				a.n(g).parent = id
				lastGrandChild = g
			}
			a.n(lastGrandChild).rightSibling = a.n(cur).rightSibling
			replacement = first
		}
		if prev == noNode {
			a.n(id).leftChild = replacement
		} else {
			a.n(prev).rightSibling = replacement
		}
		a.n(cur).parent = noNode
		a.n(cur).leftChild = noNode
		a.n(cur).rightSibling = noNode
		return
	}
}

// isPartitionedByChildren reports whether the children cover id's range without gaps
func (a *arena) isPartitionedByChildren(id nodeID) bool {
	n := a.n(id)
	if n.leftChild == noNode {
		return false
	}
	cur := n.start
	for c := n.leftChild; c != noNode; c = a.n(c).rightSibling {
		if a.n(c).start.After(cur) {
			return false
		}
		cur = a.n(c).end
	}
	return cur.Equal(n.end)
}

// findNode returns the first node, depth first, matching fn
func (a *arena) findNode(id nodeID, fn func(nodeID) bool) nodeID {
	if fn(id) {
		return id
	}
	for c := a.n(id).leftChild; c != noNode; c = a.n(c).rightSibling {
		if found := a.findNode(c, fn); found != noNode {
			return found
		}
	}
	return noNode
}

// walk visits id and its descendants depth first. The next sibling is read
// after fn returns so fn may unlink the node it is given.
func (a *arena) walk(id nodeID, depth int, fn func(id nodeID, depth int)) {
	fn(id, depth)
	c := a.n(id).leftChild
	for c != noNode {
		next := a.n(c).rightSibling
		a.walk(c, depth+1, fn)
		c = next
	}
}

// build calls onLastNode for childless nodes and onMissingInterval for every
// part of a node's range not covered by one of its children.
func (a *arena) build(id nodeID, cb buildCallback) {
	n := a.n(id)
	if n.leftChild == noNode {
		cb.onLastNode(id)
		return
	}

	cur := n.start
	for c := n.leftChild; c != noNode; c = a.n(c).rightSibling {
		if a.n(c).start.After(cur) {
			cb.onMissingInterval(id, cur, a.n(c).start)
		}
		a.build(c, cb)
		cur = a.n(c).end
	}

	if cur.Before(n.end) {
		cb.onMissingInterval(id, cur, n.end)
	}
}

// isStrictAncestor reports whether ancestor lies above id
func (a *arena) isStrictAncestor(ancestor, id nodeID) bool {
	for p := a.n(id).parent; p != noNode; p = a.n(p).parent {
		if p == ancestor {
			return true
		}
	}
	return false
}
