package tree

import (
	"time"

	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/samber/lo"
	"github.com/shopspring/decimal"
)

// itemTree is an interval tree of items. Existing items are added with
// addExistingItem and built into the currently billed view; once flattened
// and reversed, proposed items are merged in with addProposedItem.
type itemTree struct {
	*arena
}

func newItemTree() *itemTree {
	return &itemTree{arena: newArena()}
}

// addExistingItem adds an existing item. A CANCEL item is placed below the
// item it reverses whenever that item's range holds it.
func (t *itemTree) addExistingItem(item *Item) {
	newNode := t.newNode(item)
	from := rootID
	if item.Action == ActionCancel {
		linked := t.findNode(rootID, func(n nodeID) bool { return t.n(n).items.containsAdd(item.LinkedItemID) != nil })
		if linked != noNode && t.isItemContained(linked, newNode) {
			from = linked
		}
	}
	t.addNode(from, newNode, addNodeCallback{
		onExistingNode: func(existing nodeID) bool {
			t.n(existing).items.insertSorted(item)
			return false
		},
		shouldInsertNode: func(nodeID) bool { return true },
	})
}

// addProposedItem merges a proposed item into a tree of reversed existing items.
// It returns false when the item matches nothing and must be kept as a new item.
func (t *itemTree) addProposedItem(item *Item) bool {
	shouldInsert := func(insertion nodeID) bool {
		// the level below the root only holds reversed existing items
		if t.isRoot(insertion) {
			return false
		}
		items := t.n(insertion).items
		return len(items) == 1 && items[0].isSameKind(item)
	}

	return t.addNode(rootID, t.newNode(item), addNodeCallback{
		onExistingNode: func(existing nodeID) bool {
			if !shouldInsert(existing) {
				return false
			}
			t.n(existing).items.cancelSameKind(item)
			return true
		},
		shouldInsertNode: shouldInsert,
	})
}

// addAdjustment records an item adjustment against the billed item id.
// A fully adjusted item leaves the tree along with the repairs pointing at it
// and is returned.
func (t *itemTree) addAdjustment(id string, amount decimal.Decimal, ledger *Ledger) *Item {
	found := t.findNode(rootID, func(n nodeID) bool { return t.n(n).items.containsAdd(id) != nil })
	if found == noNode {
		return nil
	}
	item := t.n(found).items.containsAdd(id)

	ledger.Adjust(id, amount)
	if !ledger.IsFullyAdjusted(id) {
		return nil
	}

	t.n(found).items.remove(item)
	t.dropIfEmpty(found)
	t.walk(rootID, 0, func(n nodeID, _ int) {
		if t.isRoot(n) {
			return
		}
		if cancel := t.n(n).items.cancelling(id); cancel != nil {
			t.n(n).items.remove(cancel)
			t.dropIfEmpty(n)
		}
	})
	return item
}

func (t *itemTree) dropIfEmpty(n nodeID) {
	if len(t.n(n).items) == 0 && t.n(n).leftChild == noNode && !t.isRoot(n) {
		t.removeChild(t.n(n).parent, n)
	}
}

// prune removes fully repaired items before building:
// an ADD and a CANCEL reversing it within one node cancel out, and an ADD
// whose children partition its range and all reverse it goes away with them.
func (t *itemTree) prune() {
	t.walk(rootID, 0, func(id nodeID, _ int) {
		if t.isRoot(id) {
			return
		}

		if t.n(id).items.mergeCancellingPairs() && t.n(id).leftChild == noNode {
			t.removeChild(t.n(id).parent, id)
			return
		}

		for _, add := range t.n(id).items.addItems() {
			if !t.isPartitionedByChildren(id) {
				return
			}

			type removal struct {
				node nodeID
				item *Item
			}
			toRemove := make([]removal, 0)
			repairedByParts := true
			for c := t.n(id).leftChild; c != noNode; c = t.n(c).rightSibling {
				cancel := t.n(c).items.cancelling(add.ID)
				if cancel == nil {
					repairedByParts = false
					break
				}
				toRemove = append(toRemove, removal{node: c, item: cancel})
			}
			if !repairedByParts {
				continue
			}

			for _, r := range toRemove {
				t.n(r.node).items.remove(r.item)
				if len(t.n(r.node).items) == 0 {
					t.removeChild(id, r.node)
				}
			}
			t.n(id).items.remove(add)
		}
	})
}

// checkRepairs rejects repairs of unknown items and repairs reaching past the
// period of the item they repair.
func (t *itemTree) checkRepairs() error {
	adds := make(map[string]nodeID)
	t.walk(rootID, 0, func(id nodeID, _ int) {
		for _, a := range t.n(id).items.addItems() {
			adds[a.ID] = id
		}
	})

	var err error
	t.walk(rootID, 0, func(id nodeID, _ int) {
		if err != nil || t.isRoot(id) {
			return
		}
		for _, cancel := range t.n(id).items.cancelItems() {
			repaired, ok := adds[cancel.LinkedItemID]
			if !ok {
				err = t.inconsistent("repair of an unknown item", id, map[string]any{
					"repair_id":      cancel.ID,
					"linked_item_id": cancel.LinkedItemID,
				})
				return
			}
			if t.isStrictAncestor(id, repaired) {
				err = t.inconsistent("repair exceeds the repaired period", id, map[string]any{
					"repair_id":      cancel.ID,
					"linked_item_id": cancel.LinkedItemID,
				})
				return
			}
		}
	})
	return err
}

// billedAt returns the items billing the range of id: every ADD between id and
// the root that no CANCEL on the same path reverses. Deepest first.
func (t *itemTree) billedAt(id nodeID) []*Item {
	adds := make([]*Item, 0, 1)
	reversed := make(map[string]bool)
	for n := id; n != noNode && !t.isRoot(n); n = t.n(n).parent {
		adds = append(adds, t.n(n).items.addItems()...)
		for _, cancel := range t.n(n).items.cancelItems() {
			reversed[cancel.LinkedItemID] = true
		}
	}
	return lo.Filter(adds, func(a *Item, _ int) bool { return !reversed[a.ID] })
}

func (t *itemTree) inconsistent(msg string, id nodeID, details map[string]any) error {
	return inconsistentRange(msg, t.n(id).start, t.n(id).end, details)
}

func inconsistentRange(msg string, start, end time.Time, details map[string]any) error {
	details["start_date"] = types.FormatDate(start)
	details["end_date"] = types.FormatDate(end)
	return ierr.NewError(msg).
		WithHint("Existing invoice items do not describe a consistent billing history").
		WithReportableDetails(details).
		Mark(ierr.ErrInconsistentItems)
}

// billedPeriod is a run of time billed by one item
type billedPeriod struct {
	item  *Item
	start time.Time
	end   time.Time
}

// buildExisting prunes and checks the tree, then returns the billed view of
// the existing items. Each period is billed by the one item left unreversed on
// its path to the root; two such items are double billing. Adjacent periods of
// one item are joined, so an item billed over its whole range comes back whole.
func (t *itemTree) buildExisting(s *slicer) ([]*Item, error) {
	t.prune()
	if err := t.checkRepairs(); err != nil {
		return nil, err
	}

	periods := make([]billedPeriod, 0)
	var err error
	collect := func(id nodeID, start, end time.Time) {
		if err != nil {
			return
		}
		billed := t.billedAt(id)
		switch len(billed) {
		case 0:
		case 1:
			last := len(periods) - 1
			if last >= 0 && periods[last].item == billed[0] && periods[last].end.Equal(start) {
				periods[last].end = end
				return
			}
			periods = append(periods, billedPeriod{item: billed[0], start: start, end: end})
		default:
			err = inconsistentRange("overlapping recurring items", start, end, map[string]any{
				"item_ids": lo.Map(billed, func(i *Item, _ int) string { return i.ID }),
			})
		}
	}
	t.build(rootID, buildCallback{
		onMissingInterval: collect,
		onLastNode: func(id nodeID) {
			collect(id, t.n(id).start, t.n(id).end)
		},
	})
	if err != nil {
		return nil, err
	}

	output := make([]*Item, 0, len(periods))
	for _, p := range periods {
		if p.start.Equal(p.item.StartDate) && p.end.Equal(p.item.EndDate) {
			output = append(output, p.item)
			continue
		}
		output = append(output, s.slice(p.item, p.start, p.end))
	}
	return output, nil
}

// buildMerged returns the repairs for every part of a reversed existing item
// that no proposed item of the same kind covers.
func (t *itemTree) buildMerged(s *slicer) []*Item {
	output := make([]*Item, 0)
	repair := func(id nodeID, start, end time.Time) {
		item := t.n(id).items.unconfirmed()
		if item == nil {
			return
		}
		if piece := s.slice(item, start, end); piece != nil {
			output = append(output, piece)
		}
	}
	t.build(rootID, buildCallback{
		onMissingInterval: repair,
		onLastNode: func(id nodeID) {
			repair(id, t.n(id).start, t.n(id).end)
		},
	})
	return output
}
