package tree

import (
	"github.com/samber/lo"
)

// itemsInterval holds the items of one node, ADD items before CANCEL items
type itemsInterval []*Item

// insertSorted keeps ADD items ahead of CANCEL items and insertion order otherwise
func (it *itemsInterval) insertSorted(item *Item) {
	items := *it
	if item.Action == ActionCancel {
		*it = append(items, item)
		return
	}
	_, idx, ok := lo.FindIndexOf(items, func(i *Item) bool { return i.Action == ActionCancel })
	if !ok {
		*it = append(items, item)
		return
	}
	items = append(items, nil)
	copy(items[idx+1:], items[idx:])
	items[idx] = item
	*it = items
}

func (it itemsInterval) addItems() []*Item {
	return lo.Filter(it, func(i *Item, _ int) bool { return i.Action == ActionAdd })
}

func (it itemsInterval) cancelItems() []*Item {
	return lo.Filter(it, func(i *Item, _ int) bool { return i.Action == ActionCancel })
}

func (it *itemsInterval) remove(item *Item) {
	*it = lo.Filter(*it, func(i *Item, _ int) bool { return i != item })
}

// containsAdd reports whether the node bills the item with the given id
func (it itemsInterval) containsAdd(id string) *Item {
	found, ok := lo.Find(it, func(i *Item) bool { return i.Action == ActionAdd && i.ID == id })
	if !ok {
		return nil
	}
	return found
}

// cancelling returns the CANCEL item reversing linkedID, if any
func (it itemsInterval) cancelling(linkedID string) *Item {
	found, ok := lo.Find(it, func(i *Item) bool { return i.Action == ActionCancel && i.LinkedItemID == linkedID })
	if !ok {
		return nil
	}
	return found
}

// mergeCancellingPairs drops every ADD reversed by a CANCEL of the same node
// together with that CANCEL, and reports whether the node is left empty.
func (it *itemsInterval) mergeCancellingPairs() bool {
	for _, add := range it.addItems() {
		if cancel := it.cancelling(add.ID); cancel != nil {
			it.remove(add)
			it.remove(cancel)
		}
	}
	return len(*it) == 0
}

// cancelSameKind removes the reversed items a proposed item of the same kind confirms
func (it *itemsInterval) cancelSameKind(proposed *Item) {
	*it = lo.Filter(*it, func(i *Item, _ int) bool {
		return i.Action != ActionCancel || !i.isSameKind(proposed)
	})
}

// unconfirmed is the reversed existing item a merged node still holds, left
// only if no proposed item confirmed it
func (it itemsInterval) unconfirmed() *Item {
	if len(it) == 1 && it[0].Action == ActionCancel {
		return it[0]
	}
	return nil
}
