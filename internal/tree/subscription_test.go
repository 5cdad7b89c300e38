package tree

import (
	"bytes"
	"testing"
	"time"

	"github.com/flexprice/invoicer/internal/config"
	"github.com/flexprice/invoicer/internal/domain/invoice"
	"github.com/flexprice/invoicer/internal/domain/proration"
	ierr "github.com/flexprice/invoicer/internal/errors"
	"github.com/flexprice/invoicer/internal/testutil"
	"github.com/flexprice/invoicer/internal/types"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const targetInvoiceID = "inv_target"

var d = testutil.Date

func newTestTree() *SubscriptionTree {
	return NewSubscriptionTree("subs_1", targetInvoiceID, proration.NewCalculator(config.DefaultInvoicingConfig()))
}

func recurring(id, plan string, start, end time.Time, amount, rate string) *invoice.InvoiceItem {
	return testutil.NewRecurringItem(testutil.ItemParams{
		ID:        id,
		PlanName:  plan,
		PhaseName: plan + "-evergreen",
		Start:     start,
		End:       end,
		Amount:    amount,
		Rate:      rate,
	})
}

func repair(id, linked string, start, end time.Time, amount string) *invoice.InvoiceItem {
	return testutil.NewRepairItem(testutil.ItemParams{
		ID:           id,
		Start:        start,
		End:          end,
		Amount:       amount,
		LinkedItemID: linked,
	})
}

func itemAdj(linked string, date time.Time, amount string) *invoice.InvoiceItem {
	return testutil.NewItemAdjustment(testutil.ItemParams{
		Start:        date,
		Amount:       amount,
		LinkedItemID: linked,
	})
}

type wantItem struct {
	itemType types.InvoiceItemType
	start    time.Time
	end      time.Time
	amount   string
	// id of the item for RECURRING, of the repaired item for REPAIR_ADJUSTMENT
	ref string
}

func assertView(t *testing.T, want []wantItem, got []*invoice.InvoiceItem) {
	t.Helper()
	require.Len(t, got, len(want))
	for i, w := range want {
		assert.Equal(t, w.itemType, got[i].Type, "item %d type", i)
		assert.Equal(t, w.start, got[i].StartDate, "item %d start", i)
		if assert.NotNil(t, got[i].EndDate, "item %d end", i) {
			assert.Equal(t, w.end, *got[i].EndDate, "item %d end", i)
		}
		assert.True(t, testutil.Dec(w.amount).Equal(got[i].Amount), "item %d amount want %s got %s", i, w.amount, got[i].Amount)
		if w.ref == "" {
			continue
		}
		if w.itemType == types.InvoiceItemTypeRepairAdjustment {
			assert.Equal(t, w.ref, got[i].LinkedItemID, "item %d linked item", i)
			assert.Equal(t, targetInvoiceID, got[i].InvoiceID, "item %d invoice", i)
		} else {
			assert.Equal(t, w.ref, got[i].ID, "item %d id", i)
		}
	}
}

func rec(ref string, start, end time.Time, amount string) wantItem {
	return wantItem{itemType: types.InvoiceItemTypeRecurring, start: start, end: end, amount: amount, ref: ref}
}

func rep(ref string, start, end time.Time, amount string) wantItem {
	return wantItem{itemType: types.InvoiceItemTypeRepairAdjustment, start: start, end: end, amount: amount, ref: ref}
}

func buildView(t *testing.T, existing ...*invoice.InvoiceItem) ([]*invoice.InvoiceItem, error) {
	t.Helper()
	tree := newTestTree()
	for _, item := range existing {
		require.NoError(t, tree.AddItem(item))
	}
	if err := tree.Build(); err != nil {
		return nil, err
	}
	return tree.View()
}

func mergeView(t *testing.T, existing, proposed []*invoice.InvoiceItem) []*invoice.InvoiceItem {
	t.Helper()
	tree := newTestTree()
	for _, item := range existing {
		require.NoError(t, tree.AddItem(item))
	}
	require.NoError(t, tree.Flatten(true))
	for _, item := range proposed {
		require.NoError(t, tree.MergeProposedItem(item))
	}
	require.NoError(t, tree.BuildForMerge())
	view, err := tree.View()
	require.NoError(t, err)
	return view
}

func TestSubscriptionTree_Build(t *testing.T) {
	tests := []struct {
		name     string
		existing []*invoice.InvoiceItem
		want     []wantItem
	}{
		{
			name: "simple repair",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("upgrade", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
				repair("r1", "initial", d(2014, 1, 23), d(2014, 2, 1), "-3.48"),
			},
			want: []wantItem{
				rec("initial", d(2014, 1, 1), d(2014, 1, 23), "8.52"),
				rec("upgrade", d(2014, 1, 23), d(2014, 2, 1), "14.85"),
			},
		},
		{
			name: "repair of a repairing item",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("upgrade1", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
				repair("r1", "initial", d(2014, 1, 23), d(2014, 2, 1), "-3.48"),
				recurring("upgrade2", "diamond", d(2014, 1, 26), d(2014, 2, 1), "19.23", "29.95"),
				repair("r2", "upgrade1", d(2014, 1, 26), d(2014, 2, 1), "-9.90"),
			},
			want: []wantItem{
				rec("initial", d(2014, 1, 1), d(2014, 1, 23), "8.52"),
				rec("upgrade1", d(2014, 1, 23), d(2014, 1, 26), "4.95"),
				rec("upgrade2", d(2014, 1, 26), d(2014, 2, 1), "19.23"),
			},
		},
		{
			name: "several blocked periods",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("block1", "monthly", d(2014, 1, 7), d(2014, 1, 13), "-2.32"),
				repair("block2", "monthly", d(2014, 1, 20), d(2014, 1, 25), "-1.94"),
			},
			want: []wantItem{
				rec("monthly", d(2014, 1, 1), d(2014, 1, 7), "2.32"),
				rec("monthly", d(2014, 1, 13), d(2014, 1, 20), "2.71"),
				rec("monthly", d(2014, 1, 25), d(2014, 2, 1), "2.71"),
			},
		},
		{
			name: "block across two periods",
			existing: []*invoice.InvoiceItem{
				recurring("first", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("second", "gold", d(2014, 2, 1), d(2014, 3, 1), "12.00", "12.00"),
				repair("block1", "first", d(2014, 1, 25), d(2014, 2, 1), "-2.71"),
				repair("block2", "second", d(2014, 2, 1), d(2014, 2, 7), "-2.57"),
			},
			want: []wantItem{
				rec("first", d(2014, 1, 1), d(2014, 1, 25), "9.29"),
				rec("second", d(2014, 2, 7), d(2014, 3, 1), "9.43"),
			},
		},
		{
			name: "annual fully repaired then monthly",
			existing: []*invoice.InvoiceItem{
				recurring("monthly1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "annual", d(2014, 1, 1), d(2015, 1, 1), "-100.00"),
				recurring("annual", "gold-annual", d(2014, 1, 1), d(2015, 1, 1), "100.00", "100.00"),
				recurring("monthly2", "gold", d(2014, 2, 1), d(2014, 3, 1), "12.00", "12.00"),
			},
			want: []wantItem{
				rec("monthly1", d(2014, 1, 1), d(2014, 2, 1), "12.00"),
				rec("monthly2", d(2014, 2, 1), d(2014, 3, 1), "12.00"),
			},
		},
		{
			name: "monthly then annual with leading proration",
			existing: []*invoice.InvoiceItem{
				recurring("monthly1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("monthly2", "gold", d(2014, 2, 1), d(2014, 3, 1), "12.00", "12.00"),
				recurring("leading", "gold-annual", d(2014, 2, 23), d(2014, 3, 1), "1.64", "100.00"),
				repair("r1", "monthly2", d(2014, 2, 23), d(2014, 3, 1), "-2.57"),
				recurring("annual", "gold-annual", d(2014, 3, 1), d(2015, 3, 1), "100.00", "100.00"),
			},
			want: []wantItem{
				rec("monthly1", d(2014, 1, 1), d(2014, 2, 1), "12.00"),
				rec("monthly2", d(2014, 2, 1), d(2014, 2, 23), "9.43"),
				rec("leading", d(2014, 2, 23), d(2014, 3, 1), "1.64"),
				rec("annual", d(2014, 3, 1), d(2015, 3, 1), "100.00"),
			},
		},
		{
			name: "overlapping repairs",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold-annual", d(2012, 5, 1), d(2013, 5, 1), "2400.00", "2400.00"),
				repair("r1", "initial", d(2012, 5, 11), d(2013, 5, 1), "-2334.25"),
				recurring("new1", "silver", d(2012, 5, 11), d(2012, 6, 1), "20.00", "30.00"),
				repair("r2", "new1", d(2012, 5, 11), d(2012, 6, 1), "-20.00"),
				recurring("new2", "gold-annual", d(2012, 5, 11), d(2013, 5, 1), "2334.25", "2400.00"),
			},
			want: []wantItem{
				rec("initial", d(2012, 5, 1), d(2012, 5, 11), "65.76"),
				rec("new2", d(2012, 5, 11), d(2013, 5, 1), "2334.25"),
			},
		},
		{
			name: "item repaired in full on the same period",
			existing: []*invoice.InvoiceItem{
				recurring("monthly2", "gold", d(2015, 2, 1), d(2015, 3, 1), "12.00", "12.00"),
				recurring("monthly2new", "gold", d(2015, 2, 1), d(2015, 3, 1), "12.00", "12.00"),
				repair("r1", "monthly2", d(2015, 2, 1), d(2015, 3, 1), "-12.00"),
			},
			want: []wantItem{
				rec("monthly2new", d(2015, 2, 1), d(2015, 3, 1), "12.00"),
			},
		},
		{
			name: "items repaired in full by parts",
			existing: []*invoice.InvoiceItem{
				recurring("monthly1", "gold", d(2015, 2, 1), d(2015, 3, 1), "12.00", "12.00"),
				repair("r11", "monthly1", d(2015, 2, 1), d(2015, 2, 8), "-3.00"),
				repair("r12", "monthly1", d(2015, 2, 8), d(2015, 2, 16), "-3.00"),
				repair("r13", "monthly1", d(2015, 2, 16), d(2015, 2, 24), "-3.00"),
				repair("r14", "monthly1", d(2015, 2, 24), d(2015, 3, 1), "-3.00"),
				recurring("monthly2", "gold", d(2015, 2, 1), d(2015, 3, 1), "12.00", "12.00"),
				repair("r21", "monthly2", d(2015, 2, 1), d(2015, 2, 8), "-3.00"),
				repair("r22", "monthly2", d(2015, 2, 8), d(2015, 2, 16), "-3.00"),
				repair("r23", "monthly2", d(2015, 2, 16), d(2015, 2, 24), "-3.00"),
				repair("r24", "monthly2", d(2015, 2, 24), d(2015, 3, 1), "-3.00"),
				recurring("monthly3", "gold", d(2015, 2, 1), d(2015, 3, 1), "12.00", "12.00"),
			},
			want: []wantItem{
				rec("monthly3", d(2015, 2, 1), d(2015, 3, 1), "12.00"),
			},
		},
		{
			name: "fully adjusted item leaves the view",
			existing: []*invoice.InvoiceItem{
				recurring("wrong", "gold", d(2016, 9, 9), d(2016, 10, 8), "12.00", "12.00"),
				itemAdj("wrong", d(2016, 10, 2), "-12.00"),
				recurring("correct", "gold", d(2016, 9, 8), d(2016, 10, 8), "12.00", "12.00"),
			},
			want: []wantItem{
				rec("correct", d(2016, 9, 8), d(2016, 10, 8), "12.00"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := buildView(t, tt.existing...)
			require.NoError(t, err)
			assertView(t, tt.want, view)
		})
	}
}

func TestSubscriptionTree_BuildOrderIndependent(t *testing.T) {
	items := func() []*invoice.InvoiceItem {
		return []*invoice.InvoiceItem{
			recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			recurring("upgrade1", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
			repair("r1", "initial", d(2014, 1, 23), d(2014, 2, 1), "-3.48"),
			recurring("upgrade2", "diamond", d(2014, 1, 26), d(2014, 2, 1), "19.23", "29.95"),
			repair("r2", "upgrade1", d(2014, 1, 26), d(2014, 2, 1), "-9.90"),
		}
	}

	forward, err := buildView(t, items()...)
	require.NoError(t, err)

	reversed := items()
	for i, j := 0, len(reversed)-1; i < j; i, j = i+1, j-1 {
		reversed[i], reversed[j] = reversed[j], reversed[i]
	}
	backward, err := buildView(t, reversed...)
	require.NoError(t, err)

	require.Len(t, backward, len(forward))
	for i := range forward {
		assert.True(t, forward[i].Matches(backward[i]), "item %d", i)
	}
}

func TestSubscriptionTree_BuildInconsistentItems(t *testing.T) {
	tests := []struct {
		name     string
		existing []*invoice.InvoiceItem
	}{
		{
			name: "repair starting before the repaired item",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "initial", d(2013, 12, 31), d(2014, 2, 1), "-12.00"),
			},
		},
		{
			name: "repair ending after the repaired item",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "initial", d(2014, 1, 1), d(2014, 2, 2), "-12.00"),
			},
		},
		{
			name: "repair of an unknown item",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "missing", d(2014, 1, 10), d(2014, 2, 1), "-8.52"),
			},
		},
		{
			name: "double billing of one period",
			existing: []*invoice.InvoiceItem{
				recurring("first", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("second", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
		},
		{
			name: "overlapping recurring without repair",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("upgrade", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
			},
		},
		{
			name: "repair of the wrong item leaving an overlap",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("upgrade1", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
				repair("r1", "initial", d(2014, 1, 23), d(2014, 2, 1), "-3.48"),
				recurring("upgrade2", "diamond", d(2014, 1, 26), d(2014, 2, 1), "19.23", "29.95"),
				repair("r2", "initial", d(2014, 1, 26), d(2014, 2, 1), "-2.32"),
			},
		},
		{
			name: "nested repair under an unrepaired item",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("upgrade1", "platinum", d(2014, 1, 23), d(2014, 2, 1), "14.85", "20.00"),
				repair("r1", "initial", d(2014, 1, 26), d(2014, 2, 1), "-2.32"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := buildView(t, tt.existing...)
			require.Error(t, err)
			assert.True(t, ierr.IsInconsistentItems(err), "got %v", err)
		})
	}
}

func TestSubscriptionTree_Merge(t *testing.T) {
	tests := []struct {
		name     string
		existing []*invoice.InvoiceItem
		proposed []*invoice.InvoiceItem
		want     []wantItem
	}{
		{
			name: "nothing billed yet",
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			want: []wantItem{rec("p1", d(2014, 1, 1), d(2014, 2, 1), "12.00")},
		},
		{
			name: "same item proposed again",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
		},
		{
			name: "same period at a different rate",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "15.00", "15.00"),
			},
			want: []wantItem{
				rec("p1", d(2014, 1, 1), d(2014, 2, 1), "15.00"),
				rep("monthly", d(2014, 1, 1), d(2014, 2, 1), "-12.00"),
			},
		},
		{
			name: "period start no longer billed",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 25), d(2014, 2, 1), "2.71", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 1), d(2014, 1, 25), "-9.29")},
		},
		{
			name: "cancellation before period end",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 25), "9.29", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 25), d(2014, 2, 1), "-2.71")},
		},
		{
			name: "block in the middle of the period",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 13), "4.65", "12.00"),
				recurring("p2", "gold", d(2014, 1, 25), d(2014, 2, 1), "2.71", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 13), d(2014, 1, 25), "-4.65")},
		},
		{
			name: "block in the middle already repaired",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "monthly", d(2014, 1, 13), d(2014, 1, 25), "-4.65"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 13), "4.65", "12.00"),
				recurring("p2", "gold", d(2014, 1, 25), d(2014, 2, 1), "2.71", "12.00"),
			},
		},
		{
			name: "two blocks in the period",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 7), "2.32", "12.00"),
				recurring("p2", "gold", d(2014, 1, 13), d(2014, 1, 17), "1.55", "12.00"),
				recurring("p3", "gold", d(2014, 1, 25), d(2014, 2, 1), "2.71", "12.00"),
			},
			want: []wantItem{
				rep("monthly", d(2014, 1, 7), d(2014, 1, 13), "-2.32"),
				rep("monthly", d(2014, 1, 17), d(2014, 1, 25), "-3.10"),
			},
		},
		{
			name: "upgrade before period end",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 25), "9.29", "12.00"),
				recurring("p2", "platinum", d(2014, 1, 25), d(2014, 2, 1), "4.52", "20.00"),
			},
			want: []wantItem{
				rec("p2", d(2014, 1, 25), d(2014, 2, 1), "4.52"),
				rep("monthly", d(2014, 1, 25), d(2014, 2, 1), "-2.71"),
			},
		},
		{
			name: "second change after a repaired change",
			existing: []*invoice.InvoiceItem{
				recurring("initial", "gold", d(2012, 5, 1), d(2012, 6, 1), "599.95", "599.95"),
				recurring("foo", "foo", d(2012, 5, 7), d(2012, 6, 1), "8.02", "9.95"),
				repair("r1", "initial", d(2012, 5, 7), d(2012, 6, 1), "-483.86"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2012, 5, 1), d(2012, 5, 7), "116.09", "599.95"),
				recurring("p2", "foo", d(2012, 5, 7), d(2012, 5, 8), "0.32", "9.95"),
				recurring("p3", "bar", d(2012, 5, 8), d(2012, 6, 1), "23.19", "29.95"),
			},
			want: []wantItem{
				rec("p3", d(2012, 5, 8), d(2012, 6, 1), "23.19"),
				rep("foo", d(2012, 5, 8), d(2012, 6, 1), "-7.70"),
			},
		},
		{
			name: "repair capped by a small item adjustment",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				itemAdj("monthly", d(2014, 1, 2), "-2.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 23), "8.52", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 23), d(2014, 2, 1), "-3.48")},
		},
		{
			name: "repair capped by a large item adjustment",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				itemAdj("monthly", d(2014, 1, 2), "-10.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 23), "8.52", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 23), d(2014, 2, 1), "-2.00")},
		},
		{
			name: "partial proration of a partially adjusted item",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				itemAdj("monthly", d(2014, 1, 1), "-11.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 25), "9.29", "12.00"),
			},
			want: []wantItem{rep("monthly", d(2014, 1, 25), d(2014, 2, 1), "-1.00")},
		},
		{
			name: "fully adjusted item is not repaired",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				itemAdj("monthly", d(2014, 1, 1), "-12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 25), "9.29", "12.00"),
			},
			want: []wantItem{rec("p1", d(2014, 1, 1), d(2014, 1, 25), "9.29")},
		},
		{
			name: "fully adjusted item is not billed again",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				itemAdj("monthly", d(2014, 1, 1), "-12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
			},
		},
		{
			name: "monthly to annual without proration",
			existing: []*invoice.InvoiceItem{
				recurring("monthly1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("monthly2", "gold", d(2014, 2, 1), d(2014, 3, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				recurring("p2", "gold", d(2014, 2, 1), d(2014, 2, 23), "9.43", "12.00"),
				recurring("annual", "gold-annual", d(2014, 2, 23), d(2015, 2, 23), "100.00", "100.00"),
			},
			want: []wantItem{
				rec("annual", d(2014, 2, 23), d(2015, 2, 23), "100.00"),
				rep("monthly2", d(2014, 2, 23), d(2014, 3, 1), "-2.57"),
			},
		},
		{
			name: "free recurring item is never repaired",
			existing: []*invoice.InvoiceItem{
				recurring("free", "gold", d(2012, 8, 1), d(2012, 9, 1), "0", "0"),
				recurring("paying", "gold", d(2012, 8, 1), d(2012, 9, 1), "12.00", "12.00"),
			},
			proposed: []*invoice.InvoiceItem{
				recurring("p1", "gold", d(2012, 8, 1), d(2012, 9, 1), "24.00", "24.00"),
			},
			want: []wantItem{
				rec("p1", d(2012, 8, 1), d(2012, 9, 1), "24.00"),
				rep("paying", d(2012, 8, 1), d(2012, 9, 1), "-12.00"),
			},
		},
		{
			name: "subscription cancelled after a block",
			existing: []*invoice.InvoiceItem{
				recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"),
				repair("r1", "monthly", d(2014, 1, 13), d(2014, 1, 25), "-4.65"),
			},
			want: []wantItem{
				rep("monthly", d(2014, 1, 1), d(2014, 1, 13), "-4.65"),
				rep("monthly", d(2014, 1, 25), d(2014, 2, 1), "-2.70"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view := mergeView(t, tt.existing, tt.proposed)
			assertView(t, tt.want, view)
		})
	}
}

func TestSubscriptionTree_MergeFixedItems(t *testing.T) {
	monthly := func() *invoice.InvoiceItem {
		return recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00")
	}
	fixed := func(id string) *invoice.InvoiceItem {
		return testutil.NewFixedItem(testutil.ItemParams{
			ID:        id,
			PlanName:  "gold",
			PhaseName: "gold-evergreen",
			Start:     d(2014, 1, 1),
			Amount:    "5.00",
		})
	}

	t.Run("already billed", func(t *testing.T) {
		view := mergeView(t,
			[]*invoice.InvoiceItem{monthly(), fixed("f1")},
			[]*invoice.InvoiceItem{recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"), fixed("f2")})
		assert.Empty(t, view)
	})

	t.Run("new", func(t *testing.T) {
		view := mergeView(t,
			[]*invoice.InvoiceItem{monthly()},
			[]*invoice.InvoiceItem{recurring("p1", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00"), fixed("f2")})
		require.Len(t, view, 1)
		assert.Equal(t, types.InvoiceItemTypeFixed, view[0].Type)
		assert.Equal(t, "f2", view[0].ID)
		assert.Nil(t, view[0].EndDate)
	})
}

func TestSubscriptionTree_WrongInitialItemConverges(t *testing.T) {
	var existing []*invoice.InvoiceItem
	proposed := []*invoice.InvoiceItem{
		recurring("wrong", "gold", d(2016, 9, 9), d(2016, 10, 8), "12.00", "12.00"),
	}

	for iteration := 0; iteration < 10; iteration++ {
		tree := newTestTree()
		for _, item := range existing {
			require.NoError(t, tree.AddItem(item))
		}
		require.NoError(t, tree.Build())
		require.NoError(t, tree.Flatten(true))
		for _, item := range proposed {
			require.NoError(t, tree.MergeProposedItem(item))
		}
		require.NoError(t, tree.BuildForMerge())
		view, err := tree.View()
		require.NoError(t, err)

		existing = append(existing, view...)
		if iteration == 0 {
			existing = append(existing, itemAdj("wrong", d(2016, 10, 2), "-12.00"))
		}
		proposed = []*invoice.InvoiceItem{
			recurring("", "gold", d(2016, 9, 8), d(2016, 10, 8), "12.00", "12.00"),
		}
	}

	// the wrong item, its adjustment and the correct item
	assert.Len(t, existing, 3)
}

func TestSubscriptionTree_ChainedRetroactiveChanges(t *testing.T) {
	gold := func(id string, start, end time.Time, amount string) *invoice.InvoiceItem {
		return recurring(id, "gold", start, end, amount, "12.00")
	}
	platinum := func(id string, start, end time.Time, amount string) *invoice.InvoiceItem {
		return recurring(id, "platinum", start, end, amount, "31.00")
	}
	// platinum from the 15th, then moved back to the 10th, then to the 5th
	history := [][]*invoice.InvoiceItem{
		{gold("gold1", d(2014, 1, 1), d(2014, 2, 1), "12.00")},
		{
			platinum("plat15", d(2014, 1, 15), d(2014, 2, 1), "17.00"),
			repair("r1", "gold1", d(2014, 1, 15), d(2014, 2, 1), "-6.58"),
		},
		{
			platinum("plat10", d(2014, 1, 10), d(2014, 2, 1), "22.00"),
			repair("r2", "gold1", d(2014, 1, 10), d(2014, 1, 15), "-1.94"),
			repair("r3", "plat15", d(2014, 1, 15), d(2014, 2, 1), "-17.00"),
		},
		{
			platinum("plat5", d(2014, 1, 5), d(2014, 2, 1), "27.00"),
			repair("r4", "gold1", d(2014, 1, 5), d(2014, 1, 10), "-1.94"),
			repair("r5", "plat10", d(2014, 1, 10), d(2014, 2, 1), "-22.00"),
		},
	}
	upTo := func(invoices int) []*invoice.InvoiceItem {
		items := make([]*invoice.InvoiceItem, 0)
		for _, inv := range history[:invoices] {
			items = append(items, inv...)
		}
		return items
	}

	tests := []struct {
		name     string
		existing []*invoice.InvoiceItem
		proposed []*invoice.InvoiceItem
		view     []wantItem
	}{
		{
			name:     "change moved back once",
			existing: upTo(3),
			proposed: []*invoice.InvoiceItem{
				gold("p1", d(2014, 1, 1), d(2014, 1, 10), "3.48"),
				platinum("p2", d(2014, 1, 10), d(2014, 2, 1), "22.00"),
			},
			view: []wantItem{
				rec("gold1", d(2014, 1, 1), d(2014, 1, 10), "3.48"),
				rec("plat10", d(2014, 1, 10), d(2014, 2, 1), "22.00"),
			},
		},
		{
			name:     "change moved back twice",
			existing: upTo(4),
			proposed: []*invoice.InvoiceItem{
				gold("p1", d(2014, 1, 1), d(2014, 1, 5), "1.55"),
				platinum("p2", d(2014, 1, 5), d(2014, 2, 1), "27.00"),
			},
			view: []wantItem{
				rec("gold1", d(2014, 1, 1), d(2014, 1, 5), "1.55"),
				rec("plat5", d(2014, 1, 5), d(2014, 2, 1), "27.00"),
			},
		},
		{
			name: "change before an earlier cancellation",
			existing: []*invoice.InvoiceItem{
				gold("gold1", d(2014, 1, 1), d(2014, 2, 1), "12.00"),
				repair("r1", "gold1", d(2014, 1, 13), d(2014, 2, 1), "-7.35"),
				platinum("plat8", d(2014, 1, 8), d(2014, 1, 13), "5.00"),
				repair("r2", "gold1", d(2014, 1, 8), d(2014, 1, 13), "-1.94"),
			},
			proposed: []*invoice.InvoiceItem{
				gold("p1", d(2014, 1, 1), d(2014, 1, 8), "2.71"),
				platinum("p2", d(2014, 1, 8), d(2014, 1, 13), "5.00"),
			},
			view: []wantItem{
				rec("gold1", d(2014, 1, 1), d(2014, 1, 8), "2.71"),
				rec("plat8", d(2014, 1, 8), d(2014, 1, 13), "5.00"),
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			view, err := buildView(t, tt.existing...)
			require.NoError(t, err)
			assertView(t, tt.view, view)

			// the history that produced these items has nothing left to invoice
			assert.Empty(t, mergeView(t, tt.existing, tt.proposed))
		})
	}

	t.Run("moving the change back repairs both earlier items", func(t *testing.T) {
		view := mergeView(t, upTo(2), []*invoice.InvoiceItem{
			gold("p1", d(2014, 1, 1), d(2014, 1, 10), "3.48"),
			platinum("p2", d(2014, 1, 10), d(2014, 2, 1), "22.00"),
		})
		assertView(t, []wantItem{
			rec("p2", d(2014, 1, 10), d(2014, 2, 1), "22.00"),
			rep("gold1", d(2014, 1, 10), d(2014, 1, 15), "-1.94"),
			rep("plat15", d(2014, 1, 15), d(2014, 2, 1), "-17.00"),
		}, view)
	})
}

func TestSubscriptionTree_RepairsNeverExceedBilledAmount(t *testing.T) {
	tree := newTestTree()
	require.NoError(t, tree.AddItem(recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00")))
	require.NoError(t, tree.AddItem(itemAdj("monthly", d(2014, 1, 2), "-1.00")))
	require.NoError(t, tree.AddItem(repair("r1", "monthly", d(2014, 1, 7), d(2014, 1, 13), "-2.32")))
	require.NoError(t, tree.AddItem(repair("r2", "monthly", d(2014, 1, 20), d(2014, 1, 25), "-1.94")))
	require.NoError(t, tree.Flatten(true))
	require.NoError(t, tree.BuildForMerge())

	view, err := tree.View()
	require.NoError(t, err)
	require.NotEmpty(t, view)

	total := decimal.Zero
	for _, item := range view {
		assert.Equal(t, types.InvoiceItemTypeRepairAdjustment, item.Type)
		total = total.Add(item.Amount.Abs())
	}
	ledger := tree.Ledger()
	assert.True(t, total.Add(testutil.Dec("4.26")).Add(ledger.Adjusted("monthly")).LessThanOrEqual(testutil.Dec("12.00")),
		"repaired %s", total)
	assert.True(t, ledger.NetAmount("monthly").IsZero())
}

func TestSubscriptionTree_RepairIDsAreDeterministic(t *testing.T) {
	run := func() []*invoice.InvoiceItem {
		return mergeView(t,
			[]*invoice.InvoiceItem{recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00")},
			[]*invoice.InvoiceItem{recurring("p1", "gold", d(2014, 1, 1), d(2014, 1, 25), "9.29", "12.00")})
	}
	first, second := run(), run()
	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
	assert.NotEqual(t, "monthly", first[0].ID)
}

func TestSubscriptionTree_Lifecycle(t *testing.T) {
	tree := newTestTree()
	require.NoError(t, tree.AddItem(recurring("monthly", "gold", d(2014, 1, 1), d(2014, 2, 1), "12.00", "12.00")))
	require.NoError(t, tree.Build())

	err := tree.AddItem(recurring("other", "gold", d(2014, 2, 1), d(2014, 3, 1), "12.00", "12.00"))
	assert.True(t, ierr.IsInvalidOperation(err))
	assert.True(t, ierr.IsInvalidOperation(tree.Build()))

	require.NoError(t, tree.Flatten(true))
	err = tree.MergeProposedItem(repair("r1", "monthly", d(2014, 1, 1), d(2014, 2, 1), "-12.00"))
	assert.True(t, ierr.IsInvalidOperation(err))
}

func TestSubscriptionTree_JSONSerializeTree(t *testing.T) {
	tree := newTestTree()
	require.NoError(t, tree.AddItem(recurring("yearly", "gold-annual", d(2014, 1, 1), d(2015, 1, 1), "10", "10")))
	require.NoError(t, tree.AddItem(recurring("other", "other", d(2014, 8, 1), d(2015, 1, 1), "1", "1")))
	require.NoError(t, tree.AddItem(repair("r1", "yearly", d(2014, 8, 1), d(2015, 1, 1), "-10")))

	var buf bytes.Buffer
	require.NoError(t, tree.JSONSerializeTree(&buf))

	var nodes []map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &nodes))
	require.Len(t, nodes, 1)
	assert.Equal(t, "2014-01-01", nodes[0]["start"])
	assert.Equal(t, "2015-01-01", nodes[0]["end"])

	children, ok := nodes[0]["children"].([]interface{})
	require.True(t, ok)
	require.Len(t, children, 1)
	child := children[0].(map[string]interface{})
	items := child["items"].([]interface{})
	require.Len(t, items, 2)
	assert.Equal(t, "ADD", items[0].(map[string]interface{})["action"])
	assert.Equal(t, "CANCEL", items[1].(map[string]interface{})["action"])
}
