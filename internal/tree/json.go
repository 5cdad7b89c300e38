package tree

import (
	"io"

	"github.com/flexprice/invoicer/internal/types"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonNode struct {
	Start    string      `json:"start"`
	End      string      `json:"end"`
	Items    []*Item     `json:"items"`
	Children []*jsonNode `json:"children,omitempty"`
}

func (t *itemTree) toJSONNode(id nodeID) *jsonNode {
	n := t.n(id)
	out := &jsonNode{Items: n.items}
	if n.hasRange {
		out.Start = types.FormatDate(n.start)
		out.End = types.FormatDate(n.end)
	}
	for c := n.leftChild; c != noNode; c = t.n(c).rightSibling {
		out.Children = append(out.Children, t.toJSONNode(c))
	}
	return out
}

// writeJSON writes the nodes below the root
func (t *itemTree) writeJSON(w io.Writer) error {
	children := t.toJSONNode(rootID).Children
	if children == nil {
		children = []*jsonNode{}
	}
	return json.NewEncoder(w).Encode(children)
}
