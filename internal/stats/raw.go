package stats

import (
	"encoding/json"
	"fmt"
	"sort"
)

// RawNode is one "<path>/<node>" entry of the host statistics document.
type RawNode struct {
	Metrics  []string         `json:"metrics"`
	Entities map[string][]any `json:"entities"`
}

// RawTree is the statistics document returned by a host.
type RawTree struct {
	Stats map[string]RawNode `json:"stats"`
}

// ParseRawTree decodes a host statistics document.
func ParseRawTree(data []byte) (*RawTree, error) {
	var tree RawTree
	if err := json.Unmarshal(data, &tree); err != nil {
		return nil, fmt.Errorf("failed to decode stats document: %w", err)
	}
	if tree.Stats == nil {
		tree.Stats = map[string]RawNode{}
	}
	return &tree, nil
}

// Node returns the entry stored under path and node.
func (t *RawTree) Node(path, node string) (RawNode, bool) {
	if t == nil {
		return RawNode{}, false
	}
	n, ok := t.Stats[path+"/"+node]
	if !ok || (len(n.Metrics) == 0 && len(n.Entities) == 0) {
		return RawNode{}, false
	}
	return n, true
}

// EntityIDs returns the entity identifiers in sorted order.
func (n RawNode) EntityIDs() []string {
	ids := make([]string, 0, len(n.Entities))
	for id := range n.Entities {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Fields pairs the metric names with one entity's positional values. Extra
// names or values on either side are ignored.
func (n RawNode) Fields(entity string) Fields {
	values := n.Entities[entity]
	f := make(Fields, len(n.Metrics))
	for i, name := range n.Metrics {
		if i >= len(values) {
			break
		}
		f[name] = values[i]
	}
	return f
}
