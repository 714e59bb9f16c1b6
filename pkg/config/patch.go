package config

import (
	"encoding/json"
	"strconv"

	jsonpatch "github.com/evanphx/json-patch"
	"github.com/google/go-cmp/cmp"
	"gopkg.in/yaml.v3"
)

// applyPatch applies an RFC 6902 JSON patch to the YAML document in place. Nodes the
// patch does not touch keep their style and comments.
func applyPatch(doc *yaml.Node, patchJSON string) error {
	var before interface{}
	if err := doc.Decode(&before); err != nil {
		return err
	}

	orig, err := json.Marshal(before)
	if err != nil {
		return err
	}

	patch, err := jsonpatch.DecodePatch([]byte(patchJSON))
	if err != nil {
		return err
	}

	modified, err := patch.Apply(orig)
	if err != nil {
		return err
	}

	var after interface{}
	if err := json.Unmarshal(modified, &after); err != nil {
		return err
	}

	// Walk both values in lockstep and replay every difference onto the node tree
	w := &nodeWriter{}
	w.push(doc, nil, "$")
	cmp.Equal(before, after, cmp.Reporter(w))

	return nil
}

type step struct {
	node *yaml.Node
	ps   cmp.PathStep
	key  string
}

// nodeWriter is a cmp.Reporter that mirrors the path cmp is visiting onto a yaml.Node
// tree and writes reported differences into it.
type nodeWriter struct {
	stack []step
}

func (w *nodeWriter) push(n *yaml.Node, ps cmp.PathStep, key string) {
	w.stack = append(w.stack, step{node: n, ps: ps, key: key})
}

func (w *nodeWriter) current() step {
	return w.stack[len(w.stack)-1]
}

func (w *nodeWriter) parent() *yaml.Node {
	if len(w.stack) < 2 {
		return nil
	}
	return w.stack[len(w.stack)-2].node
}

func (w *nodeWriter) PushStep(ps cmp.PathStep) {
	cur := w.current()

	switch p := ps.(type) {
	case cmp.SliceIndex:
		i := p.Key()
		if 0 <= i && i < len(cur.node.Content) {
			w.push(cur.node.Content[i], ps, strconv.Itoa(i))
		} else {
			_, y := p.SplitKeys()
			w.push(cur.node, ps, strconv.Itoa(y))
		}
	case cmp.MapIndex:
		key := p.Key().String()
		for i := 0; i+1 < len(cur.node.Content); i += 2 {
			if cur.node.Content[i].Value == key {
				w.push(cur.node.Content[i+1], ps, key)
				return
			}
		}
		w.push(cur.node, ps, key)
	case cmp.TypeAssertion:
		w.push(cur.node, cur.ps, "_")
	default:
		// the root step, from the document to its top level node
		w.push(cur.node.Content[0], ps, "$")
	}
}

func (w *nodeWriter) Report(r cmp.Result) {
	if r.Equal() {
		return
	}

	cur := w.current()
	parent := w.parent()
	vx, vy := cur.ps.Values()

	switch {
	case vx.IsValid() && vy.IsValid():
		n, err := toNode(vy.Interface())
		if err != nil {
			return
		}
		cur.node.Kind = n.Kind
		cur.node.Style = n.Style
		cur.node.Tag = n.Tag
		cur.node.Value = n.Value
		cur.node.Content = n.Content
	case vx.IsValid():
		removeChild(parent, cur.key)
	case vy.IsValid():
		n, err := toNode(vy.Interface())
		if err != nil {
			return
		}
		addChild(parent, cur.key, n)
	}
}

func (w *nodeWriter) PopStep() {
	w.stack = w.stack[:len(w.stack)-1]
}

func toNode(v interface{}) (*yaml.Node, error) {
	out, err := yaml.Marshal(v)
	if err != nil {
		return nil, err
	}
	var doc yaml.Node
	if err := yaml.Unmarshal(out, &doc); err != nil {
		return nil, err
	}
	return doc.Content[0], nil
}

func removeChild(parent *yaml.Node, key string) {
	switch parent.Kind {
	case yaml.DocumentNode:
		parent.Content = nil
	case yaml.SequenceNode:
		// cmp reports removals from the tail of a sequence
		parent.Content = parent.Content[:len(parent.Content)-1]
	case yaml.MappingNode:
		for i := 0; i+1 < len(parent.Content); i += 2 {
			if parent.Content[i].Value == key {
				parent.Content = append(parent.Content[:i:i], parent.Content[i+2:]...)
				return
			}
		}
	}
}

func addChild(parent *yaml.Node, key string, n *yaml.Node) {
	switch parent.Kind {
	case yaml.DocumentNode:
		parent.Content = []*yaml.Node{n}
	case yaml.SequenceNode:
		i, _ := strconv.Atoi(key)
		var nodes []*yaml.Node
		nodes = append(nodes, parent.Content[:i]...)
		nodes = append(nodes, n)
		nodes = append(nodes, parent.Content[i:]...)
		parent.Content = nodes
	case yaml.MappingNode:
		k := &yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: key}
		parent.Content = append(parent.Content, k, n)
	}
}
