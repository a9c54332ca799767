package browser

import (
	"fmt"
	"strings"

	"github.com/go-rod/rod/lib/proto"
)

const emptySnapshot = "(empty page)"

// axValue extracts a printable string from an AXValue.
func axValue(v *proto.AccessibilityAXValue) string {
	if v == nil {
		return ""
	}
	if s := v.Value.Str(); s != "" {
		return s
	}
	raw := v.Value.String()
	switch raw {
	case "", "null", `""`:
		return ""
	}
	return raw
}

type axEntry struct {
	node  *proto.AccessibilityAXNode
	depth int
}

// walkAXTree flattens the CDP node list into depth-first document order,
// starting from the first node no other node lists as a child.
func walkAXTree(nodes []*proto.AccessibilityAXNode, limit int) []axEntry {
	if len(nodes) == 0 {
		return nil
	}
	byID := make(map[proto.AccessibilityAXNodeID]*proto.AccessibilityAXNode, len(nodes))
	isChild := make(map[proto.AccessibilityAXNodeID]bool)
	for _, n := range nodes {
		if n.NodeID != "" {
			byID[n.NodeID] = n
		}
		for _, cid := range n.ChildIDs {
			isChild[cid] = true
		}
	}

	root := nodes[0]
	for _, n := range nodes {
		if n.NodeID != "" && !isChild[n.NodeID] {
			root = n
			break
		}
	}
	if root.NodeID == "" {
		return nil
	}

	type frame struct {
		id    proto.AccessibilityAXNodeID
		depth int
	}
	var out []axEntry
	stack := []frame{{root.NodeID, 0}}
	for len(stack) > 0 && len(out) < limit {
		f := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		n, ok := byID[f.id]
		if !ok {
			continue
		}
		out = append(out, axEntry{node: n, depth: f.depth})
		for i := len(n.ChildIDs) - 1; i >= 0; i-- {
			if _, ok := byID[n.ChildIDs[i]]; ok {
				stack = append(stack, frame{n.ChildIDs[i], f.depth + 1})
			}
		}
	}
	return out
}

// snapshotBuilder assigns refs and renders one line per kept AX node.
type snapshotBuilder struct {
	opts        SnapshotOptions
	refs        map[string]RoleRef
	seen        map[string][]string // role+name -> refs, for nth disambiguation
	lines       []string
	interactive int
}

func (b *snapshotBuilder) add(e axEntry) {
	role := strings.ToLower(axValue(e.node.Role))
	name := axValue(e.node.Name)

	switch {
	case (role == "" || role == "none" || role == "unknown") && name == "":
		return
	case role == "statictext" || role == "inlinetextbox":
		return
	case b.opts.MaxDepth > 0 && e.depth > b.opts.MaxDepth:
		return
	}

	class := classOf(role)
	if b.opts.Interactive && class != roleInteractive {
		return
	}
	if b.opts.Compact && class == roleStructural && name == "" {
		return
	}

	var sb strings.Builder
	sb.WriteString(strings.Repeat("  ", e.depth))
	sb.WriteString("- ")
	sb.WriteString(role)
	if name != "" {
		fmt.Fprintf(&sb, " %q", name)
	}

	if class == roleInteractive || (class == roleContent && name != "") {
		ref := fmt.Sprintf("e%d", len(b.refs)+1)
		key := role + "\x00" + name
		nth := len(b.seen[key])
		b.seen[key] = append(b.seen[key], ref)
		b.refs[ref] = RoleRef{
			Role:          role,
			Name:          name,
			Nth:           nth,
			BackendNodeID: int(e.node.BackendDOMNodeID),
		}
		fmt.Fprintf(&sb, " [ref=%s]", ref)
		if nth > 0 {
			fmt.Fprintf(&sb, " [nth=%d]", nth)
		}
		if class == roleInteractive {
			b.interactive++
		}
	}

	if v := axValue(e.node.Value); v != "" {
		fmt.Fprintf(&sb, ": %q", v)
	}
	if d := axValue(e.node.Description); d != "" {
		fmt.Fprintf(&sb, " (%s)", d)
	}
	b.lines = append(b.lines, sb.String())
}

// FormatSnapshot renders CDP accessibility nodes as an indented text tree.
// Interactive elements and named content elements get refs ("e1", "e2", ...)
// that later selectors can address as "@e1".
func FormatSnapshot(nodes []*proto.AccessibilityAXNode, opts SnapshotOptions) *SnapshotResult {
	def := DefaultSnapshotOptions()
	if opts.MaxChars == 0 {
		opts.MaxChars = def.MaxChars
	}
	if opts.Limit == 0 {
		opts.Limit = def.Limit
	}

	b := &snapshotBuilder{
		opts: opts,
		refs: make(map[string]RoleRef),
		seen: make(map[string][]string),
	}
	for _, e := range walkAXTree(nodes, opts.Limit) {
		b.add(e)
	}

	// nth only matters when a role+name pair repeats
	for _, refs := range b.seen {
		if len(refs) == 1 {
			r := b.refs[refs[0]]
			r.Nth = 0
			b.refs[refs[0]] = r
		}
	}

	text := emptySnapshot
	if len(b.lines) > 0 {
		text = strings.Join(b.lines, "\n")
		if opts.Compact {
			text = pruneRefless(b.lines)
		}
	}

	truncated := false
	if opts.MaxChars > 0 && len(text) > opts.MaxChars {
		text = text[:opts.MaxChars] + "\n[...TRUNCATED]"
		truncated = true
	}

	return &SnapshotResult{
		Snapshot:  text,
		Refs:      b.refs,
		Truncated: truncated,
		Stats: SnapshotStats{
			Lines:       len(b.lines),
			Chars:       len(text),
			Refs:        len(b.refs),
			Interactive: b.interactive,
		},
	}
}

// pruneRefless keeps lines that carry a ref or a value, plus the ancestors
// of such lines.
func pruneRefless(lines []string) string {
	keep := make([]string, 0, len(lines))
	for i, line := range lines {
		if strings.Contains(line, "[ref=") {
			keep = append(keep, line)
			continue
		}
		t := strings.TrimSpace(line)
		if strings.Contains(t, ":") && !strings.HasSuffix(t, ":") {
			keep = append(keep, line)
			continue
		}
		depth := indentOf(line)
		for _, next := range lines[i+1:] {
			if indentOf(next) <= depth {
				break
			}
			if strings.Contains(next, "[ref=") {
				keep = append(keep, line)
				break
			}
		}
	}
	return strings.Join(keep, "\n")
}

func indentOf(line string) int {
	return (len(line) - len(strings.TrimLeft(line, " "))) / 2
}
