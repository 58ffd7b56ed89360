package hierarchy

import "fmt"

// Problem describes one integrity violation found in the stored tree.
type Problem struct {
	NodeID int64
	Detail string
}

func (p Problem) String() string {
	return fmt.Sprintf("node %d: %s", p.NodeID, p.Detail)
}

// VerifyTree checks every node's parent link and stored path against the
// link structure, reporting cycles, orphans, duplicate roots in paths, and
// paths that disagree with the links. A healthy tree yields no problems.
func VerifyTree(nodes []Node) []Problem {
	byID := make(map[int64]Node, len(nodes))
	for _, n := range nodes {
		byID[n.ID] = n
	}
	var problems []Problem
	for _, n := range nodes {
		expected, detail := walkUp(byID, n)
		if detail != "" {
			problems = append(problems, Problem{NodeID: n.ID, Detail: detail})
			continue
		}
		if !equalPath(expected, n.Path) {
			problems = append(problems, Problem{NodeID: n.ID, Detail: fmt.Sprintf("stored path %v disagrees with parent links %v", n.Path, expected)})
		}
	}
	return problems
}

// walkUp follows parent links from n to a root, returning the root-first
// chain of ids. A non-empty detail reports a cycle, missing parent, or a
// chain beyond MaxDepth.
func walkUp(byID map[int64]Node, n Node) ([]int64, string) {
	chain := make([]int64, 0, MaxDepth)
	onStack := make(map[int64]struct{}, MaxDepth)
	cur := n
	for {
		if _, revisit := onStack[cur.ID]; revisit {
			return nil, fmt.Sprintf("cycle through node %d", cur.ID)
		}
		onStack[cur.ID] = struct{}{}
		chain = append(chain, cur.ID)
		if len(chain) > MaxDepth {
			return nil, fmt.Sprintf("chain exceeds max depth %d", MaxDepth)
		}
		if cur.ParentID == 0 {
			break
		}
		parent, ok := byID[cur.ParentID]
		if !ok {
			return nil, fmt.Sprintf("missing parent %d", cur.ParentID)
		}
		cur = parent
	}
	for i, j := 0, len(chain)-1; i < j; i, j = i+1, j-1 {
		chain[i], chain[j] = chain[j], chain[i]
	}
	return chain, ""
}

func equalPath(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
