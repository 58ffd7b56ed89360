package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sort"

	"github.com/lyceum-lms/lyceum-lms/internal/hierarchy"
)

// NodeSource loads every hierarchy node for offline verification.
type NodeSource interface {
	AllNodes(ctx context.Context) ([]hierarchy.Node, error)
}

// TreeOpsCLI exposes maintenance helpers for the resource hierarchy.
type TreeOpsCLI struct {
	nodes NodeSource
}

// NewTreeOpsCLI constructs the helper over the given node source.
func NewTreeOpsCLI(nodes NodeSource) *TreeOpsCLI {
	return &TreeOpsCLI{nodes: nodes}
}

// TreeVerifyOptions defines available flags for the tree verify command.
type TreeVerifyOptions struct {
	JSONOutput bool
	Stdout     io.Writer
	Stderr     io.Writer
}

// TreeVerifySummary describes the JSON response for tree verify.
type TreeVerifySummary struct {
	OK       bool                `json:"ok"`
	Nodes    int                 `json:"nodes"`
	Problems []TreeVerifyProblem `json:"problems"`
}

// TreeVerifyProblem reports one integrity violation.
type TreeVerifyProblem struct {
	NodeID int64  `json:"node_id"`
	Detail string `json:"detail"`
}

// VerifyCommand loads the stored tree and reports integrity violations. Exit
// code 10 signals findings so shell checks can tell them from failures.
func (c *TreeOpsCLI) VerifyCommand(ctx context.Context, opts TreeVerifyOptions) int {
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}
	nodes, err := c.nodes.AllNodes(ctx)
	if err != nil {
		_, _ = fmt.Fprintf(opts.Stderr, "tree verify: load nodes: %v\n", err)
		return 1
	}
	problems := hierarchy.VerifyTree(nodes)
	summary := TreeVerifySummary{
		OK:       len(problems) == 0,
		Nodes:    len(nodes),
		Problems: make([]TreeVerifyProblem, 0, len(problems)),
	}
	for _, p := range problems {
		summary.Problems = append(summary.Problems, TreeVerifyProblem{NodeID: p.NodeID, Detail: p.Detail})
	}
	sort.Slice(summary.Problems, func(i, j int) bool { return summary.Problems[i].NodeID < summary.Problems[j].NodeID })
	if opts.JSONOutput {
		if err := json.NewEncoder(opts.Stdout).Encode(summary); err != nil {
			_, _ = fmt.Fprintf(opts.Stderr, "tree verify: encode json: %v\n", err)
			return 1
		}
	} else {
		renderVerifyHuman(opts.Stdout, summary)
	}
	if !summary.OK {
		return 10
	}
	return 0
}

func renderVerifyHuman(out io.Writer, summary TreeVerifySummary) {
	_, _ = fmt.Fprintf(out, "Hierarchy verification over %d node(s)\n", summary.Nodes)
	if summary.OK {
		_, _ = fmt.Fprintln(out, "No integrity problems detected.")
		return
	}
	_, _ = fmt.Fprintf(out, "%d problem(s) detected:\n", len(summary.Problems))
	for _, p := range summary.Problems {
		_, _ = fmt.Fprintf(out, " - node %d: %s\n", p.NodeID, p.Detail)
	}
}
