package engine

import (
	"fmt"
	"slices"
	"strings"

	"github.com/openfroyo/mgmtcore/pkg/model"
)

// BatchPlan orders a batch of operations for concurrent submission. An
// operation depends on every earlier operation whose target overlaps its
// own, so operations on the same subtree keep their batch order while
// independent ones share a level.
type BatchPlan struct {
	ops []model.Operation

	// dependencies maps an operation index to the earlier indexes it waits for
	dependencies [][]int

	// dependents maps an operation index to the later indexes waiting for it
	dependents [][]int

	// levels groups operation indexes by execution level
	levels [][]int
}

// NewBatchPlan builds the plan for ops.
func NewBatchPlan(ops []model.Operation) *BatchPlan {
	p := &BatchPlan{
		ops:          ops,
		dependencies: make([][]int, len(ops)),
		dependents:   make([][]int, len(ops)),
	}
	for j := range ops {
		for i := 0; i < j; i++ {
			if ops[i].Address.Overlaps(ops[j].Address) {
				p.dependencies[j] = append(p.dependencies[j], i)
				p.dependents[i] = append(p.dependents[i], j)
			}
		}
	}
	p.computeLevels()
	return p
}

// computeLevels assigns levels with Kahn's algorithm. Edges only point
// forward in the batch, so the graph is acyclic.
func (p *BatchPlan) computeLevels() {
	inDegree := make([]int, len(p.ops))
	current := make([]int, 0)
	for i := range p.ops {
		inDegree[i] = len(p.dependencies[i])
		if inDegree[i] == 0 {
			current = append(current, i)
		}
	}

	for len(current) > 0 {
		p.levels = append(p.levels, current)
		next := make([]int, 0)
		for _, i := range current {
			for _, dep := range p.dependents[i] {
				inDegree[dep]--
				if inDegree[dep] == 0 {
					next = append(next, dep)
				}
			}
		}
		slices.Sort(next)
		current = next
	}
}

// Levels returns operation indexes grouped by level. Operations within a
// level touch disjoint subtrees.
func (p *BatchPlan) Levels() [][]int {
	out := make([][]int, len(p.levels))
	for i, level := range p.levels {
		out[i] = append([]int(nil), level...)
	}
	return out
}

// Dependencies returns the indexes of the operations ops[i] waits for.
func (p *BatchPlan) Dependencies(i int) []int {
	return append([]int(nil), p.dependencies[i]...)
}

// Depth returns the number of levels.
func (p *BatchPlan) Depth() int {
	return len(p.levels)
}

// ToDOT renders the plan in Graphviz DOT format.
func (p *BatchPlan) ToDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph BatchPlan {\n")
	sb.WriteString("  rankdir=TB;\n")
	sb.WriteString("  node [shape=box, style=rounded];\n\n")

	for level, indexes := range p.levels {
		fmt.Fprintf(&sb, "  subgraph cluster_level_%d {\n", level)
		fmt.Fprintf(&sb, "    label=\"Level %d\";\n", level)
		sb.WriteString("    style=dashed;\n")
		for _, i := range indexes {
			op := p.ops[i]
			fmt.Fprintf(&sb, "    \"op%d\" [label=\"%s\\n%s\", fillcolor=\"%s\", style=\"filled,rounded\"];\n",
				i, op.Address, op.Name, operationColor(op.Name))
		}
		sb.WriteString("  }\n\n")
	}

	for j, deps := range p.dependencies {
		for _, i := range deps {
			fmt.Fprintf(&sb, "  \"op%d\" -> \"op%d\";\n", i, j)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}

func operationColor(name string) string {
	switch name {
	case model.OpAdd:
		return "lightgreen"
	case model.OpWriteAttribute, model.OpUndefineAttribute, model.OpComposite:
		return "lightblue"
	case model.OpRemove:
		return "lightcoral"
	case model.OpReadResource, model.OpReadAttribute, model.OpReadOperationNames:
		return "lightgray"
	default:
		return "white"
	}
}
