// Package visualization renders machine definitions as Graphviz DOT graphs.
// Composite and parallel states become nested clusters, atomic states become
// nodes, and transitions become labeled edges, so a definition can be
// inspected visually before it is ever started.
package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/anggasct/machina"
)

// DOTOptions controls the generated DOT output.
type DOTOptions struct {
	// RankDirection sets the graph layout direction: "TB", "LR", "BT" or "RL".
	RankDirection string
	// NodeShape is the Graphviz shape used for atomic state nodes.
	NodeShape string
	// ShowEvents labels each edge with the event that triggers it.
	ShowEvents bool
	// ShowGuards appends a [guarded] marker to edges whose transition
	// carries a guard function.
	ShowGuards bool
	// CompactMode shrinks fonts and node spacing for large machines.
	CompactMode bool
}

// DefaultDOTOptions returns the options used when none are supplied.
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		RankDirection: "TB",
		NodeShape:     "box",
		ShowEvents:    true,
		ShowGuards:    true,
	}
}

// DOTGenerator produces DOT output for one machine definition.
type DOTGenerator struct {
	definition *machina.Definition
	options    DOTOptions
}

// NewDOTGenerator creates a generator for the given definition. Options may
// be omitted to use DefaultDOTOptions.
func NewDOTGenerator(definition *machina.Definition, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}
	return &DOTGenerator{
		definition: definition,
		options:    opts,
	}
}

// Generate returns the DOT representation of the definition.
func (g *DOTGenerator) Generate() (string, error) {
	if g.definition == nil {
		return "", fmt.Errorf("no definition to render")
	}
	root, ok := g.definition.State(g.definition.Root())
	if !ok {
		return "", fmt.Errorf("definition has no root state")
	}

	var dot strings.Builder
	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString("  compound=true;\n")
	if g.options.CompactMode {
		dot.WriteString("  fontsize=10;\n")
		dot.WriteString("  nodesep=0.3;\n")
		dot.WriteString(fmt.Sprintf("  node [shape=%s, style=\"rounded,filled\", fillcolor=white, fontsize=10];\n", g.options.NodeShape))
		dot.WriteString("  edge [fontsize=9];\n")
	} else {
		dot.WriteString(fmt.Sprintf("  node [shape=%s, style=\"rounded,filled\", fillcolor=white];\n", g.options.NodeShape))
	}
	dot.WriteString("\n")

	// The root composite would wrap the whole graph in one redundant
	// cluster, so its children are emitted at the top level instead.
	if len(root.Children) == 0 {
		g.writeNode(&dot, root, 1)
	} else {
		if root.Kind == machina.Composite && root.Initial != "" {
			g.writeInitialMarker(&dot, root, 1)
		}
		for _, child := range root.Children {
			if err := g.writeState(&dot, child, 1); err != nil {
				return "", err
			}
		}
	}

	dot.WriteString("\n")
	if err := g.writeTransitions(&dot); err != nil {
		return "", err
	}

	dot.WriteString("}\n")
	return dot.String(), nil
}

// writeState emits one state and, for composites and parallels, a cluster
// containing its children.
func (g *DOTGenerator) writeState(dot *strings.Builder, id string, depth int) error {
	node, ok := g.definition.State(id)
	if !ok {
		return fmt.Errorf("definition references unknown state '%s'", id)
	}

	if len(node.Children) == 0 {
		g.writeNode(dot, node, depth)
		return nil
	}

	indent := strings.Repeat("  ", depth)
	dot.WriteString(fmt.Sprintf("%ssubgraph \"cluster_%s\" {\n", indent, escapeDOT(node.ID)))
	dot.WriteString(fmt.Sprintf("%s  label=\"%s\";\n", indent, escapeDOT(node.ID)))
	dot.WriteString(fmt.Sprintf("%s  style=\"rounded,filled\";\n", indent))
	if node.Kind == machina.Parallel {
		dot.WriteString(fmt.Sprintf("%s  fillcolor=lavender;\n", indent))
	} else {
		dot.WriteString(fmt.Sprintf("%s  fillcolor=lightcyan;\n", indent))
	}

	if node.Kind == machina.Composite && node.Initial != "" {
		g.writeInitialMarker(dot, node, depth+1)
	}
	for _, child := range node.Children {
		if err := g.writeState(dot, child, depth+1); err != nil {
			return err
		}
	}

	dot.WriteString(fmt.Sprintf("%s}\n", indent))
	return nil
}

// writeNode emits a single atomic state node.
func (g *DOTGenerator) writeNode(dot *strings.Builder, node *machina.StateNode, depth int) {
	indent := strings.Repeat("  ", depth)
	dot.WriteString(fmt.Sprintf("%s\"%s\" [label=\"%s\"];\n", indent, escapeDOT(node.ID), escapeDOT(node.ID)))
}

// writeInitialMarker emits the filled-dot marker pointing at a composite's
// initial child, the usual statechart notation for default entry.
func (g *DOTGenerator) writeInitialMarker(dot *strings.Builder, node *machina.StateNode, depth int) {
	indent := strings.Repeat("  ", depth)
	marker := fmt.Sprintf("__init_%s", node.ID)
	dot.WriteString(fmt.Sprintf("%s\"%s\" [shape=point, width=0.15, fillcolor=black];\n", indent, escapeDOT(marker)))

	attrs := []string{}
	head := g.anchor(node.Initial)
	if head != node.Initial {
		attrs = append(attrs, fmt.Sprintf("lhead=\"cluster_%s\"", escapeDOT(node.Initial)))
	}
	dot.WriteString(fmt.Sprintf("%s\"%s\" -> \"%s\"%s;\n", indent, escapeDOT(marker), escapeDOT(head), formatAttrs(attrs)))
}

// writeTransitions emits one edge per transition, in definition order.
func (g *DOTGenerator) writeTransitions(dot *strings.Builder) error {
	for _, id := range g.definition.StateIDs() {
		for _, transition := range g.definition.TransitionsFrom(id) {
			g.writeEdge(dot, transition)
		}
	}
	return nil
}

func (g *DOTGenerator) writeEdge(dot *strings.Builder, transition *machina.Transition) {
	attrs := []string{}

	if g.options.ShowEvents {
		label := transition.Event
		if label == machina.Completion {
			label = "done"
		}
		if g.options.ShowGuards && transition.Guard != nil {
			label += " [guarded]"
		}
		attrs = append(attrs, fmt.Sprintf("label=\"%s\"", escapeDOT(label)))
	} else if g.options.ShowGuards && transition.Guard != nil {
		attrs = append(attrs, "label=\"[guarded]\"")
	}

	tail := g.anchor(transition.Source)
	head := g.anchor(transition.Target)
	if tail != transition.Source {
		attrs = append(attrs, fmt.Sprintf("ltail=\"cluster_%s\"", escapeDOT(transition.Source)))
	}
	if transition.Internal {
		// Internal transitions never exit their source, drawn as a
		// dashed self-loop.
		head = tail
		attrs = append(attrs, "style=dashed")
	} else if head != transition.Target {
		attrs = append(attrs, fmt.Sprintf("lhead=\"cluster_%s\"", escapeDOT(transition.Target)))
	}

	dot.WriteString(fmt.Sprintf("  \"%s\" -> \"%s\"%s;\n", escapeDOT(tail), escapeDOT(head), formatAttrs(attrs)))
}

// anchor resolves a state to a concrete node the edge can attach to.
// Graphviz edges must terminate at nodes, so edges whose endpoint is a
// cluster attach to the default-entry leaf inside it and rely on
// lhead/ltail to clip at the cluster border.
func (g *DOTGenerator) anchor(id string) string {
	current := id
	for {
		node, ok := g.definition.State(current)
		if !ok || len(node.Children) == 0 {
			return current
		}
		if node.Initial != "" {
			current = node.Initial
		} else {
			current = node.Children[0]
		}
	}
}

func formatAttrs(attrs []string) string {
	if len(attrs) == 0 {
		return ""
	}
	return " [" + strings.Join(attrs, ", ") + "]"
}

func escapeDOT(s string) string {
	return strings.ReplaceAll(s, "\"", "\\\"")
}

// GenerateToFile writes the DOT representation to a file.
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz.
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator.
func NewSVGGenerator(definition *machina.Definition, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(definition, options...),
	}
}

// Generate renders the definition to SVG by piping DOT through the
// Graphviz dot command.
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG is a convenience method that renders this generator's
// definition straight to SVG.
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
