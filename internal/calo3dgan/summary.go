package calo3dgan

import (
	"fmt"
	"strings"
)

// LayerSummary is one row of a model summary. Names follow the kind_index convention
// (conv3d, conv3d_1, ...).
type LayerSummary struct {
	Name   string
	Kind   string
	Output []int
	Params int
}

func summaryTable(sb *strings.Builder, name string, rows []LayerSummary) {
	rule := strings.Repeat("_", 72)
	fmt.Fprintf(sb, "Model: %q\n%s\n", name, rule)
	fmt.Fprintf(sb, "%-32s %-26s %12s\n", "Layer (type)", "Output Shape", "Param #")
	sb.WriteString(strings.Repeat("=", 72) + "\n")
	total := 0
	for _, r := range rows {
		summaryRow(sb, r)
		total += r.Params
	}
	sb.WriteString(strings.Repeat("=", 72) + "\n")
	fmt.Fprintf(sb, "Total params: %d\n%s\n", total, rule)
}

func summaryRow(sb *strings.Builder, r LayerSummary) {
	fmt.Fprintf(sb, "%-32s %-26s %12d\n", r.Name+" ("+r.Kind+")", "(None, "+strings.TrimPrefix(shapeString(r.Output), "("), r.Params)
}

// Summary renders the generator network as a fixed-width table.
func (g *Generator) Summary() string {
	var sb strings.Builder
	summaryTable(&sb, "generator", g.Layers())
	return sb.String()
}

// Summary renders the trunk followed by the four output heads.
func (d *Discriminator) Summary() string {
	var sb strings.Builder
	summaryTable(&sb, "discriminator_features", d.Layers())
	for _, r := range d.Heads() {
		summaryRow(&sb, r)
	}
	fmt.Fprintf(&sb, "Total params: %d\n", d.Params())
	return sb.String()
}
