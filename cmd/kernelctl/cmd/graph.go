package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mindforge/kernel"
)

// NewGraphCommand creates the graph command
func NewGraphCommand() *cobra.Command {
	var moduleRoot string

	cmd := &cobra.Command{
		Use:   "graph",
		Short: "Emit the dependency graph as DOT",
		Long: `Graph discovers manifests under the module root and prints the
dependency graph in Graphviz DOT format. Modules excluded by the resolver
(cycle members, missing dependencies, and their dependents) are drawn in
red. Pipe to dot:

  kernelctl graph -r ./modules | dot -Tsvg -o graph.svg`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runGraph(cmd, moduleRoot)
		},
	}

	cmd.Flags().StringVarP(&moduleRoot, "root", "r", "./modules", "Module root directory")
	return cmd
}

func runGraph(cmd *cobra.Command, moduleRoot string) error {
	manifests, _ := kernel.Discover(moduleRoot)
	res := kernel.ResolvePartial(manifests)

	var b strings.Builder
	b.WriteString("digraph modules {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box];\n")
	for _, m := range manifests {
		attrs := fmt.Sprintf("label=\"%s\\n%s/%s\"", m.Name, m.Tier, m.Priority)
		if _, excluded := res.Excluded[m.Name]; excluded {
			attrs += ", color=red, fontcolor=red"
		}
		fmt.Fprintf(&b, "  %q [%s];\n", m.Name, attrs)
	}
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			fmt.Fprintf(&b, "  %q -> %q;\n", m.Name, dep)
		}
	}
	b.WriteString("}\n")

	fmt.Fprint(cmd.OutOrStdout(), b.String())
	return nil
}
