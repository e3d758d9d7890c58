package cmd

import (
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/mindforge/kernel"
)

// NewValidateCommand creates the validate command
func NewValidateCommand() *cobra.Command {
	var moduleRoot string

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate manifests and resolve the load order",
		Long: `Validate discovers every manifest under the module root, reports
the ones that fail validation, and resolves the dependency graph the same
way a boot would: the load order, plus any modules excluded by cycles or
missing dependencies.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runValidate(cmd, moduleRoot)
		},
	}

	cmd.Flags().StringVarP(&moduleRoot, "root", "r", "./modules", "Module root directory")
	return cmd
}

func runValidate(cmd *cobra.Command, moduleRoot string) error {
	out := cmd.OutOrStdout()

	manifests, errs := kernel.Discover(moduleRoot)
	for _, err := range errs {
		fmt.Fprintf(out, "REJECTED  %s\n", err)
	}
	if len(manifests) == 0 {
		fmt.Fprintln(out, "No valid manifests found.")
		if len(errs) > 0 {
			return fmt.Errorf("%d manifest(s) rejected", len(errs))
		}
		return nil
	}

	res := kernel.ResolvePartial(manifests)
	for i, name := range res.Order {
		fmt.Fprintf(out, "%3d. %s\n", i+1, name)
	}

	excluded := make([]string, 0, len(res.Excluded))
	for name := range res.Excluded {
		excluded = append(excluded, name)
	}
	sort.Strings(excluded)
	for _, name := range excluded {
		fmt.Fprintf(out, "EXCLUDED  %s: %s\n", name, res.Excluded[name].Err)
	}

	if len(errs) > 0 || len(excluded) > 0 {
		return fmt.Errorf("%d manifest(s) rejected, %d module(s) excluded", len(errs), len(excluded))
	}
	fmt.Fprintf(out, "All %d modules validate and resolve.\n", len(manifests))
	return nil
}
