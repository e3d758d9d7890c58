package kernel

import (
	"fmt"
	"sort"
)

// ExclusionKind categorizes why a module was left out of a partial
// resolution's load order.
type ExclusionKind int

const (
	// ExcludedCycle marks a module that participates in a dependency cycle.
	ExcludedCycle ExclusionKind = iota

	// ExcludedMissingDependency marks a module that declares a dependency
	// absent from the discovered set.
	ExcludedMissingDependency

	// ExcludedDependency marks a module excluded only because one of its
	// (transitive) dependencies was excluded.
	ExcludedDependency
)

// Exclusion records why a module is absent from a Resolution's order.
type Exclusion struct {
	Kind ExclusionKind

	// Via names the directly excluded dependency for ExcludedDependency.
	Via string

	// Err is the diagnostic shared by all modules excluded for the same
	// root cause.
	Err error
}

// Resolution is the outcome of resolving a manifest set with failures
// tolerated. Order lists the loadable modules; Excluded explains every
// module left out. Cycle and Missing carry the aggregate diagnostics when
// present.
type Resolution struct {
	Order    []string
	Excluded map[string]Exclusion
	Cycle    *CycleError
	Missing  *MissingDependencyError
}

// Resolve produces a total load order for the manifest set using Kahn's
// algorithm. Modules load after all of their dependencies; when several
// modules are simultaneously loadable the tie breaks deterministically on
// priority (critical first) then lexical name order.
//
// Resolve is all-or-nothing: any missing dependency or cycle returns an
// error and no order. Use ResolvePartial when the acyclic remainder should
// still load.
func Resolve(manifests []*ModuleManifest) ([]string, error) {
	res := ResolvePartial(manifests)
	if res.Missing != nil {
		return nil, res.Missing
	}
	if res.Cycle != nil {
		return nil, res.Cycle
	}
	return res.Order, nil
}

// ResolvePartial resolves as much of the manifest set as possible. Modules
// with missing dependencies and modules on a cycle are excluded together
// with their transitive dependents; everything else is ordered exactly as
// Resolve would order it.
func ResolvePartial(manifests []*ModuleManifest) *Resolution {
	res := &Resolution{Excluded: make(map[string]Exclusion)}

	byName := make(map[string]*ModuleManifest, len(manifests))
	for _, m := range manifests {
		byName[m.Name] = m
	}

	// Dependents index: dep -> modules that declare it.
	dependents := make(map[string][]string)
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			dependents[dep] = append(dependents[dep], m.Name)
		}
	}

	// Missing dependencies exclude the declaring module.
	missing := make(map[string][]string)
	for _, m := range manifests {
		for _, dep := range m.Dependencies {
			if _, ok := byName[dep]; !ok {
				missing[dep] = append(missing[dep], m.Name)
			}
		}
	}
	if len(missing) > 0 {
		for dep := range missing {
			sort.Strings(missing[dep])
		}
		res.Missing = &MissingDependencyError{Missing: missing}
		for dep, mods := range missing {
			for _, name := range mods {
				if _, done := res.Excluded[name]; !done {
					res.Excluded[name] = Exclusion{Kind: ExcludedMissingDependency, Via: dep, Err: res.Missing}
				}
			}
		}
	}

	// Kahn's algorithm over the modules not excluded so far. Edges run
	// dependency -> dependent; in-degree counts unresolved dependencies.
	indegree := make(map[string]int)
	for _, m := range manifests {
		if _, excluded := res.Excluded[m.Name]; excluded {
			continue
		}
		indegree[m.Name] = len(m.Dependencies)
	}

	frontier := make([]string, 0, len(indegree))
	for name, deg := range indegree {
		if deg == 0 {
			frontier = append(frontier, name)
		}
	}

	less := func(a, b string) bool {
		wa, wb := byName[a].Priority.weight(), byName[b].Priority.weight()
		if wa != wb {
			return wa > wb
		}
		return a < b
	}

	for len(frontier) > 0 {
		sort.Slice(frontier, func(i, j int) bool { return less(frontier[i], frontier[j]) })
		name := frontier[0]
		frontier = frontier[1:]
		res.Order = append(res.Order, name)
		for _, dependent := range dependents[name] {
			if _, ok := indegree[dependent]; !ok {
				continue
			}
			indegree[dependent]--
			if indegree[dependent] == 0 {
				frontier = append(frontier, dependent)
			}
		}
	}

	// Whatever the queue never reached is on a cycle, downstream of one, or
	// downstream of a missing-dependency exclusion. Strongly connected
	// components pick out the actual cycle participants; the rest is handled
	// by the transitive pass below, and a leftover set with no cycle at all
	// must not produce a CycleError.
	if len(res.Order) < len(indegree) {
		leftover := make(map[string]bool)
		for name, deg := range indegree {
			if deg > 0 {
				leftover[name] = true
			}
		}
		members := cycleMembers(leftover, byName)
		if len(members) > 0 {
			sort.Strings(members)
			res.Cycle = &CycleError{Members: members}
			for _, name := range members {
				res.Excluded[name] = Exclusion{Kind: ExcludedCycle, Err: res.Cycle}
			}
		}
	}

	// Transitively exclude dependents of every excluded module.
	queue := make([]string, 0, len(res.Excluded))
	for name := range res.Excluded {
		queue = append(queue, name)
	}
	sort.Strings(queue)
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dependent := range dependents[name] {
			if _, done := res.Excluded[dependent]; done {
				continue
			}
			excl := res.Excluded[name]
			res.Excluded[dependent] = Exclusion{
				Kind: ExcludedDependency,
				Via:  name,
				Err:  fmt.Errorf("dependency %s excluded: %w", name, excl.Err),
			}
			queue = append(queue, dependent)
		}
	}

	// An excluded module can appear in Order when its exclusion was only
	// discovered downstream (dependent of a missing-dep module that itself
	// resolved). Filter to keep Order and Excluded disjoint.
	if len(res.Excluded) > 0 {
		kept := res.Order[:0]
		for _, name := range res.Order {
			if _, excluded := res.Excluded[name]; !excluded {
				kept = append(kept, name)
			}
		}
		res.Order = kept
	}

	return res
}

// cycleMembers finds the modules inside the leftover subgraph that lie on
// at least one cycle, using Tarjan's strongly connected components. Every
// SCC with more than one node is a cycle; a single node counts only when
// it declares itself as a dependency. Manifest validation rejects
// self-dependencies, but callers can hand manifests in without loading
// them through a file.
func cycleMembers(leftover map[string]bool, byName map[string]*ModuleManifest) []string {
	var (
		index    = make(map[string]int)
		lowlink  = make(map[string]int)
		onStack  = make(map[string]bool)
		stack    []string
		counter  int
		members  []string
		strongly func(v string)
	)

	strongly = func(v string) {
		index[v] = counter
		lowlink[v] = counter
		counter++
		stack = append(stack, v)
		onStack[v] = true

		for _, dep := range byName[v].Dependencies {
			if !leftover[dep] {
				continue
			}
			if _, seen := index[dep]; !seen {
				strongly(dep)
				if lowlink[dep] < lowlink[v] {
					lowlink[v] = lowlink[dep]
				}
			} else if onStack[dep] && index[dep] < lowlink[v] {
				lowlink[v] = index[dep]
			}
		}

		if lowlink[v] == index[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			if len(scc) > 1 {
				members = append(members, scc...)
			} else if byName[scc[0]].DependsOn(scc[0]) {
				members = append(members, scc[0])
			}
		}
	}

	names := make([]string, 0, len(leftover))
	for name := range leftover {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if _, seen := index[name]; !seen {
			strongly(name)
		}
	}
	return members
}
