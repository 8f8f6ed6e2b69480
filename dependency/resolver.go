// Package dependency decides whether a processor's declared prerequisites
// have completed in a job, and expands dependency chains for diagnostics.
// It only reads execution history.
package dependency

import (
	pipeline "github.com/goliatone/go-pipeline"
)

// Source returns the declared dependency slugs of a processor.
// *processor.Registry implements it.
type Source interface {
	Dependencies(slug string) ([]string, error)
}

// Result is the outcome of a dependency check.
type Result struct {
	Satisfied bool
	Missing   []string
}

type Resolver struct {
	src Source
}

func NewResolver(src Source) *Resolver {
	return &Resolver{src: src}
}

// Check diffs the declared dependencies of slug against the slugs with a
// completed execution in history. Missing keeps declaration order.
func (r *Resolver) Check(slug string, history []pipeline.ProcessorExecution) (Result, error) {
	deps, err := r.src.Dependencies(slug)
	if err != nil {
		return Result{}, err
	}
	done := make(map[string]struct{})
	for _, s := range pipeline.CompletedSlugs(history) {
		done[s] = struct{}{}
	}
	missing := []string{}
	for _, dep := range deps {
		if _, ok := done[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	return Result{Satisfied: len(missing) == 0, Missing: missing}, nil
}

// AssertSatisfied returns a DependencyError naming every unmet dependency.
func (r *Resolver) AssertSatisfied(slug string, history []pipeline.ProcessorExecution) error {
	res, err := r.Check(slug, history)
	if err != nil {
		return err
	}
	if !res.Satisfied {
		return pipeline.NewDependencyError(slug, res.Missing)
	}
	return nil
}

// Order returns the transitive dependencies of slug, each after its own
// dependencies. A cycle is a CycleError naming the loop.
func (r *Resolver) Order(slug string) ([]string, error) {
	var out []string
	done := map[string]bool{}
	if err := r.visit(slug, nil, map[string]bool{}, done, func(s string) { out = append(out, s) }); err != nil {
		return nil, err
	}
	// the root itself is the last one emitted
	return out[:len(out)-1], nil
}

func (r *Resolver) visit(slug string, path []string, onPath, done map[string]bool, emit func(string)) error {
	if onPath[slug] {
		cycle := append(append([]string(nil), path...), slug)
		for i, s := range cycle {
			if s == slug {
				cycle = cycle[i:]
				break
			}
		}
		return pipeline.NewCycleError(cycle)
	}
	if done[slug] {
		return nil
	}
	deps, err := r.src.Dependencies(slug)
	if err != nil {
		return err
	}
	onPath[slug] = true
	path = append(path, slug)
	for _, dep := range deps {
		if err := r.visit(dep, path, onPath, done, emit); err != nil {
			return err
		}
	}
	onPath[slug] = false
	done[slug] = true
	emit(slug)
	return nil
}

// Node is one processor in a dependency tree.
type Node struct {
	Slug         string `json:"slug"`
	Dependencies []Node `json:"dependencies,omitempty"`
}

// Tree returns the nested dependency tree of slug.
func (r *Resolver) Tree(slug string) (Node, error) {
	if _, err := r.Order(slug); err != nil {
		return Node{}, err
	}
	return r.tree(slug)
}

func (r *Resolver) tree(slug string) (Node, error) {
	deps, err := r.src.Dependencies(slug)
	if err != nil {
		return Node{}, err
	}
	n := Node{Slug: slug}
	for _, dep := range deps {
		child, err := r.tree(dep)
		if err != nil {
			return Node{}, err
		}
		n.Dependencies = append(n.Dependencies, child)
	}
	return n, nil
}
