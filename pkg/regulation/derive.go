package regulation

import (
	"sort"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
)

// Layer is a regulation placed in a payroll with all of its object versions.
type Layer struct {
	Level      int
	Priority   int
	Regulation *engine.Regulation
	Objects    *engine.RegulationObjects
}

// Options control which rows take part in a resolution.
type Options struct {
	// RegulationDate hides regulations and rows created after it.
	RegulationDate time.Time

	// EvaluationDate is passed on to calendar dependent consumers.
	EvaluationDate time.Time

	// ClusterSet filters rows by their cluster tags when set.
	ClusterSet *engine.ClusterSet

	// Names restricts the resolution to these keys when not empty.
	Names []string
}

// Derived is the effective object of a key together with its derivation
// chain, most overriding first. Chain[0] is Object.
type Derived[T engine.Derivable] struct {
	Object T
	Chain  []T
}

// Key returns the natural key of the object.
func (d Derived[T]) Key() string {
	return d.Object.Key()
}

// SortLayers orders layers most overriding first: Level desc, Priority desc,
// then regulation ID ascending so equal ranks resolve deterministically.
func SortLayers(layers []Layer) {
	sort.SliceStable(layers, func(i, j int) bool {
		a, b := layers[i], layers[j]
		if a.Level != b.Level {
			return a.Level > b.Level
		}
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.Regulation.ID < b.Regulation.ID
	})
}

// Resolve picks the effective object per key across the layers.
//
// Rows created after the regulation date, rows failing the cluster set and
// keys outside the allow list are dropped. Within one regulation the most
// recently created row is its version; across regulations the layer order
// decides. Layers must be sorted with SortLayers.
func Resolve[T engine.Derivable](layers []Layer, objects func(*engine.RegulationObjects) []T, opts Options) []Derived[T] {
	var allow map[string]bool
	if len(opts.Names) > 0 {
		allow = make(map[string]bool, len(opts.Names))
		for _, n := range opts.Names {
			allow[n] = true
		}
	}

	chains := make(map[string][]T)
	var keys []string
	seenRegulation := make(map[int64]bool, len(layers))

	for _, layer := range layers {
		if layer.Regulation == nil || layer.Objects == nil {
			continue
		}
		if seenRegulation[layer.Regulation.ID] || !visible(layer.Regulation.Created, opts) {
			continue
		}
		seenRegulation[layer.Regulation.ID] = true

		for key, row := range latestVersions(objects(layer.Objects), opts, allow) {
			if _, ok := chains[key]; !ok {
				keys = append(keys, key)
			}
			chains[key] = append(chains[key], row)
		}
	}

	sort.Strings(keys)
	result := make([]Derived[T], 0, len(keys))
	for _, key := range keys {
		chain := chains[key]
		result = append(result, Derived[T]{Object: chain[0], Chain: chain})
	}
	return result
}

// latestVersions returns the newest visible row per key of one regulation.
func latestVersions[T engine.Derivable](rows []T, opts Options, allow map[string]bool) map[string]T {
	latest := make(map[string]T)
	for _, row := range rows {
		meta := row.Meta()
		if !visible(meta.Created, opts) || !opts.ClusterSet.Matches(meta.Clusters) {
			continue
		}
		key := row.Key()
		if allow != nil && !allow[key] {
			continue
		}
		current, ok := latest[key]
		if !ok || newer(meta, current.Meta()) {
			latest[key] = row
		}
	}
	return latest
}

func visible(created time.Time, opts Options) bool {
	return opts.RegulationDate.IsZero() || !created.After(opts.RegulationDate)
}

func newer(a, b *engine.ObjectMeta) bool {
	if !a.Created.Equal(b.Created) {
		return a.Created.After(b.Created)
	}
	return a.ID > b.ID
}

// Scripted is a derivable object carrying expressions.
type Scripted interface {
	engine.Derivable
	engine.Scripted
}

// InheritedExpression returns the expression of the function type from the
// most overriding object in the chain that defines one.
func InheritedExpression[T Scripted](d Derived[T], functionType engine.FunctionType) (engine.Expression, T, bool) {
	for _, obj := range d.Chain {
		if expr := obj.Expression(functionType); !expr.IsEmpty() {
			return expr, obj, true
		}
	}
	var zero T
	return engine.Expression{}, zero, false
}

// InheritedAttributes merges the attributes down the chain; overriding
// objects win.
func InheritedAttributes[T engine.Derivable](d Derived[T]) map[string]interface{} {
	merged := make(map[string]interface{})
	for i := len(d.Chain) - 1; i >= 0; i-- {
		for k, v := range d.Chain[i].Meta().Attributes {
			merged[k] = v
		}
	}
	return merged
}
