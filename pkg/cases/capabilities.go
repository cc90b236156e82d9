package cases

import (
	"context"
	"sync"
	"time"

	"github.com/openfroyo/payroll/pkg/engine"
	"github.com/openfroyo/payroll/pkg/facade"
)

// caseCapability binds the fields of a case set. Writes are bound for
// build scripts only.
type caseCapability struct {
	set      *Set
	writable bool
}

func (c caseCapability) Bind(b *facade.Bindings) {
	b.Value("CaseName", b.Object)
	if c.set == nil {
		return
	}
	b.Value("CaseSlot", c.set.Slot)
	bindFields(b, "", c.set, c.writable)
}

// relationCapability binds the source fields read only and the target
// fields, writable for build scripts.
type relationCapability struct {
	source   *Set
	target   *Set
	writable bool
}

func (r relationCapability) Bind(b *facade.Bindings) {
	b.Value("SourceCaseName", r.source.Name)
	b.Value("SourceCaseSlot", r.source.Slot)
	b.Value("TargetCaseName", r.target.Name)
	b.Value("TargetCaseSlot", r.target.Slot)
	bindFields(b, "Source", r.source, false)
	bindFields(b, "Target", r.target, r.writable)
}

// bindFields binds Get<prefix>FieldValue and friends over a set.
func bindFields(b *facade.Bindings, prefix string, set *Set, writable bool) {
	name := func(verb, what string) string { return verb + prefix + what }

	b.Func(name("Get", "FieldNames"), func(context.Context, facade.Args) (any, error) {
		names := set.FieldNames()
		out := make([]any, len(names))
		for i, n := range names {
			out[i] = n
		}
		return out, nil
	})
	b.Func(name("Has", "Field"), func(_ context.Context, args facade.Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		_, ok := set.Field(field)
		return ok, nil
	})
	b.Func(name("Get", "FieldValue"), func(_ context.Context, args facade.Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		var v any
		err = set.update(field, func(f *Field) (nerr error) {
			v, nerr = nativeValue(f)
			return nerr
		})
		return v, err
	})
	b.Func(name("Get", "FieldStart"), func(_ context.Context, args facade.Args) (any, error) {
		return readDate(set, args, func(f *Field) *time.Time { return f.Start })
	})
	b.Func(name("Get", "FieldEnd"), func(_ context.Context, args facade.Args) (any, error) {
		return readDate(set, args, func(f *Field) *time.Time { return f.End })
	})

	if !writable {
		return
	}
	b.Func(name("Set", "FieldValue"), func(_ context.Context, args facade.Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		v, _ := args.Raw(1, "value")
		return nil, set.update(field, func(f *Field) error {
			text, err := formatValue(v, f.ValueType)
			if err != nil {
				return engine.NewContractError("invalid value of case field "+field, err).
					WithCode(engine.ErrCodeValidation)
			}
			f.Value = text
			return nil
		})
	})
	b.Func(name("Set", "FieldStart"), func(_ context.Context, args facade.Args) (any, error) {
		return nil, writeDate(set, args, func(f *Field, t *time.Time) { f.Start = t })
	})
	b.Func(name("Set", "FieldEnd"), func(_ context.Context, args facade.Args) (any, error) {
		return nil, writeDate(set, args, func(f *Field, t *time.Time) { f.End = t })
	})
	b.Func(name("Add", "FieldTag"), func(_ context.Context, args facade.Args) (any, error) {
		field, err := args.String(0, "field")
		if err != nil {
			return nil, err
		}
		tag, err := args.String(1, "tag")
		if err != nil {
			return nil, err
		}
		return nil, set.update(field, func(f *Field) error {
			for _, t := range f.Tags {
				if t == tag {
					return nil
				}
			}
			f.Tags = append(f.Tags, tag)
			return nil
		})
	})
}

func readDate(set *Set, args facade.Args, get func(*Field) *time.Time) (any, error) {
	field, err := args.String(0, "field")
	if err != nil {
		return nil, err
	}
	var v any
	err = set.update(field, func(f *Field) error {
		if t := get(f); t != nil {
			v = *t
		}
		return nil
	})
	return v, err
}

// writeDate sets a field date; a missing date clears it.
func writeDate(set *Set, args facade.Args, put func(*Field, *time.Time)) error {
	field, err := args.String(0, "field")
	if err != nil {
		return err
	}
	var date *time.Time
	if _, ok := args.Raw(1, "date"); ok {
		t, err := args.Date(1, "date")
		if err != nil {
			return err
		}
		date = &t
	}
	return set.update(field, func(f *Field) error {
		put(f, date)
		return nil
	})
}

// issueReporter binds AddIssue for validate scripts.
type issueReporter struct {
	caseName string
	caseSlot string

	mu     sync.Mutex
	issues []Issue
}

func (r *issueReporter) Bind(b *facade.Bindings) {
	b.Func("AddIssue", func(_ context.Context, args facade.Args) (any, error) {
		message, err := args.String(0, "message")
		if err != nil {
			return nil, err
		}
		field, err := args.OptString(1, "field", "")
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.issues = append(r.issues, Issue{CaseName: r.caseName, CaseSlot: r.caseSlot, FieldName: field, Message: message})
		r.mu.Unlock()
		return nil, nil
	})
}

func (r *issueReporter) list() []Issue {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Issue(nil), r.issues...)
}
