package regulation

import (
	"context"
	"sort"

	"github.com/shopspring/decimal"
	"golang.org/x/text/language"

	"github.com/openfroyo/payroll/pkg/engine"
)

// LookupProvider answers lookup queries from a derivation. Keys missing in
// the effective lookup are searched down the derivation chain.
type LookupProvider struct {
	derivation *Derivation
}

// NewLookupProvider creates a lookup provider.
func NewLookupProvider(derivation *Derivation) *LookupProvider {
	return &LookupProvider{derivation: derivation}
}

var _ engine.LookupProvider = (*LookupProvider)(nil)

// LookupValue returns the localized value of a key.
func (p *LookupProvider) LookupValue(_ context.Context, name, key string, culture language.Tag) (string, bool, error) {
	derived, ok := p.derivation.Lookup(name)
	if !ok {
		return "", false, nil
	}
	for _, lookup := range derived.Chain {
		for i := range lookup.Values {
			if lookup.Values[i].Key == key {
				return localize(&lookup.Values[i], culture), true, nil
			}
		}
	}
	return "", false, nil
}

// RangeLookupValue returns the value of the bucket containing the range
// value: the greatest range start not above it. With a range size the
// bucket ends at start + size.
func (p *LookupProvider) RangeLookupValue(_ context.Context, name string, rangeValue decimal.Decimal, culture language.Tag) (string, bool, error) {
	derived, ok := p.derivation.Lookup(name)
	if !ok {
		return "", false, nil
	}
	for _, lookup := range derived.Chain {
		if v := bucket(lookup, rangeValue); v != nil {
			return localize(v, culture), true, nil
		}
	}
	return "", false, nil
}

func bucket(lookup *engine.Lookup, rangeValue decimal.Decimal) *engine.LookupValue {
	ranged := make([]*engine.LookupValue, 0, len(lookup.Values))
	for i := range lookup.Values {
		if lookup.Values[i].RangeValue != nil {
			ranged = append(ranged, &lookup.Values[i])
		}
	}
	sort.Slice(ranged, func(i, j int) bool {
		return ranged[i].RangeValue.LessThan(*ranged[j].RangeValue)
	})

	var hit *engine.LookupValue
	for _, v := range ranged {
		if v.RangeValue.GreaterThan(rangeValue) {
			break
		}
		hit = v
	}
	if hit == nil {
		return nil
	}
	if lookup.RangeSize != nil && !rangeValue.LessThan(hit.RangeValue.Add(*lookup.RangeSize)) {
		return nil
	}
	return hit
}

// localize prefers the exact culture, then its base language.
func localize(v *engine.LookupValue, culture language.Tag) string {
	if len(v.Localizations) == 0 || culture == language.Und {
		return v.Value
	}
	if s, ok := v.Localizations[culture.String()]; ok {
		return s
	}
	base, _ := culture.Base()
	if s, ok := v.Localizations[base.String()]; ok {
		return s
	}
	return v.Value
}
