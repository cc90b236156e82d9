package engine

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestJobStatus_Transitions(t *testing.T) {
	tests := []struct {
		from, to JobStatus
		allowed  bool
	}{
		{JobStatusDraft, JobStatusRelease, true},
		{JobStatusDraft, JobStatusProcess, true},
		{JobStatusRelease, JobStatusCancel, true},
		{JobStatusProcess, JobStatusComplete, true},
		{JobStatusProcess, JobStatusForecast, true},
		{JobStatusProcess, JobStatusAbort, true},
		{JobStatusComplete, JobStatusDraft, false},
		{JobStatusAbort, JobStatusProcess, false},
		{JobStatusProcess, JobStatusCancel, false},
		{JobStatusRelease, JobStatusDraft, false},
	}

	for _, tt := range tests {
		t.Run(string(tt.from)+"->"+string(tt.to), func(t *testing.T) {
			err := tt.from.TransitionTo(tt.to)
			if tt.allowed {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, IsDomainViolation(err))
			assert.Equal(t, ErrCodeInvalidTransition, CodeOf(err))
		})
	}
}

func TestJobStatus_Terminal(t *testing.T) {
	for _, s := range []JobStatus{JobStatusComplete, JobStatusForecast, JobStatusAbort, JobStatusCancel} {
		assert.True(t, s.IsTerminal(), s)
		for _, next := range []JobStatus{JobStatusDraft, JobStatusRelease, JobStatusProcess, JobStatusComplete} {
			assert.False(t, s.CanTransitionTo(next), "%s -> %s", s, next)
		}
	}
	assert.True(t, JobStatusComplete.IsLegal())
	assert.False(t, JobStatusForecast.IsLegal())
	assert.Error(t, JobStatus("Final").Validate())
}

func TestClusterSet_Matches(t *testing.T) {
	set := &ClusterSet{IncludeClusters: []string{"ch"}, ExcludeClusters: []string{"legacy"}}

	assert.True(t, set.Matches([]string{"ch"}))
	assert.False(t, set.Matches([]string{"ch", "legacy"}))
	assert.False(t, set.Matches(nil), "untagged rows are excluded by an include list")
	assert.True(t, (&ClusterSet{ExcludeClusters: []string{"legacy"}}).Matches(nil))

	var none *ClusterSet
	assert.True(t, none.Matches([]string{"any"}))
}

func TestDatePeriod(t *testing.T) {
	p := DatePeriod{Start: time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC), End: time.Date(2024, 4, 1, 0, 0, 0, 0, time.UTC)}

	assert.True(t, p.Contains(p.Start))
	assert.False(t, p.Contains(p.End))
	assert.True(t, p.Overlaps(DatePeriod{Start: time.Date(2024, 3, 31, 0, 0, 0, 0, time.UTC)}))
	assert.False(t, p.Overlaps(DatePeriod{Start: p.End}))
	assert.True(t, DatePeriod{}.Contains(p.Start))
	assert.Equal(t, "[2024-03-01, 2024-04-01)", p.String())
}

func TestExpression_Unmarshal(t *testing.T) {
	var wt struct {
		Value  Expression `yaml:"value"`
		Result Expression `yaml:"result"`
	}
	src := "value: return 10\nresult:\n  language: cel\n  source: wageType.value * 2\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &wt))

	assert.Equal(t, Starlark("return 10"), wt.Value)
	assert.Equal(t, LanguageCEL, wt.Result.Lang())
	assert.Equal(t, "wageType.value * 2", wt.Result.Source)

	var e Expression
	require.NoError(t, e.UnmarshalJSON([]byte(`"return 1"`)))
	assert.Equal(t, LanguageStarlark, e.Lang())
	require.NoError(t, e.UnmarshalJSON([]byte(`{"language":"wasm","source":"AGFzbQ=="}`)))
	assert.Equal(t, LanguageWasm, e.Lang())
	assert.True(t, Expression{Source: "  "}.IsEmpty())
}
