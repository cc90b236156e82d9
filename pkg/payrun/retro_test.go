package payrun

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openfroyo/payroll/pkg/engine"
)

func TestRetroScheduler_Schedule(t *testing.T) {
	tests := []struct {
		name         string
		scheduleDate time.Time
		wantErr      bool
	}{
		{"at period start", date(2024, 3, 1), true},
		{"inside the period", date(2024, 3, 15), true},
		{"after the period", date(2024, 5, 1), true},
		{"day before", date(2024, 2, 29), false},
		{"previous cycle", date(2023, 11, 1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewRetroScheduler(march2024.Start, nil)

			request, err := s.Schedule(tt.scheduleDate, []string{"fix"}, "late entry")
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, engine.IsContractViolation(err))
				assert.Equal(t, engine.ErrCodeOutOfRange, engine.CodeOf(err))
				assert.Empty(t, s.Requests())
				return
			}
			require.NoError(t, err)
			assert.NotEmpty(t, request.ID)
			assert.Equal(t, tt.scheduleDate, request.ScheduleDate)
			assert.Equal(t, []string{"fix"}, request.Tags)
			assert.Equal(t, "late entry", request.Reason)
			assert.Len(t, s.Requests(), 1)
		})
	}
}

func TestRetroScheduler_Concurrent(t *testing.T) {
	s := NewRetroScheduler(march2024.Start, nil)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(id int64) {
			defer wg.Done()
			_, err := s.ScheduleEmployee(id, date(2024, 1, 1), nil, "")
			assert.NoError(t, err)
		}(int64(i))
	}
	wg.Wait()

	requests := s.Requests()
	assert.Len(t, requests, 50)
	ids := make(map[string]bool)
	for _, r := range requests {
		ids[r.ID] = true
	}
	assert.Len(t, ids, 50)
}
