package payment

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlannerPeriods(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	tests := []struct {
		name     string
		student  bool
		category string
		want     int
	}{
		{"default payer", false, "dress", 3},
		{"student payer", true, "dress", 6},
		{"suit category", false, "suit", 2},
		{"suit beats student", true, "suit", 2},
		{"empty category", false, "", 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, planner.Periods(tt.student, tt.category))
		})
	}
}

func TestPlannerScheduleEvenSplit(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())
	now := time.Date(2026, 3, 15, 10, 0, 0, 0, time.UTC)

	schedule := planner.Schedule(42, 90000, 3, now)
	require.Len(t, schedule, 3)

	for i, inst := range schedule {
		assert.Equal(t, uint(42), inst.TransactionID)
		assert.Equal(t, i+1, inst.Number)
		assert.Equal(t, 3, inst.TotalInstallments)
		assert.Equal(t, int64(30000), inst.Amount)
		assert.Equal(t, InstallmentPending, inst.Status)
	}
}

func TestPlannerScheduleRemainderOnLast(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())
	now := time.Now()

	// 100000 over 3 periods: 33333 + 33333 + 33334.
	schedule := planner.Schedule(1, 100000, 3, now)
	require.Len(t, schedule, 3)

	assert.Equal(t, int64(33333), schedule[0].Amount)
	assert.Equal(t, int64(33333), schedule[1].Amount)
	assert.Equal(t, int64(33334), schedule[2].Amount)

	var sum int64
	for _, inst := range schedule {
		sum += inst.Amount
	}
	assert.Equal(t, int64(100000), sum)
}

func TestPlannerScheduleDueDates(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())
	now := time.Date(2026, 1, 31, 12, 0, 0, 0, time.UTC)

	schedule := planner.Schedule(1, 60000, 6, now)
	require.Len(t, schedule, 6)

	assert.Equal(t, now, schedule[0].DueDate)
	for i := 1; i < len(schedule); i++ {
		assert.Equal(t, now.AddDate(0, i, 0), schedule[i].DueDate)
	}
}

func TestPlannerScheduleSinglePeriod(t *testing.T) {
	planner := NewPlanner(DefaultPlannerConfig())

	schedule := planner.Schedule(7, 12345, 1, time.Now())
	require.Len(t, schedule, 1)
	assert.Equal(t, int64(12345), schedule[0].Amount)
}

func TestNewPlannerDefaults(t *testing.T) {
	planner := NewPlanner(PlannerConfig{})

	assert.Equal(t, 3, planner.Periods(false, ""))
	assert.Equal(t, 3, planner.Periods(true, ""))
	assert.Equal(t, 3, planner.Periods(false, "suit"))
}
