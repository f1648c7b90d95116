package payment

import "time"

// PlannerConfig sets the per-audience period counts and fulfillment
// timing the planner works with.
type PlannerConfig struct {
	DefaultPeriods int // fallback period count
	StudentPeriods int // for student payers
	SuitPeriods    int // for the suit category, wins over student
}

// DefaultPlannerConfig returns the standard plan shape.
func DefaultPlannerConfig() PlannerConfig {
	return PlannerConfig{
		DefaultPeriods: 3,
		StudentPeriods: 6,
		SuitPeriods:    2,
	}
}

// Planner derives installment schedules from a purchase's total and the
// payer's profile.
type Planner struct {
	cfg PlannerConfig
}

// NewPlanner creates a planner.
func NewPlanner(cfg PlannerConfig) *Planner {
	if cfg.DefaultPeriods <= 0 {
		cfg.DefaultPeriods = 3
	}
	if cfg.StudentPeriods <= 0 {
		cfg.StudentPeriods = cfg.DefaultPeriods
	}
	if cfg.SuitPeriods <= 0 {
		cfg.SuitPeriods = cfg.DefaultPeriods
	}
	return &Planner{cfg: cfg}
}

// Periods resolves the period count for a payer and item category.
// Category rules outrank payer rules: a student buying a suit gets the
// suit's shorter plan.
func (p *Planner) Periods(student bool, category string) int {
	periods := p.cfg.DefaultPeriods
	if student {
		periods = p.cfg.StudentPeriods
	}
	if category == "suit" {
		periods = p.cfg.SuitPeriods
	}
	return periods
}

// Schedule splits total minor units evenly across the plan's periods.
// Rounding remainder lands on the last period so the schedule always
// sums to the exact total. Due dates step in calendar months from now;
// the first period is due immediately. Callers reject periods < 1
// before any write; Schedule returns an empty slice for them.
func (p *Planner) Schedule(transactionID uint, total int64, periods int, now time.Time) []*Installment {
	if periods < 1 {
		return nil
	}
	base := total / int64(periods)
	remainder := total - base*int64(periods)

	schedule := make([]*Installment, 0, periods)
	for n := 1; n <= periods; n++ {
		amount := base
		if n == periods {
			amount += remainder
		}
		inst := &Installment{
			TransactionID:     transactionID,
			Number:            n,
			TotalInstallments: periods,
			Amount:            amount,
			DueDate:           now.AddDate(0, n-1, 0),
			Status:            InstallmentPending,
		}
		schedule = append(schedule, inst)
	}
	return schedule
}
