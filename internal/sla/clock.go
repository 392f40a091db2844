package sla

import (
	"fmt"
	"time"

	"github.com/spec-kit/assignment-service/internal/config"
	"github.com/spec-kit/assignment-service/internal/domain"
)

// Clock advances an instant by an SLA budget.
type Clock interface {
	Add(start time.Time, budget time.Duration) time.Time
}

// CalendarClock counts every wall-clock minute.
type CalendarClock struct{}

func (CalendarClock) Add(start time.Time, budget time.Duration) time.Time {
	return start.Add(budget)
}

// BusinessClock only counts minutes inside the business window on working days.
type BusinessClock struct {
	startMinute int
	endMinute   int
	days        map[time.Weekday]bool
	loc         *time.Location
}

// maxBusinessDays bounds the walk so a misconfigured window cannot loop forever.
const maxBusinessDays = 3660

// NewBusinessClock builds a business clock from the SLA configuration.
func NewBusinessClock(cfg config.SLAConfig) (*BusinessClock, error) {
	start, err := domain.ParseClock(cfg.BusinessStart)
	if err != nil {
		return nil, fmt.Errorf("business start: %w", err)
	}
	end, err := domain.ParseClock(cfg.BusinessEnd)
	if err != nil {
		return nil, fmt.Errorf("business end: %w", err)
	}
	if end <= start {
		return nil, fmt.Errorf("business window %s-%s is empty", cfg.BusinessStart, cfg.BusinessEnd)
	}
	if len(cfg.BusinessDays) == 0 {
		return nil, fmt.Errorf("no business days configured")
	}
	loc, err := time.LoadLocation(cfg.Timezone)
	if err != nil {
		return nil, fmt.Errorf("business timezone: %w", err)
	}
	days := make(map[time.Weekday]bool, len(cfg.BusinessDays))
	for _, d := range cfg.BusinessDays {
		days[d] = true
	}
	return &BusinessClock{startMinute: start, endMinute: end, days: days, loc: loc}, nil
}

func (c *BusinessClock) Add(start time.Time, budget time.Duration) time.Time {
	if budget <= 0 {
		return start
	}
	remaining := budget
	t := start.In(c.loc)
	for i := 0; i < maxBusinessDays; i++ {
		dayStart := c.at(t, c.startMinute)
		dayEnd := c.at(t, c.endMinute)
		if !c.days[t.Weekday()] || !t.Before(dayEnd) {
			t = c.nextDay(t)
			continue
		}
		if t.Before(dayStart) {
			t = dayStart
		}
		available := dayEnd.Sub(t)
		if remaining <= available {
			return t.Add(remaining)
		}
		remaining -= available
		t = c.nextDay(t)
	}
	return start.Add(budget)
}

func (c *BusinessClock) at(day time.Time, minute int) time.Time {
	y, m, d := day.Date()
	return time.Date(y, m, d, minute/60, minute%60, 0, 0, c.loc)
}

func (c *BusinessClock) nextDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, c.loc)
}
