package domain

import (
	"strings"
	"time"
)

// AgentRole enumerates directory roles relevant to assignment.
type AgentRole string

const (
	AgentRoleAgent AgentRole = "agent"
	AgentRoleAdmin AgentRole = "admin"
	// AgentRoleService identifies machine callers such as the ticket service. It never
	// appears in the directory.
	AgentRoleService AgentRole = "service"
)

// OfficeHours is the declared working window of an agent in their own timezone.
// A zero value means the agent declared no window and is always within hours.
type OfficeHours struct {
	Start    string // HH:MM
	End      string // HH:MM
	Days     []time.Weekday
	Timezone string
}

// Declared reports whether a window was configured.
func (o OfficeHours) Declared() bool {
	return o.Start != "" && o.End != ""
}

// Contains reports whether instant falls inside the window.
func (o OfficeHours) Contains(instant time.Time) bool {
	if !o.Declared() {
		return true
	}
	loc := time.UTC
	if o.Timezone != "" {
		if l, err := time.LoadLocation(o.Timezone); err == nil {
			loc = l
		}
	}
	local := instant.In(loc)
	if len(o.Days) > 0 {
		dayOK := false
		for _, d := range o.Days {
			if d == local.Weekday() {
				dayOK = true
				break
			}
		}
		if !dayOK {
			return false
		}
	}
	start, err := ParseClock(o.Start)
	if err != nil {
		return true
	}
	end, err := ParseClock(o.End)
	if err != nil {
		return true
	}
	minute := local.Hour()*60 + local.Minute()
	if start <= end {
		return minute >= start && minute < end
	}
	// overnight window, e.g. 22:00-06:00
	return minute >= start || minute < end
}

// Agent is a read-only view of a directory entry.
type Agent struct {
	ID          string
	Name        string
	Email       string
	Role        AgentRole
	TeamID      *string
	Available   bool
	Disabled    bool
	Skills      []string
	Languages   []string
	OfficeHours OfficeHours
	CreatedAt   time.Time
}

// Assignable reports whether the agent may receive tickets at all.
func (a *Agent) Assignable() bool {
	return !a.Disabled
}

// HasSkillFor reports whether any skill tag matches category or subcategory.
func (a *Agent) HasSkillFor(category, subcategory string) bool {
	for _, skill := range a.Skills {
		if category != "" && strings.EqualFold(skill, category) {
			return true
		}
		if subcategory != "" && strings.EqualFold(skill, subcategory) {
			return true
		}
	}
	return false
}

// SpeaksLanguage reports whether the agent declared lang.
func (a *Agent) SpeaksLanguage(lang string) bool {
	if lang == "" {
		return false
	}
	for _, l := range a.Languages {
		if strings.EqualFold(l, lang) {
			return true
		}
	}
	return false
}

// InTeam reports whether the agent belongs to teamID.
func (a *Agent) InTeam(teamID string) bool {
	return a.TeamID != nil && *a.TeamID == teamID
}

// AgentPerformance captures rolling historical metrics for an agent.
type AgentPerformance struct {
	AgentID        string
	ResolutionRate float64 // resolved / assigned over the window, 0..1
	Satisfaction   *float64 // mean rating, scale defined by the ticket system; nil when nothing was rated
}
