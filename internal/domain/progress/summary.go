package progress

import "time"

// Summary - производные показатели записи для потребителя.
type Summary struct {
	CurrentStep       int       `json:"current_step"`
	UnlockedSteps     []int     `json:"unlocked_steps"`
	CompletedSections []int     `json:"completed_sections"`
	PercentComplete   int       `json:"percent_complete"`
	IsComplete        bool      `json:"is_complete"`
	Started           bool      `json:"started"`
	LastUpdated       time.Time `json:"last_updated"`
}

// Summarize считает показатели для элемента из total секций.
func (r Record) Summarize(total int) Summary {
	c := r.Clone()
	return Summary{
		CurrentStep:       c.CurrentStep,
		UnlockedSteps:     c.UnlockedSteps,
		CompletedSections: c.CompletedSections,
		PercentComplete:   r.PercentComplete(total),
		IsComplete:        r.IsComplete(total),
		Started:           r.Started,
		LastUpdated:       r.LastUpdated,
	}
}
