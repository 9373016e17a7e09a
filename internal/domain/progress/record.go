// Package progress содержит запись прогресса читателя по одному элементу
// контента и порты хранилищ, в которых эта запись живёт.
//
// Инварианты записи:
//
//   - CurrentStep всегда входит в UnlockedSteps
//   - UnlockedSteps - непрерывный префикс {0..max}, растёт только вперёд
//   - CompletedSections - множество (отсортировано, без повторов)
package progress

import (
	"math"
	"sort"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD
// ══════════════════════════════════════════════════════════════════════════════

// Record - прогресс по одному элементу контента.
type Record struct {
	// ContentID - идентификатор урока или главы.
	ContentID string `json:"contentId"`

	// UnlockedSteps - открытые шаги, всегда {0..max}.
	UnlockedSteps []int `json:"unlockedSteps"`

	// CurrentStep - текущий шаг.
	CurrentStep int `json:"currentStep"`

	// CompletedSections - индексы завершённых секций.
	CompletedSections []int `json:"completedSections"`

	// LastUpdated - время последнего изменения.
	LastUpdated time.Time `json:"lastUpdated"`

	// Started - читатель хотя бы раз открыл элемент.
	Started bool `json:"started"`
}

// NewRecord создаёт начальную запись: открыт и текущий только шаг 0.
func NewRecord(contentID string) Record {
	return Record{
		ContentID:         contentID,
		UnlockedSteps:     []int{0},
		CurrentStep:       0,
		CompletedSections: []int{},
	}
}

// Normalize восстанавливает инварианты записи, полученной извне.
func (r *Record) Normalize() {
	if r.CurrentStep < 0 {
		r.CurrentStep = 0
	}
	top := r.CurrentStep
	for _, s := range r.UnlockedSteps {
		if s > top {
			top = s
		}
	}
	r.UnlockedSteps = prefix(top)

	r.CompletedSections = uniqueSorted(r.CompletedSections)
}

// Clone возвращает глубокую копию.
func (r Record) Clone() Record {
	out := r
	out.UnlockedSteps = append([]int(nil), r.UnlockedSteps...)
	out.CompletedSections = append([]int{}, r.CompletedSections...)
	return out
}

// MaxUnlocked возвращает наибольший открытый шаг.
func (r Record) MaxUnlocked() int {
	if len(r.UnlockedSteps) == 0 {
		return 0
	}
	return r.UnlockedSteps[len(r.UnlockedSteps)-1]
}

// IsUnlocked проверяет, открыт ли шаг.
func (r Record) IsUnlocked(step int) bool {
	return step >= 0 && step <= r.MaxUnlocked()
}

// IsSectionCompleted проверяет, завершена ли секция.
func (r Record) IsSectionCompleted(index int) bool {
	i := sort.SearchInts(r.CompletedSections, index)
	return i < len(r.CompletedSections) && r.CompletedSections[i] == index
}

// ══════════════════════════════════════════════════════════════════════════════
// MUTATIONS
// ══════════════════════════════════════════════════════════════════════════════

// MarkStarted отмечает первый просмотр. Возвращает false, если уже отмечено.
func (r *Record) MarkStarted(now time.Time) bool {
	if r.Started {
		return false
	}
	r.Started = true
	r.LastUpdated = now
	return true
}

// AdvanceTo делает шаг текущим и открывает все шаги до него включительно.
// Это единственная мутация, расширяющая UnlockedSteps.
func (r *Record) AdvanceTo(step int, now time.Time) {
	if step < 0 {
		step = 0
	}
	if step > r.MaxUnlocked() {
		r.UnlockedSteps = prefix(step)
	}
	r.CurrentStep = step
	r.LastUpdated = now
}

// JumpTo переходит на уже открытый шаг. Возвращает false, если шаг
// закрыт или уже текущий: запись при этом не меняется.
func (r *Record) JumpTo(step int, now time.Time) bool {
	if !r.IsUnlocked(step) || step == r.CurrentStep {
		return false
	}
	r.CurrentStep = step
	r.LastUpdated = now
	return true
}

// CompleteSection добавляет секцию в завершённые. Идемпотентна:
// повторный вызов возвращает false.
func (r *Record) CompleteSection(index int, now time.Time) bool {
	if index < 0 || r.IsSectionCompleted(index) {
		return false
	}
	r.CompletedSections = uniqueSorted(append(r.CompletedSections, index))
	r.LastUpdated = now
	return true
}

// ══════════════════════════════════════════════════════════════════════════════
// DERIVED QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// CompletedCount возвращает число завершённых секций в диапазоне [0, total).
func (r Record) CompletedCount(total int) int {
	n := 0
	for _, idx := range r.CompletedSections {
		if idx < total {
			n++
		}
	}
	return n
}

// PercentComplete = round(100 * |completed| / total). Для пустого элемента 0.
func (r Record) PercentComplete(total int) int {
	if total <= 0 {
		return 0
	}
	return int(math.Round(100 * float64(r.CompletedCount(total)) / float64(total)))
}

// IsComplete - все секции элемента завершены. Пустой элемент не завершён.
func (r Record) IsComplete(total int) bool {
	return total > 0 && r.CompletedCount(total) == total
}

func prefix(top int) []int {
	out := make([]int, top+1)
	for i := range out {
		out[i] = i
	}
	return out
}

func uniqueSorted(in []int) []int {
	out := make([]int, 0, len(in))
	seen := make(map[int]struct{}, len(in))
	for _, v := range in {
		if v < 0 {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Ints(out)
	return out
}
