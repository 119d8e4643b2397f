package health

import "slices"

// causerHistory accumulates damage per causer ID. IDs are plain strings so the
// history never keeps an actor alive.
type causerHistory struct {
	damage map[string]float64
}

func (h *causerHistory) add(causer string, amount float64) {
	if causer == "" || amount <= 0 {
		return
	}
	if h.damage == nil {
		h.damage = make(map[string]float64)
	}
	h.damage[causer] += amount
}

func (h *causerHistory) clear() {
	clear(h.damage)
}

// topAssist returns the largest contributor other than final. Ties go to the
// lexically smallest ID so the answer is stable.
func (h *causerHistory) topAssist(final string) string {
	ids := make([]string, 0, len(h.damage))
	for id := range h.damage {
		if id != final {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	best, bestDamage := "", 0.0
	for _, id := range ids {
		if d := h.damage[id]; d > bestDamage {
			best, bestDamage = id, d
		}
	}
	return best
}

func (h *causerHistory) snapshot() map[string]float64 {
	if len(h.damage) == 0 {
		return nil
	}
	out := make(map[string]float64, len(h.damage))
	for id, d := range h.damage {
		out[id] = d
	}
	return out
}
