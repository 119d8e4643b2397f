package attributes

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

// TotalHealth sums every pool that absorbs damage.
func TotalHealth(s *Set) float64 {
	return s.Get(Health) + s.Get(Shield) + s.Get(ExtraHealth)
}

// TotalMaxHealth sums the pool capacities. Extra health has no cap and counts as-is.
func TotalMaxHealth(s *Set) float64 {
	return s.Get(MaxHealth) + s.Get(MaxShield) + s.Get(ExtraHealth)
}
