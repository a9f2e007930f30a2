// Package chart holds the pure star chart transitions shared by the client
// controller and its tests. None of these touch storage.
package chart

import "github.com/dukerupert/starchart/internal/model"

// AddStar adds one star unless the chart is already full.
func AddStar(s *model.ChartState, totalStars int) bool {
	if s.Points >= totalStars {
		return false
	}
	s.Points++
	return true
}

// RemoveStar removes the single star at index. The annotation at index is
// dropped and every annotation above it moves down one slot so annotations
// stay contiguous from zero.
func RemoveStar(s *model.ChartState, index int) bool {
	if index < 0 || index >= s.Points {
		return false
	}
	s.Points--
	s.StarComments = shiftDown(s.StarComments, index)
	s.StickerTypes = shiftDown(s.StickerTypes, index)
	return true
}

// Award adds bonus stars clamped to totalStars and returns how many were added.
func Award(s *model.ChartState, bonus, totalStars int) int {
	add := min(bonus, totalStars-s.Points)
	if add <= 0 {
		return 0
	}
	s.Points += add
	return add
}

// Reset zeroes the points and clears the annotations. Reward and theme are kept.
func Reset(s *model.ChartState) {
	s.Points = 0
	s.StarComments = map[int]string{}
	s.StickerTypes = map[int]int{}
}

// IsComplete reports whether the chart has reached its goal.
func IsComplete(s model.ChartState, totalStars int) bool {
	return s.Points >= totalStars
}

func shiftDown[V any](m map[int]V, index int) map[int]V {
	out := make(map[int]V, len(m))
	for k, v := range m {
		switch {
		case k < index:
			out[k] = v
		case k > index:
			out[k-1] = v
		}
	}
	return out
}
