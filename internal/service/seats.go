package service

import (
	"fmt"
	"sort"
)

// normalizeSeats validates a seat selection and returns it sorted with
// duplicates collapsed.
func normalizeSeats(seatNumbers []int) ([]int, error) {
	if len(seatNumbers) == 0 {
		return nil, fmt.Errorf("%w: no seats requested", ErrInvalidSeats)
	}
	seen := make(map[int]struct{}, len(seatNumbers))
	out := make([]int, 0, len(seatNumbers))
	for _, n := range seatNumbers {
		if n <= 0 {
			return nil, fmt.Errorf("%w: seat number %d", ErrInvalidSeats, n)
		}
		if _, dup := seen[n]; dup {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	sort.Ints(out)
	return out, nil
}
