package availability

import (
	"slices"
	"sort"
	"time"

	"nilecruise/internal/models"
)

// Decision is the Capacity Resolver's verdict.
type Decision struct {
	Feasible bool
	Code     models.Code
	Reason   string
	Cabins   []models.Cabin // selected cabins, vessels only
}

func reject(code models.Code, reason string) Decision {
	return Decision{Code: code, Reason: reason}
}

// ResolvePackage applies the fixed-departure rule: any active overlap blocks
// the departure regardless of guest counts.
func ResolvePackage(unit *models.Unit, existing []models.Reservation, start, end time.Time, guests int, excludeID int64) Decision {
	if guests <= 0 {
		return reject(models.CodeValidation, "invalid guest count")
	}
	if unit.MaxGuests > 0 && guests > unit.MaxGuests {
		return reject(models.CodeCapacityExceeded, "capacity exceeded")
	}
	if Conflicts(existing, nil, start, end, excludeID) {
		return reject(models.CodeAlreadyBooked, "package already booked for the requested dates")
	}
	return Decision{Feasible: true}
}

// ResolveVessel picks the cabins for a vessel booking among cabins that are
// free for the whole range.
func ResolveVessel(unit *models.Unit, cabins []models.Cabin, existing []models.Reservation, start, end time.Time, guests int, excludeID int64) Decision {
	if guests <= 0 {
		return reject(models.CodeValidation, "invalid guest count")
	}

	active := make([]models.Cabin, 0, len(cabins))
	for _, c := range cabins {
		if c.IsActive {
			active = append(active, c)
		}
	}
	if (unit.MaxGuests > 0 && guests > unit.MaxGuests) || guests > models.TotalCapacity(active) {
		return reject(models.CodeCapacityExceeded, "capacity exceeded")
	}

	others := existing
	if excludeID != 0 {
		others = make([]models.Reservation, 0, len(existing))
		for _, r := range existing {
			if r.ID != excludeID {
				others = append(others, r)
			}
		}
	}
	occupied := NewIndex(others).OccupiedCabins(start, end)

	free := make([]models.Cabin, 0, len(active))
	for _, c := range active {
		if _, taken := occupied[c.ID]; !taken {
			free = append(free, c)
		}
	}

	selected, ok := SelectCabins(free, guests)
	if !ok {
		return reject(models.CodeAlreadyBooked, "not enough free cabins for the requested dates")
	}
	return Decision{Feasible: true, Cabins: selected}
}

// SelectCabins returns the combination with the fewest cabins whose capacity
// covers guests. Ties go to the smallest surplus, then the lowest summed rate
// delta, then the lowest cabin ids.
//
// Combinations are enumerated per size over an index array in lexicographic
// order. Sizes below the bound given by the largest capacities are skipped and
// the search stops at the first size that has a solution.
func SelectCabins(cabins []models.Cabin, guests int) ([]models.Cabin, bool) {
	n := len(cabins)
	if n == 0 || guests <= 0 {
		return nil, false
	}

	sorted := slices.Clone(cabins)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].ID < sorted[j].ID })

	caps := make([]int, n)
	for i, c := range sorted {
		caps[i] = c.Capacity
	}
	sort.Sort(sort.Reverse(sort.IntSlice(caps)))

	minSize, acc := 0, 0
	for minSize < n && acc < guests {
		acc += caps[minSize]
		minSize++
	}
	if acc < guests {
		return nil, false
	}

	idx := make([]int, n)
	best := make([]int, 0, n)
	for k := minSize; k <= n; k++ {
		bestSurplus, bestRate := -1, 0.0
		for i := 0; i < k; i++ {
			idx[i] = i
		}
		for {
			capacity, rate := 0, 0.0
			for _, i := range idx[:k] {
				capacity += sorted[i].Capacity
				rate += sorted[i].RateDelta
			}
			if surplus := capacity - guests; surplus >= 0 {
				if bestSurplus < 0 || surplus < bestSurplus || (surplus == bestSurplus && rate < bestRate) {
					bestSurplus, bestRate = surplus, rate
					best = append(best[:0], idx[:k]...)
				}
			}
			if !nextCombination(idx[:k], n) {
				break
			}
		}
		if bestSurplus >= 0 {
			out := make([]models.Cabin, len(best))
			for i, j := range best {
				out[i] = sorted[j]
			}
			return out, true
		}
	}
	return nil, false
}

// nextCombination advances idx to the next k-subset of [0, n) in
// lexicographic order and reports false after the last one.
func nextCombination(idx []int, n int) bool {
	k := len(idx)
	i := k - 1
	for i >= 0 && idx[i] == n-k+i {
		i--
	}
	if i < 0 {
		return false
	}
	idx[i]++
	for j := i + 1; j < k; j++ {
		idx[j] = idx[j-1] + 1
	}
	return true
}
