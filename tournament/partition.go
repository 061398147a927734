/*
partition.go - Division partitioning into bounded subgroups

PURPOSE:
  Splits one division's registrants into contiguous subgroups of at
  most GroupSizeCap players, after a uniform shuffle. Fairness of the
  draw matters, reproducibility does not, so production uses an
  unseeded source; tests inject a seeded one.
*/
package tournament

import "math/rand"

// GroupSizeCap bounds subgroup size.
const GroupSizeCap = 6

// Partitioner shuffles and chunks registrants.
type Partitioner struct {
	// Rand is the shuffle source. Nil falls back to the global source.
	Rand *rand.Rand

	// Cap overrides GroupSizeCap when positive (tests).
	Cap int
}

func (p *Partitioner) cap() int {
	if p.Cap > 0 {
		return p.Cap
	}
	return GroupSizeCap
}

func (p *Partitioner) shuffle(n int, swap func(i, j int)) {
	if p.Rand != nil {
		p.Rand.Shuffle(n, swap)
		return
	}
	rand.Shuffle(n, swap)
}

// Partition returns the student ids split into subgroups of at most
// the cap. A division with 7 registrants and cap 6 yields groups of
// 6 and 1; the trailing short group is legal and simply plays fewer
// (or zero) matches.
func (p *Partitioner) Partition(studentIDs []string) [][]string {
	if len(studentIDs) == 0 {
		return nil
	}

	shuffled := make([]string, len(studentIDs))
	copy(shuffled, studentIDs)
	p.shuffle(len(shuffled), func(i, j int) {
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	})

	c := p.cap()
	groups := make([][]string, 0, (len(shuffled)+c-1)/c)
	for start := 0; start < len(shuffled); start += c {
		end := start + c
		if end > len(shuffled) {
			end = len(shuffled)
		}
		groups = append(groups, shuffled[start:end])
	}
	return groups
}

// PickTable chooses a table id uniformly at random. Tournament matches
// draw from the school-wide pool without consulting the course-booking
// calendar; the two subsystems run on different resource cycles, so a
// physical double-booking between them is a known, accepted conflict.
func (p *Partitioner) PickTable(tables []string) string {
	if len(tables) == 0 {
		return ""
	}
	if p.Rand != nil {
		return tables[p.Rand.Intn(len(tables))]
	}
	return tables[rand.Intn(len(tables))]
}
