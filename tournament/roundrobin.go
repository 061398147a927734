/*
roundrobin.go - Circle-method round-robin pairing

PURPOSE:
  Generate a complete round-robin schedule for one subgroup: every
  unordered pair of players meets exactly once across the cycle.

CIRCLE METHOD:
  Seat the players around a circle, fix seat 0, rotate the rest one
  step per round, and pair seats across the circle. An odd group gets a
  phantom opponent; whoever draws the phantom has a bye that round, and
  the rotation guarantees each player byes exactly once per cycle.

  n even: n-1 rounds, n/2 pairings per round
  n odd:  n   rounds, (n-1)/2 pairings + 1 bye per round
  n ≤ 1:  no rounds
*/
package tournament

// Pairing is one head-to-head in one round. B empty means A has a bye.
type Pairing struct {
	A string
	B string
}

// Bye reports whether the pairing is an idle slot.
func (p Pairing) Bye() bool { return p.B == "" }

// RoundRobin returns the full cycle of rounds for the given players.
// Order within a round and orientation of a pairing carry no meaning.
func RoundRobin(players []string) [][]Pairing {
	if len(players) < 2 {
		return nil
	}

	// Odd group: seat a phantom. Pairing against it becomes a bye.
	seats := make([]string, len(players))
	copy(seats, players)
	if len(seats)%2 == 1 {
		seats = append(seats, "")
	}

	n := len(seats)
	rounds := make([][]Pairing, 0, n-1)

	for round := 0; round < n-1; round++ {
		pairings := make([]Pairing, 0, n/2)
		for i := 0; i < n/2; i++ {
			a, b := seats[i], seats[n-1-i]
			if a == "" {
				a, b = b, a // keep the real player in slot A
			}
			pairings = append(pairings, Pairing{A: a, B: b})
		}
		rounds = append(rounds, pairings)

		// Rotate everything but seat 0 one step clockwise.
		last := seats[n-1]
		copy(seats[2:], seats[1:n-1])
		seats[1] = last
	}
	return rounds
}
