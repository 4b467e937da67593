package tasks

import "github.com/desertthunder/sheetsync/internal/models"

// Alignment is the result of matching a local track list against a remote one.
type Alignment struct {
	Matched   []int          // Indices into local, in remote order
	Unmatched []models.Track // Local tracks with no remote counterpart
}

// Align matches local tracks to remote tracks by media key.
//
// Remote is walked in order. For each remote track the local list is searched from a cursor over a
// permutation of local indices; a hit is swapped to the cursor and the cursor advances. Everything past the
// cursor once remote is exhausted is unmatched. Inputs are not modified. Each local track lands in exactly
// one of Matched or Unmatched.
func Align(local, remote []models.Track) Alignment {
	perm := make([]int, len(local))
	for i := range perm {
		perm[i] = i
	}

	cursor := 0
	for _, r := range remote {
		key := r.Key()
		for j := cursor; j < len(perm); j++ {
			if local[perm[j]].Key() == key {
				perm[cursor], perm[j] = perm[j], perm[cursor]
				cursor++
				break
			}
		}
	}

	result := Alignment{Matched: perm[:cursor]}
	for _, idx := range perm[cursor:] {
		result.Unmatched = append(result.Unmatched, local[idx])
	}
	return result
}
