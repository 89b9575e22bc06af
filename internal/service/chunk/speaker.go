package chunk

import (
	"fmt"
	"strings"

	"ai-scribe-service/internal/models"
)

// DominantSpeaker returns the speaker with the most words. Ties go to the
// lowest speaker id; an empty set yields speaker 0.
func DominantSpeaker(words []models.WordEvent) int {
	speakers := make([]int, 0, len(words))
	for _, w := range words {
		speakers = append(speakers, w.Speaker)
	}
	return DominantOf(speakers)
}

// DominantOf applies the dominant-speaker rule to a list of speaker ids.
func DominantOf(speakers []int) int {
	if len(speakers) == 0 {
		return 0
	}

	counts := make(map[int]int, 4)
	for _, s := range speakers {
		counts[s]++
	}

	best, bestCount := 0, -1
	for s, n := range counts {
		if n > bestCount || (n == bestCount && s < best) {
			best, bestCount = s, n
		}
	}
	return best
}

// FlattenText renders chunks as one "[Speaker n]: text" line each, in order.
// Pure function of its input.
func FlattenText(chunks []models.Chunk) string {
	lines := make([]string, 0, len(chunks))
	for _, c := range chunks {
		lines = append(lines, fmt.Sprintf("[Speaker %d]: %s", c.Speaker, c.Text))
	}
	return strings.Join(lines, "\n")
}

// JoinText space-joins word display text in order.
func JoinText(words []models.WordEvent) string {
	parts := make([]string, 0, len(words))
	for _, w := range words {
		if t := strings.TrimSpace(w.DisplayText()); t != "" {
			parts = append(parts, t)
		}
	}
	return strings.Join(parts, " ")
}
