package conversation

import "math/rand"

// Sample returns up to n conversations chosen uniformly with rng. The
// input slice is left untouched. When n covers the whole set the input
// order is kept.
func Sample(convs []Conversation, n int, rng *rand.Rand) []Conversation {
	if n <= 0 || n >= len(convs) {
		out := make([]Conversation, len(convs))
		copy(out, convs)
		return out
	}
	out := Shuffled(convs, rng)
	return out[:n]
}

// Shuffled returns a shuffled copy of convs.
func Shuffled(convs []Conversation, rng *rand.Rand) []Conversation {
	out := make([]Conversation, len(convs))
	copy(out, convs)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
