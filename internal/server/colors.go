package server

import "math/rand/v2"

// userColors is the fixed palette drawn from on every join. Picks are
// independent, so two members may share a color.
var userColors = []string{
	"#ef4444", "#f97316", "#eab308", "#22c55e",
	"#06b6d4", "#3b82f6", "#8b5cf6", "#ec4899",
}

func assignColor() string {
	return userColors[rand.IntN(len(userColors))]
}
