package auth

import (
	"math/rand"
	"strings"
)

// Anonymous accounts get a generated adjective_animal username; the
// display name is the same with the underscore spaced out.

var adjectives = []string{
	"amber", "bold", "brave", "bright", "calm", "clever", "cosmic",
	"crimson", "daring", "dusty", "eager", "fuzzy", "gentle", "golden",
	"happy", "hidden", "humble", "jolly", "keen", "lively", "lucky",
	"mellow", "misty", "noble", "patient", "proud", "quiet", "rapid",
	"rustic", "silent", "silver", "sly", "snowy", "solar", "swift",
	"tidy", "vivid", "wandering", "wild", "witty",
}

var animals = []string{
	"badger", "bat", "bison", "crane", "crow", "dolphin", "falcon",
	"ferret", "finch", "fox", "gecko", "heron", "ibis", "jackal",
	"koala", "lemur", "lynx", "magpie", "marmot", "mole", "moose",
	"narwhal", "newt", "otter", "owl", "panda", "pelican", "puffin",
	"quail", "raccoon", "raven", "seal", "shrew", "sparrow", "stoat",
	"swan", "tapir", "toad", "walrus", "wren",
}

// GenerateUsername returns a random two-word username like
// "brave_otter". Uniqueness is the caller's problem (the user
// collection has a unique index; retry on conflict).
func GenerateUsername(r *rand.Rand) string {
	return adjectives[r.Intn(len(adjectives))] + "_" + animals[r.Intn(len(animals))]
}

// DisplayNameFor derives the display name from a generated username.
func DisplayNameFor(username string) string {
	return strings.ReplaceAll(username, "_", " ")
}
