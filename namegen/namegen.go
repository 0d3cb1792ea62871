// Package namegen produces three-word display names for new accounts,
// such as "Brisk Amber Heron". Uniqueness is enforced by the store; on
// repeated collisions callers fall back to New with a fresh draw, and
// ultimately to a uuid-derived label.
package namegen

import (
	"math/rand"
	"strings"

	"github.com/google/uuid"
)

var adjectives = []string{
	"Brisk", "Calm", "Clever", "Daring", "Eager", "Fleet", "Gentle",
	"Hardy", "Keen", "Lively", "Merry", "Nimble", "Proud", "Quiet",
	"Rapid", "Sly", "Steady", "Swift", "Vivid", "Wise",
}

var colors = []string{
	"Amber", "Azure", "Bronze", "Coral", "Crimson", "Golden", "Indigo",
	"Ivory", "Jade", "Obsidian", "Pearl", "Ruby", "Russet", "Sable",
	"Scarlet", "Silver", "Teal", "Umber", "Violet", "Zinc",
}

var animals = []string{
	"Badger", "Bison", "Condor", "Falcon", "Gecko", "Heron", "Ibex",
	"Jackal", "Kestrel", "Lynx", "Marten", "Ocelot", "Osprey", "Otter",
	"Panther", "Puffin", "Raven", "Stoat", "Viper", "Wombat",
}

// New draws a random three-word name.
func New() string {
	return adjectives[rand.Intn(len(adjectives))] + " " +
		colors[rand.Intn(len(colors))] + " " +
		animals[rand.Intn(len(animals))]
}

// Fallback derives a collision-proof label from a fresh uuid.
func Fallback() string {
	return "Hyve " + strings.ToUpper(uuid.NewString()[:8])
}
