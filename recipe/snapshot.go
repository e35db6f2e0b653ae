package recipe

// Ingredient is a single line of the ingredient list.
type Ingredient struct {
	Text string `json:"text"`
}

// Step is a single cooking step.
type Step struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Snapshot is the full state of one recipe at a point in time.
// Snapshots are always complete replacements, never diffs: a newer snapshot
// carries the entire ingredient and step lists.
type Snapshot struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Servings    int          `json:"servings,omitempty"`
	Ingredients []Ingredient `json:"ingredients"`
	Steps       []Step       `json:"steps"`
	LastUpdated int64        `json:"lastUpdated"` // unix milliseconds
}
