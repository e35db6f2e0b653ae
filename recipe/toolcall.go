package recipe

import (
	"fmt"

	"google.golang.org/genai"
)

// SetRecipeFunctionName is the tool the model calls to mutate the recipe.
const SetRecipeFunctionName = "set_recipe"

// SetRecipeFunctionDeclaration returns the set_recipe declaration for the model
func SetRecipeFunctionDeclaration() *genai.FunctionDeclaration {
	return &genai.FunctionDeclaration{
		Name: SetRecipeFunctionName,
		Description: "Replace the entire recipe the user is working on. " +
			"Always supply the complete ingredient and step lists, not just the changed parts.",
		Parameters: &genai.Schema{
			Type: genai.TypeObject,
			Properties: map[string]*genai.Schema{
				"title": {
					Type:        genai.TypeString,
					Description: "Recipe title",
				},
				"servings": {
					Type:        genai.TypeInteger,
					Description: "Number of servings",
				},
				"ingredients": {
					Type:        genai.TypeArray,
					Description: "Complete ingredient list, one line per ingredient",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
				"steps": {
					Type:        genai.TypeArray,
					Description: "Complete cooking steps in order",
					Items:       &genai.Schema{Type: genai.TypeString},
				},
			},
			Required: []string{"title", "ingredients", "steps"},
		},
	}
}

// BuildTools wraps the recipe function declarations for a model session.
func BuildTools() []*genai.Tool {
	return []*genai.Tool{
		{
			FunctionDeclarations: []*genai.FunctionDeclaration{
				SetRecipeFunctionDeclaration(),
			},
		},
	}
}

// FromSetRecipeCall converts a set_recipe function call into a full Snapshot.
// A missing or malformed required field rejects the whole call: a partial
// snapshot can never be reconciled against concurrent edits, so the mutation
// is dropped rather than half-applied.
func FromSetRecipeCall(fc *genai.FunctionCall, recipeID string, nowMillis int64) (Snapshot, error) {
	if fc.Name != SetRecipeFunctionName {
		return Snapshot{}, fmt.Errorf("unexpected function %q", fc.Name)
	}

	title, ok := fc.Args["title"].(string)
	if !ok || title == "" {
		return Snapshot{}, fmt.Errorf("set_recipe missing required field 'title'")
	}

	ingredients, err := stringSlice(fc.Args["ingredients"])
	if err != nil {
		return Snapshot{}, fmt.Errorf("set_recipe field 'ingredients': %w", err)
	}

	steps, err := stringSlice(fc.Args["steps"])
	if err != nil {
		return Snapshot{}, fmt.Errorf("set_recipe field 'steps': %w", err)
	}

	snap := Snapshot{
		ID:          recipeID,
		Title:       title,
		Ingredients: make([]Ingredient, 0, len(ingredients)),
		Steps:       make([]Step, 0, len(steps)),
		LastUpdated: nowMillis,
	}

	// servings is optional
	if servings, ok := fc.Args["servings"].(float64); ok {
		snap.Servings = int(servings)
	}

	for _, text := range ingredients {
		snap.Ingredients = append(snap.Ingredients, Ingredient{Text: text})
	}
	for i, text := range steps {
		snap.Steps = append(snap.Steps, Step{
			Title:       fmt.Sprintf("Step %d", i+1),
			Description: text,
		})
	}

	return snap, nil
}

// stringSlice coerces a decoded JSON array into []string.
// Function call arguments arrive as []any of string.
func stringSlice(v any) ([]string, error) {
	raw, ok := v.([]any)
	if !ok {
		return nil, fmt.Errorf("missing or not an array")
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty array")
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("non-string entry")
		}
		out = append(out, s)
	}
	return out, nil
}
