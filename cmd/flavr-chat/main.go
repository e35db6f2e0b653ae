package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/sunfac/flavr-sub007/client"
	"github.com/sunfac/flavr-sub007/messages"
	"github.com/sunfac/flavr-sub007/recipe"
)

func main() {
	endpoint := flag.String("server", "http://localhost:8081/chat/stream", "Chat stream endpoint")
	flag.Parse()

	store := recipe.NewStore()

	sc := &client.StreamClient{
		Endpoint: *endpoint,
		Store:    store,
		OnFragment: func(text string) {
			fmt.Print(text)
		},
	}

	var history []messages.Turn
	var recipeID string

	fmt.Println("Flavr chat. Type a message, or /quit to exit.")

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("\n> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if line == "/quit" {
			break
		}
		if line == "/recipe" {
			printRecipe(store, recipeID)
			continue
		}

		// The submitted message closes the history window for this request.
		history = append(history, messages.Turn{Role: messages.RoleUser, Content: line})

		var current *recipe.Snapshot
		if recipeID != "" {
			if snap, ok := store.Get(recipeID); ok {
				current = &snap
			}
		}

		view, err := sc.Send(context.Background(), line, current, history)
		fmt.Println()
		if err != nil {
			log.Printf("❌ Request failed: %v", err)
			// Drop the unanswered turn so the next request starts clean
			history = history[:len(history)-1]
			continue
		}

		if view.Failed() {
			history = history[:len(history)-1]
			continue
		}

		history = append(history, messages.Turn{Role: messages.RoleAssistant, Content: view.Text()})

		// Track whichever recipe the stream touched last
		if id := latestRecipeID(store, recipeID); id != "" {
			recipeID = id
		}
	}
}

// latestRecipeID returns the id of the most recently updated recipe, falling
// back to the current one when the store is empty.
func latestRecipeID(store *recipe.Store, current string) string {
	best := current
	var bestAt int64
	if snap, ok := store.Get(current); ok {
		bestAt = snap.LastUpdated
	}
	for _, snap := range store.All() {
		if snap.LastUpdated > bestAt {
			best = snap.ID
			bestAt = snap.LastUpdated
		}
	}
	return best
}

func printRecipe(store *recipe.Store, id string) {
	snap, ok := store.Get(id)
	if !ok {
		fmt.Println("No recipe yet.")
		return
	}

	fmt.Printf("📋 %s", snap.Title)
	if snap.Servings > 0 {
		fmt.Printf(" (serves %d)", snap.Servings)
	}
	fmt.Println()
	fmt.Println("\nIngredients:")
	for _, ing := range snap.Ingredients {
		fmt.Printf("  - %s\n", ing.Text)
	}
	fmt.Println("\nSteps:")
	for i, step := range snap.Steps {
		fmt.Printf("  %d. %s\n", i+1, step.Description)
	}
}
