package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/gosom/exposure-monitor/fetcher"
	"github.com/gosom/exposure-monitor/serp"
)

// This utility verifies that the search session cookies are accepted.
// It runs one query anonymously and once with the session and compares the
// result layouts.

func main() {
	_ = godotenv.Load()

	fmt.Println("=== Session Verification Tool ===")
	fmt.Println()

	query := "coffee machine"
	if len(os.Args) > 1 {
		query = os.Args[1]
	}

	session := fetcher.Session{
		Aut:   os.Getenv("SEARCH_SESSION_AUT"),
		Ses:   os.Getenv("SEARCH_SESSION_SES"),
		Extra: os.Getenv("SEARCH_SESSION_EXTRA"),
	}

	if !session.Valid() {
		fmt.Println("ERROR: SEARCH_SESSION_AUT and SEARCH_SESSION_SES must both be set in .env")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()

	client := fetcher.New(fetcher.WithSession(session))

	fmt.Printf("1. Searching %q anonymously...\n", query)

	anonTopics, err := topics(ctx, client, query, fetcher.ModeAnonymous)
	if err != nil {
		fmt.Printf("Error searching anonymously: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("   Topics: %v\n\n", anonTopics)

	fmt.Printf("2. Searching %q with the session...\n", query)

	authTopics, err := topics(ctx, client, query, fetcher.ModeAuthenticated)
	if err != nil {
		fmt.Printf("Error searching with the session: %v\n", err)
		fmt.Println("\n❌ SESSION FAILED - refresh the cookies!")
		os.Exit(1)
	}

	fmt.Printf("   Topics: %v\n\n", authTopics)

	diff := serp.DiffTopics(authTopics, anonTopics)

	if len(diff.OnlyA) == 0 && len(diff.OnlyB) == 0 {
		fmt.Println("✅ SUCCESS: the session is accepted and both modes show the same topics.")
	} else {
		fmt.Println("✅ SUCCESS: the session is accepted. Topics differ between modes:")
		fmt.Printf("   only with session: %v\n", diff.OnlyA)
		fmt.Printf("   only anonymous:    %v\n", diff.OnlyB)
	}
}

func topics(ctx context.Context, client *fetcher.Client, query string, mode fetcher.Mode) ([]string, error) {
	doc, err := client.FetchSearch(ctx, query, mode, 2)
	if err != nil {
		return nil, err
	}

	_, ans := serp.Classify(serp.Extract(doc))

	return ans, nil
}
