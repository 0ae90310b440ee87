package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"vikings-osm-sync/internal/config"
	"vikings-osm-sync/internal/storage"
)

func main() {
	// Disable structured logging for CLI
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError, // Only show errors
	})))

	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]

	if command == "help" {
		printUsage()
		return
	}

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Open database
	db, err := storage.Open(cfg.DatabasePath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to open database: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()

	switch command {
	case "sections":
		handleSections(db)
	case "events":
		handleEvents(db)
	case "members":
		handleMembers(db)
	case "camp-group":
		handleCampGroup(db)
	case "sign-ins":
		handleSignIns(db)
	case "cache-list":
		handleCacheList(db)
	case "cache-clear":
		handleCacheClear(db)
	default:
		fmt.Fprintf(os.Stderr, "Error: Unknown command '%s'\n\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`vikings-osm-sync CLI - Offline Store Inspection

Usage:
  cli <command> [options]

Commands:
  sections              List the sections in the offline store
  events <section_id>   List stored events for a section
  members <section_id>  List stored members for a section
  camp-group <group>    List members assigned to a camp group
  sign-ins <section_id> <term_id>  Show stored event sign-in state
  cache-list [prefix]   List hot cache entries, optionally by key prefix
  cache-clear           Drop every hot cache entry (cold store is kept)
  help                  Show this help message

Examples:
  cli sections
  cli events 12345
  cli camp-group "Group 1"
  cli cache-list viking_events
  cli cache-clear

Environment Variables Required:
  OSM_BASE_URL           - OSM backend base URL
  OAUTH_CLIENT_ID        - OSM application client ID
  OAUTH_CLIENT_SECRET    - OSM application client secret`)
}

func handleSections(db *storage.DB) {
	sections, err := db.ListSections()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list sections: %v\n", err)
		os.Exit(1)
	}

	if len(sections) == 0 {
		fmt.Println("No sections stored yet.")
		fmt.Println("\nSign in via /oauth/login and run a sync to populate the store.")
		return
	}

	fmt.Printf("Found %d section(s):\n\n", len(sections))
	for _, s := range sections {
		fmt.Printf("ID: %s\n", s.SectionID)
		fmt.Printf("  Name: %s\n", s.SectionName)
		fmt.Printf("  Type: %s\n", s.SectionType)
		fmt.Println()
	}
}

func handleEvents(db *storage.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: Section ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli events <section_id>")
		os.Exit(1)
	}
	sectionID := os.Args[2]

	events, err := db.GetEventsBySection(sectionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list events: %v\n", err)
		os.Exit(1)
	}

	if len(events) == 0 {
		fmt.Printf("No events stored for section %s.\n", sectionID)
		return
	}

	fmt.Printf("Found %d event(s) for section %s:\n\n", len(events), sectionID)
	for _, e := range events {
		fmt.Printf("ID: %s\n", e.EventID)
		fmt.Printf("  Name: %s\n", e.Name)
		fmt.Printf("  Term: %s\n", e.TermID)
		fmt.Printf("  Start: %s\n", e.StartDate)
		fmt.Println()
	}
}

func handleMembers(db *storage.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: Section ID required")
		fmt.Fprintln(os.Stderr, "Usage: cli members <section_id>")
		os.Exit(1)
	}
	sectionID := os.Args[2]

	members, personTypes, err := db.GetSectionMembers(sectionID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list members: %v\n", err)
		os.Exit(1)
	}

	if len(members) == 0 {
		fmt.Printf("No members stored for section %s.\n", sectionID)
		return
	}

	fmt.Printf("Found %d member(s) for section %s:\n\n", len(members), sectionID)
	for _, m := range members {
		fmt.Printf("ID: %s\n", m.MemberID)
		fmt.Printf("  Name: %s %s\n", m.FirstName, m.LastName)
		fmt.Printf("  Type: %s\n", personTypes[m.MemberID])
		if m.CampGroup != "" {
			fmt.Printf("  Camp Group: %s\n", m.CampGroup)
		}
		fmt.Println()
	}
}

func handleCampGroup(db *storage.DB) {
	if len(os.Args) < 3 {
		fmt.Fprintln(os.Stderr, "Error: Camp group name required")
		fmt.Fprintln(os.Stderr, "Usage: cli camp-group <group>")
		os.Exit(1)
	}
	group := os.Args[2]

	ids, err := db.GetMembersByCampGroup(group)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list camp group: %v\n", err)
		os.Exit(1)
	}

	if len(ids) == 0 {
		fmt.Printf("No members assigned to %q.\n", group)
		return
	}

	fmt.Printf("Found %d member(s) in %q:\n\n", len(ids), group)
	for _, id := range ids {
		m, err := db.GetMember(id)
		if err != nil || m == nil {
			fmt.Printf("ID: %s\n", id)
			continue
		}
		fmt.Printf("ID: %s  %s %s\n", m.MemberID, m.FirstName, m.LastName)
	}
}

func handleSignIns(db *storage.DB) {
	if len(os.Args) < 4 {
		fmt.Fprintln(os.Stderr, "Error: Section and term IDs required")
		fmt.Fprintln(os.Stderr, "Usage: cli sign-ins <section_id> <term_id>")
		os.Exit(1)
	}
	sectionID, termID := os.Args[2], os.Args[3]

	rows, err := db.GetVikingEventData(sectionID, termID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list sign-in state: %v\n", err)
		os.Exit(1)
	}

	if len(rows) == 0 {
		fmt.Printf("No sign-in data stored for section %s, term %s.\n", sectionID, termID)
		return
	}

	fmt.Printf("Found %d sign-in row(s):\n\n", len(rows))
	for _, r := range rows {
		fmt.Printf("Member: %s\n", r.MemberID)
		fmt.Printf("  Camp Group: %s\n", r.CampGroup)
		fmt.Printf("  Signed In: %s / %s\n", r.SignedInBy, r.SignedInWhen)
		fmt.Printf("  Signed Out: %s / %s\n", r.SignedOutBy, r.SignedOutWhen)
		fmt.Println()
	}
}

func handleCacheList(db *storage.DB) {
	prefix := ""
	if len(os.Args) >= 3 {
		prefix = os.Args[2]
	}

	entries, err := db.CacheKeys(prefix)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to list cache entries: %v\n", err)
		os.Exit(1)
	}

	if len(entries) == 0 {
		fmt.Println("No cache entries found.")
		return
	}

	fmt.Printf("Found %d cache entry(ies):\n\n", len(entries))
	for _, e := range entries {
		fmt.Printf("%s\n", e.Key)
		fmt.Printf("  Age: %s\n", e.Age().Round(time.Second))
		fmt.Printf("  Size: %d bytes\n", len(e.Payload))
		fmt.Println()
	}
}

func handleCacheClear(db *storage.DB) {
	if err := db.ClearAllCaches(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: Failed to clear caches: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("✓ All hot cache entries cleared.")
}
