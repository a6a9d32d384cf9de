package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nexuslite/nexuslite/document"
	"github.com/nexuslite/nexuslite/nexuslite"
	"github.com/nexuslite/nexuslite/nxconfig"
)

func main() {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println("NexusLite Demo: embedded document storage over WASP")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Println()

	dir, err := os.MkdirTemp("", "nexuslite-demo-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	demoCRUD(dir + "/crud")
	fmt.Println()
	demoEphemeralTTL(dir + "/ttl")
}

func demoCRUD(stem string) {
	fmt.Println("--- Basic CRUD round-trip ---")

	cfg := nxconfig.Default()
	db, err := nexuslite.Open(stem, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		return
	}
	defer db.Close()

	if err := db.CreateCollection("users"); err != nil {
		fmt.Fprintf(os.Stderr, "create collection failed: %v\n", err)
		return
	}
	users, err := db.Collection("users")
	if err != nil {
		fmt.Fprintf(os.Stderr, "collection lookup failed: %v\n", err)
		return
	}

	doc, err := users.Insert(document.Persistent, []byte(`{"username":"alice","age":30}`), 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "insert failed: %v\n", err)
		return
	}
	fmt.Printf("inserted %s: %s\n", doc.ID, doc.Payload)

	found, _, _ := users.Find(doc.ID)
	fmt.Printf("found %s: created_at == updated_at: %v\n", found.ID, found.CreatedAt.Equal(found.UpdatedAt))

	updated, err := users.Update(doc.ID, []byte(`{"username":"alice","age":31}`))
	if err != nil {
		fmt.Fprintf(os.Stderr, "update failed: %v\n", err)
		return
	}
	fmt.Printf("updated %s: %s (updated_at > created_at: %v)\n", updated.ID, updated.Payload, updated.UpdatedAt.After(updated.CreatedAt))

	if err := users.Delete(doc.ID); err != nil {
		fmt.Fprintf(os.Stderr, "delete failed: %v\n", err)
		return
	}
	_, ok, _ := users.Find(doc.ID)
	fmt.Printf("after delete, found: %v\n", ok)
}

func demoEphemeralTTL(stem string) {
	fmt.Println("--- Ephemeral TTL expiry ---")

	cfg := nxconfig.Default()
	cfg.Cache.SweeperInterval = 200 * time.Millisecond
	db, err := nexuslite.Open(stem, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open failed: %v\n", err)
		return
	}
	defer db.Close()

	if err := db.CreateCollection("sessions"); err != nil {
		fmt.Fprintf(os.Stderr, "create collection failed: %v\n", err)
		return
	}
	sessions, err := db.Collection("sessions")
	if err != nil {
		fmt.Fprintf(os.Stderr, "collection lookup failed: %v\n", err)
		return
	}

	doc, err := sessions.Insert(document.Ephemeral, []byte(`{"event":"login"}`), time.Second)
	if err != nil {
		fmt.Fprintf(os.Stderr, "insert failed: %v\n", err)
		return
	}
	fmt.Printf("inserted ephemeral %s with ttl=1s\n", doc.ID)

	time.Sleep(1200 * time.Millisecond)

	_, ok, _ := sessions.Find(doc.ID)
	fmt.Printf("after 1.2s, found: %v (expect false)\n", ok)
	metrics := sessions.CacheMetrics()
	fmt.Printf("cache ttl_evictions: %d\n", metrics.TTLEvictions)
}
