package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
)

const baseURL = "http://localhost:8080"

// End-to-end smoke test against a running server. Requires Redis and a
// configured LLM provider; run the server first, then this binary.
func main() {
	// Wait for server to start
	time.Sleep(2 * time.Second)

	fmt.Println("Starting Integration Test...")

	userID := fmt.Sprintf("smoke-user-%d", time.Now().Unix())

	// 1. Ingest events
	fmt.Println("1. Ingesting events...")
	events := []string{
		"My name is Alice and I am a software engineer.",
		"I live in San Francisco and love hiking.",
		"I just moved to New York for a new job at Initech.",
	}
	for i, content := range events {
		ok := sendRequest("POST", "/ingest", map[string]interface{}{
			"user_id":   userID,
			"timestamp": time.Now().Add(time.Duration(i) * time.Minute).Format(time.RFC3339),
			"type":      "message",
			"source":    "smoke",
			"content":   content,
		}, http.StatusAccepted)
		if !ok {
			fmt.Println("FAILED: ingest event")
			os.Exit(1)
		}
	}

	// 2. Give the worker pool time to process
	fmt.Println("2. Waiting for ingestion pipeline...")
	time.Sleep(10 * time.Second)

	// 3. Query: the structured store should now say New York, with the
	// San Francisco chunk surfaced as historical evidence only.
	fmt.Println("3. Querying...")
	ok := sendRequest("POST", "/query", map[string]interface{}{
		"user_id": userID,
		"query":   "where does Alice live",
	}, http.StatusOK)
	if !ok {
		fmt.Println("FAILED: query")
		os.Exit(1)
	}

	// 4. Dead-letter surface should be empty on a healthy run
	fmt.Println("4. Checking dead letters...")
	resp, err := http.Get(baseURL + "/deadletters")
	if err != nil {
		fmt.Printf("FAILED: dead letters: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("Dead letters: %s\n", string(body))

	fmt.Println("Integration Test PASSED")
}

func sendRequest(method, path string, payload interface{}, wantStatus int) bool {
	data, err := json.Marshal(payload)
	if err != nil {
		fmt.Printf("marshal error: %v\n", err)
		return false
	}

	req, err := http.NewRequest(method, baseURL+path, bytes.NewReader(data))
	if err != nil {
		fmt.Printf("request error: %v\n", err)
		return false
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Printf("http error: %v\n", err)
		return false
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(resp.Body)
	fmt.Printf("  %s %s -> %d: %s\n", method, path, resp.StatusCode, truncate(string(body), 200))
	return resp.StatusCode == wantStatus
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
