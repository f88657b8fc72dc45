// Package main provides a stand-in generative endpoint for local
// development and load testing. It speaks just enough of the
// generateContent wire format for the listing assistant to run against it
// without an API key, and can inject failures to exercise the retry policy
// and circuit breaker.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync/atomic"
	"time"
)

var requests atomic.Int64

func main() {
	port := flag.Int("port", 9999, "port to listen on")
	failEvery := flag.Int("fail-every", 0, "return 503 on every Nth request (0 disables)")
	delay := flag.Duration("delay", 0, "artificial response latency")
	flag.Parse()

	if p := os.Getenv("PORT"); p != "" {
		fmt.Sscanf(p, "%d", port)
	}

	http.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if !strings.HasSuffix(r.URL.Path, ":generateContent") {
			http.NotFound(w, r)
			return
		}
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}

		n := requests.Add(1)

		if *delay > 0 {
			time.Sleep(*delay)
		}

		// X-Fake-Status forces an arbitrary error response, useful for
		// poking at specific failure classifications by hand.
		if s := r.Header.Get("X-Fake-Status"); s != "" {
			if code, err := strconv.Atoi(s); err == nil && code >= 400 && code <= 599 {
				writeError(w, code)
				return
			}
		}

		if *failEvery > 0 && n%int64(*failEvery) == 0 {
			log.Printf("injecting 503 on request %d", n)
			writeError(w, http.StatusServiceUnavailable)
			return
		}

		listing := map[string]interface{}{
			"title":       fmt.Sprintf("Handcrafted Ceramic Mug #%d", n),
			"description": "A one-of-a-kind ceramic mug, wheel-thrown and glazed in a warm speckled finish. Holds 350ml and is dishwasher safe. Perfect for slow mornings or as a thoughtful gift.",
			"tags":        []string{"ceramic", "mug", "handmade", "pottery", "gift"},
		}
		text, _ := json.Marshal(listing)

		resp := map[string]interface{}{
			"candidates": []map[string]interface{}{
				{
					"content": map[string]interface{}{
						"parts": []map[string]string{
							// Real responses often arrive fenced; keep the
							// fence so clients exercise their stripping.
							{"text": "```json\n" + string(text) + "\n```"},
						},
					},
				},
			},
		}

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(resp)
	})

	addr := fmt.Sprintf(":%d", *port)
	log.Printf("fake provider listening on %s (fail-every=%d, delay=%s)", addr, *failEvery, *delay)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func writeError(w http.ResponseWriter, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": map[string]interface{}{
			"code":    code,
			"message": http.StatusText(code),
			"status":  strings.ToUpper(strings.ReplaceAll(http.StatusText(code), " ", "_")),
		},
	})
}
