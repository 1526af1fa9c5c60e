package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"sync"
	"time"
)

type notification struct {
	Timestamp   string            `json:"timestamp"`
	Headers     map[string]string `json:"headers"`
	Body        string            `json:"body"`
	SignatureOK bool              `json:"signature_ok"`
}

type stats struct {
	Count             int64          `json:"count"`
	BadSignatures     int64          `json:"bad_signatures"`
	LastNotifications []notification `json:"last_notifications"`
	Since             string         `json:"since"`
}

var (
	mu                sync.Mutex
	count             int64
	badSignatures     int64
	lastNotifications []notification
	since             time.Time
	maxStored         = 50

	secret string
)

func main() {
	since = time.Now().UTC()
	secret = os.Getenv("NOTIFY_WEBHOOK_SECRET")
	if secret == "" {
		log.Println("NOTIFY_WEBHOOK_SECRET not set; signature verification disabled")
	}

	addr := ":8080"
	if v := os.Getenv("ADDR"); v != "" {
		addr = v
	}

	http.HandleFunc("/hook", hookHandler)
	http.HandleFunc("/stats", statsHandler)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	http.HandleFunc("/reset", func(w http.ResponseWriter, _ *http.Request) {
		mu.Lock()
		count = 0
		badSignatures = 0
		lastNotifications = nil
		since = time.Now().UTC()
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "reset")
	})

	log.Printf("notification-receiver listening on %s", addr)
	log.Fatal(http.ListenAndServe(addr, nil))
}

func hookHandler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	defer r.Body.Close()

	headers := make(map[string]string)
	for k, v := range r.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}

	sigOK := verifySignature(body, r.Header.Get("X-Autoloop-Signature"))

	n := notification{
		Timestamp:   time.Now().UTC().Format(time.RFC3339Nano),
		Headers:     headers,
		Body:        string(body),
		SignatureOK: sigOK,
	}

	mu.Lock()
	count++
	if !sigOK {
		badSignatures++
	}
	lastNotifications = append(lastNotifications, n)
	if len(lastNotifications) > maxStored {
		lastNotifications = lastNotifications[len(lastNotifications)-maxStored:]
	}
	current := count
	mu.Unlock()

	if !sigOK {
		log.Printf("notification #%d REJECTED (bad signature): %s", current, string(body))
		w.WriteHeader(http.StatusUnauthorized)
		fmt.Fprintln(w, `{"error":"bad signature"}`)
		return
	}

	log.Printf("notification received #%d: %s", current, string(body))
	w.WriteHeader(http.StatusOK)
	fmt.Fprintf(w, `{"received":%d}`, current)
}

func verifySignature(body []byte, header string) bool {
	if secret == "" {
		return true
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(header))
}

func statsHandler(w http.ResponseWriter, _ *http.Request) {
	mu.Lock()
	s := stats{
		Count:             count,
		BadSignatures:     badSignatures,
		LastNotifications: lastNotifications,
		Since:             since.Format(time.RFC3339),
	}
	mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s)
}
