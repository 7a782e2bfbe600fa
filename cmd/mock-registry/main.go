// Command mock-registry is a development stand-in for the national ID and
// tax ID registries. Initiating a verification "sends" a one-time code by
// logging it; confirming requires that code back, or the fixed code from the
// REGISTRY_CODE environment variable. The registered holder name comes from
// REGISTERED_NAME so name-mismatch paths can be exercised locally.
package main

import (
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"sync"

	"github.com/google/uuid"
)

type initiateRequest struct {
	DocType string `json:"doc_type"`
	Number  string `json:"number"`
}

type initiateResponse struct {
	RequestID     string `json:"request_id"`
	MaskedChannel string `json:"masked_channel"`
}

type confirmRequest struct {
	Number       string `json:"number"`
	SecondNumber string `json:"second_number"`
	Code         string `json:"code"`
}

type confirmResponse struct {
	Status         string `json:"status"`
	RegisteredName string `json:"registered_name"`
}

type pendingEntry struct {
	doc  initiateRequest
	code string
}

type registry struct {
	mu      sync.Mutex
	pending map[string]pendingEntry
	name    string
	code    string
	logger  *slog.Logger
}

func main() {
	addr := flag.String("addr", ":9082", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	name := os.Getenv("REGISTERED_NAME")
	if name == "" {
		name = "Asha Verma"
	}
	code := os.Getenv("REGISTRY_CODE")
	if code == "" {
		code = "123456"
	}
	reg := &registry{
		pending: make(map[string]pendingEntry),
		name:    name,
		code:    code,
		logger:  logger,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/verifications", reg.initiate)
	mux.HandleFunc("POST /v1/verifications/{id}/confirm", reg.confirm)

	logger.Info("mock registry listening", "addr", *addr, "registered_name", name)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func (g *registry) initiate(w http.ResponseWriter, r *http.Request) {
	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	id := uuid.NewString()
	g.mu.Lock()
	g.pending[id] = pendingEntry{doc: req, code: g.code}
	g.mu.Unlock()

	// A real registry delivers this out of band; the log is our channel.
	g.logger.Info("one-time code issued", "request_id", id, "code", g.code)
	writeJSON(w, http.StatusCreated, initiateResponse{
		RequestID:     id,
		MaskedChannel: "XXXXXX7890",
	})
}

func (g *registry) confirm(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	var req confirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}

	g.mu.Lock()
	entry, ok := g.pending[id]
	delete(g.pending, id)
	g.mu.Unlock()
	if !ok {
		http.Error(w, "unknown request", http.StatusNotFound)
		return
	}
	if req.Code != entry.code || req.Number != entry.doc.Number {
		writeJSON(w, http.StatusOK, confirmResponse{Status: "rejected"})
		return
	}
	writeJSON(w, http.StatusOK, confirmResponse{Status: "verified", RegisteredName: g.name})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
