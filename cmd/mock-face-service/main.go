// Command mock-face-service is a development stand-in for the external
// face-matching service. Enrollment packs the samples into an opaque
// template; matching scores 1.0 when the sample appears in the template
// and 0.0 otherwise.
package main

import (
	"encoding/base64"
	"encoding/json"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"strings"
)

type enrollRequest struct {
	Samples []string `json:"samples"`
}

type enrollResponse struct {
	Template string  `json:"template"`
	Quality  float64 `json:"quality"`
}

type matchRequest struct {
	Template string `json:"template"`
	Sample   string `json:"sample"`
}

type matchResponse struct {
	Score float64 `json:"score"`
}

func main() {
	addr := flag.String("addr", ":9081", "listen address")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/templates", func(w http.ResponseWriter, r *http.Request) {
		var req enrollRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		template := base64.StdEncoding.EncodeToString([]byte(strings.Join(req.Samples, "\n")))
		writeJSON(w, http.StatusCreated, enrollResponse{Template: template, Quality: 0.95})
	})
	mux.HandleFunc("POST /v1/match", func(w http.ResponseWriter, r *http.Request) {
		var req matchRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad request", http.StatusBadRequest)
			return
		}
		raw, err := base64.StdEncoding.DecodeString(req.Template)
		if err != nil {
			http.Error(w, "bad template", http.StatusBadRequest)
			return
		}
		score := 0.0
		for _, s := range strings.Split(string(raw), "\n") {
			if s == req.Sample {
				score = 1.0
				break
			}
		}
		writeJSON(w, http.StatusOK, matchResponse{Score: score})
	})

	logger.Info("mock face service listening", "addr", *addr)
	if err := http.ListenAndServe(*addr, mux); err != nil {
		logger.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
