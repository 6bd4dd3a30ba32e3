package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rishicmhs2026/revsnap-saas-sub000/internal/observation"
)

type APIResponse[T any] struct {
	Message string `json:"message"`
	Data    T      `json:"data"`
}

func writeJSON[T any](w http.ResponseWriter, status int, data T) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[T]{
		Message: "ok",
		Data:    data,
	})
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(APIResponse[string]{
		Message: message,
		Data:    "",
	})
}

func writeCSV(w http.ResponseWriter, observations []observation.Observation) {
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", "attachment; filename=observations.csv")
	w.WriteHeader(http.StatusOK)

	_, _ = fmt.Fprintln(w, "ProductID,SourceID,Price,Currency,Available,Confidence,CapturedAt")
	for _, o := range observations {
		_, _ = fmt.Fprintf(w, "%s,%s,%.2f,%s,%t,%.2f,%s\n", //nolint:gosec // CSV output from internal domain types, not user input
			o.ProductID,
			o.SourceID,
			o.Price,
			o.Currency,
			o.Available,
			o.Confidence,
			o.CapturedAt.Format(time.RFC3339),
		)
	}
}
