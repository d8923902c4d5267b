package handler

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"detectserver/internal/config"
	"detectserver/internal/service/record"

	"github.com/gorilla/mux"
)

// RecordHandler serves the CSV record with the stem given in the {stem} route variable.
func RecordHandler(cfg *config.Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		stem := mux.Vars(r)["stem"]
		if !validStem(stem) {
			http.Error(w, "Invalid record name", http.StatusBadRequest)
			return
		}

		filePath := filepath.Join(cfg.OutputDirectory, stem+record.Extension)
		if _, err := os.Stat(filePath); os.IsNotExist(err) {
			http.NotFound(w, r)
			return
		}

		w.Header().Set("Content-Type", "text/csv; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		http.ServeFile(w, r, filePath)
	}
}

func validStem(stem string) bool {
	return stem != "" && stem != "." && stem != ".." &&
		!strings.ContainsAny(stem, `/\`) && !strings.ContainsRune(stem, 0)
}
