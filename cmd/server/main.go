package main

import (
	"encoding/json"
	"log"
	"net/http"
	"os"

	"github.com/equip-health/equip/internal/api"
	"github.com/equip-health/equip/internal/middleware"
	"github.com/equip-health/equip/internal/utils"
)

func main() {
	addr := utils.SafeEnv("EQUIP_ADDR", ":8080")
	commit := os.Getenv("EQUIP_COMMIT")
	buildTime := os.Getenv("EQUIP_BUILD_TIME")

	store, directory, err := openStore()
	if err != nil {
		log.Fatalf("store init: %v", err)
	}
	if err := seedDefaults(store); err != nil {
		log.Fatalf("seed defaults: %v", err)
	}

	mux := http.NewServeMux()
	api.NewRouter(store, directory).Register(mux)

	mux.HandleFunc("/version", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"commit":     commit,
			"build_time": buildTime,
		})
	})

	// Serve the offline-capable frontend bundle when present.
	if staticDir := os.Getenv("EQUIP_STATIC_DIR"); staticDir != "" {
		mux.Handle("/", http.FileServer(http.Dir(staticDir)))
	}

	handler := middleware.CORS(middleware.SecureHeaders(middleware.NoStore(middleware.WithAuth(mux))))

	log.Printf("equip server listening on %s", addr)
	if err := http.ListenAndServe(addr, handler); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
