package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/TheFermiSea/CrystalMath-sub000/internal/log"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/orchestrator"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/storage"
)

// StartServer exposes the read surface of the engine: health, the workflow
// list, and per-workflow state snapshots.
func StartServer(port string, store storage.JobStore, orch *orchestrator.Orchestrator) error {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", HealthHandler)
	mux.HandleFunc("/workflows", ListWorkflowsHandler(store))
	mux.HandleFunc("/workflows/", WorkflowStatusHandler(orch))

	log.GetLogger().Infof("Starting CrystalMath server on :%s", port)
	return http.ListenAndServe(":"+port, mux)
}

func HealthHandler(w http.ResponseWriter, r *http.Request) {
	fmt.Fprintf(w, "CrystalMath server is running")
}

func ListWorkflowsHandler(store storage.JobStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		workflows, err := store.ListWorkflows()
		if err != nil {
			log.GetLogger().Errorf("Failed to list workflows: %v", err)
			http.Error(w, fmt.Sprintf("Failed to list workflows: %v", err), http.StatusInternalServerError)
			return
		}
		if len(workflows) == 0 {
			fmt.Fprintf(w, "No workflows found.\n")
			return
		}
		for _, wf := range workflows {
			fmt.Fprintf(w, "- ID: %s, Name: %s, Status: %s, Created: %s\n",
				wf.ID, wf.Name, wf.Status, wf.CreatedAt.Format(time.RFC3339))
		}
	}
}

func WorkflowStatusHandler(orch *orchestrator.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		id := strings.TrimPrefix(r.URL.Path, "/workflows/")
		id = strings.TrimSuffix(id, "/status")
		if id == "" {
			http.Error(w, "Missing workflow id", http.StatusBadRequest)
			return
		}
		snap, err := orch.GetStatus(id)
		if err != nil {
			var notFound *models.WorkflowNotFoundError
			if errors.As(err, &notFound) {
				http.Error(w, err.Error(), http.StatusNotFound)
				return
			}
			log.GetLogger().Errorf("Failed to get workflow status: %v", err)
			http.Error(w, fmt.Sprintf("Failed to get workflow status: %v", err), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(snap); err != nil {
			log.GetLogger().Errorf("Failed to encode snapshot: %v", err)
		}
	}
}
