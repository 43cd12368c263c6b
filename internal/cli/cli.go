package cli

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	internal_http "github.com/TheFermiSea/CrystalMath-sub000/internal/http"
	"github.com/TheFermiSea/CrystalMath-sub000/internal/log"
	internal_storage "github.com/TheFermiSea/CrystalMath-sub000/internal/storage"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/models"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/orchestrator"
	"github.com/TheFermiSea/CrystalMath-sub000/pkg/queue"
)

// SetupCLI wires the engine subcommands onto the root command.
func SetupCLI(rootCmd *cobra.Command) {
	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Register a workflow definition from a YAML file",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			file, err := cmd.Flags().GetString("file")
			if err != nil || file == "" {
				fmt.Fprintln(os.Stderr, "Error: --file is required")
				os.Exit(1)
			}
			data, err := os.ReadFile(file)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: cannot read %s: %v\n", file, err)
				os.Exit(1)
			}
			def, err := models.ParseDefinition(data)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: invalid definition: %v\n", err)
				os.Exit(1)
			}
			qm := queue.NewManager(store, log.GetLogger())
			orch := orchestrator.New(store, qm, log.GetLogger())
			if err := orch.Register(def); err != nil {
				log.GetLogger().Errorf("Failed to register workflow: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to register workflow: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "Registered workflow %q with %d nodes\n", def.WorkflowID, len(def.Nodes))
		},
	}
	registerCmd.Flags().StringP("file", "f", "", "Workflow definition YAML file")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List all workflows",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			workflows, err := store.ListWorkflows()
			if err != nil {
				log.GetLogger().Errorf("Failed to list workflows: %v", err)
				fmt.Fprintf(os.Stderr, "Error: failed to list workflows: %v\n", err)
				os.Exit(1)
			}
			if len(workflows) == 0 {
				fmt.Fprintln(os.Stdout, "No workflows found.")
				return
			}
			fmt.Fprintln(os.Stdout, "Workflows:")
			for _, wf := range workflows {
				fmt.Fprintf(os.Stdout, "- ID: %s, Name: %s, Status: %s, Created: %s\n",
					wf.ID, wf.Name, wf.Status, wf.CreatedAt.Format(time.RFC3339))
			}
		},
	}

	statusCmd := &cobra.Command{
		Use:   "status [workflow-id]",
		Short: "Show the stored status of a workflow",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			wf, err := store.GetWorkflow(args[0])
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %v\n", err)
				os.Exit(1)
			}
			fmt.Fprintf(os.Stdout, "ID: %s\nName: %s\nStatus: %s\nUpdated: %s\n",
				wf.ID, wf.Name, wf.Status, wf.UpdatedAt.Format(time.RFC3339))
			jobs, err := store.ListJobs(wf.ID)
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: failed to list jobs: %v\n", err)
				os.Exit(1)
			}
			for _, j := range jobs {
				fmt.Fprintf(os.Stdout, "  - node %s: job %s %s\n", j.NodeID, j.ID, j.Status)
			}
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the orchestration engine and HTTP surface",
		Run: func(cmd *cobra.Command, args []string) {
			store := storeFromFlags(cmd)
			defer store.Close()
			port, _ := cmd.Flags().GetString("port")
			interval, _ := cmd.Flags().GetDuration("poll-interval")

			logger := log.GetLogger()
			qm := queue.NewManager(store, logger)
			orch := orchestrator.New(store, qm, logger)
			defer orch.Close()

			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()
			if err := orch.Recover(ctx); err != nil {
				logger.Errorf("Recovery failed: %v", err)
				os.Exit(1)
			}
			sched := orchestrator.NewScheduler(orch, interval, logger)
			go sched.Run(ctx)

			if err := internal_http.StartServer(port, store, orch); err != nil {
				logger.Errorf("HTTP server failed: %v", err)
				os.Exit(1)
			}
		},
	}
	serveCmd.Flags().String("port", "8080", "HTTP listen port")
	serveCmd.Flags().Duration("poll-interval", orchestrator.DefaultPollInterval, "Reconciliation interval")

	rootCmd.AddCommand(registerCmd, listCmd, statusCmd, serveCmd)
}

func storeFromFlags(cmd *cobra.Command) *internal_storage.PostgresStore {
	dbConnStr, err := cmd.Flags().GetString("db")
	if err != nil {
		log.GetLogger().Errorf("Error retrieving db flag: %v", err)
		os.Exit(1)
	}
	store, err := internal_storage.InitStore(dbConnStr)
	if err != nil {
		log.GetLogger().Errorf("Failed to initialize store: %v", err)
		os.Exit(1)
	}
	return store
}
