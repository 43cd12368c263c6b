package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/TheFermiSea/CrystalMath-sub000/internal/cli"
)

var rootCmd = &cobra.Command{Use: "crystalmath"}

func main() {
	if err := godotenv.Load(); err != nil {
		// No .env is fine; flags and the environment still apply.
		_ = err
	}
	rootCmd.PersistentFlags().String("db", os.Getenv("DATABASE_URL"), "Database connection string")
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
