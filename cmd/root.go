package cmd

import (
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/jmehdipour/whatsapp-gateway/cmd/worker"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	cfgPath string
	envPath string
	rootCmd = &cobra.Command{
		Use:   "whatsapp-gateway",
		Short: "WhatsApp Cloud API webhook gateway",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			// .env only fills variables that are not already set
			if err := godotenv.Load(envPath); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return fmt.Errorf("load %s: %w", envPath, err)
			}
			return nil
		},
	}
)

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "config.yaml", "path to YAML config file")
	rootCmd.PersistentFlags().StringVar(&envPath, "env-file", ".env", "path to dotenv file")
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(seedCmd)
	rootCmd.AddCommand(worker.NewWorkerCmd())
}
