package cmd

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var (
	agentConfigPath string

	rootCmd = &cobra.Command{
		Use:   "muse",
		Short: "muse is a local-LLM ReAct agent with multi-tier memory",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if _, err := os.Stat(".env"); err == nil {
				_ = godotenv.Load(".env")
			}
		},
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&agentConfigPath, "agent-config", "", "path to an agent profile YAML")
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newChatsCmd())
}

func Execute() error {
	return rootCmd.Execute()
}
