package main

import (
	"os"

	"github.com/spf13/cobra"
)

var version = "dev"

var (
	noColor    bool
	flagToken  string
	flagServer string
)

var rootCmd = &cobra.Command{
	Use:   "promptarch",
	Short: "Turn rough ideas into structured CO-STAR prompts",
	Long: `promptarch rewrites a rough idea into a structured prompt for a large
language model, using a self-hosted Ollama server or Google Gemini.

Run "promptarch serve" to start the API, then use the other commands
against it.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", os.Getenv("NO_COLOR") != "", "disable colored output")
	rootCmd.PersistentFlags().StringVar(&flagToken, "token", "", "bearer token (default $PROMPTARCH_TOKEN)")
	rootCmd.PersistentFlags().StringVar(&flagServer, "server", "", "server base URL (default client.base_url)")

	rootCmd.AddCommand(serveCmd, stopCmd, statusCmd)
	rootCmd.AddCommand(engineerCmd, titleCmd, modelsCmd)
	rootCmd.AddCommand(historyCmd, favoritesCmd, settingsCmd, configCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		printError("%v", err)
		os.Exit(1)
	}
}
