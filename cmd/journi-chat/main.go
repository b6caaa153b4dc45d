package main

import (
	"os"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

// Env is the JOURNI_-prefixed environment configuration, loaded after .env.
type Env struct {
	ServerURL   string `envconfig:"SERVER_URL" default:"http://localhost:8000"`
	Addr        string `envconfig:"ADDR" default:":8000"`
	OpenAIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIModel string `envconfig:"OPENAI_MODEL"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
}

var env Env

var rootCmd = &cobra.Command{
	Use:   "journi-chat",
	Short: "Journi trip-expense chat client and dev gateway",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		_ = godotenv.Load()
		if err := envconfig.Process("journi", &env); err != nil {
			return err
		}
		level, err := zerolog.ParseLevel(env.LogLevel)
		if err != nil {
			level = zerolog.InfoLevel
		}
		log.Logger = zerolog.New(zerolog.NewConsoleWriter()).
			With().
			Timestamp().
			Logger().
			Level(level)
		return nil
	},
}

func main() {
	rootCmd.AddCommand(newChatCommand())
	rootCmd.AddCommand(newServeCommand())
	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}
