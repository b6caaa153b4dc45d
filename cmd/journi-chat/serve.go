package main

import (
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/journi-app/journi-go/pkg/gateway"
)

func newServeCommand() *cobra.Command {
	var (
		addr       string
		scriptPath string
		useOpenAI  bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the development realtime gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			listen := addr
			if listen == "" {
				listen = env.Addr
			}

			var engine gateway.Engine
			switch {
			case useOpenAI:
				if env.OpenAIKey == "" {
					return errors.New("--openai requires JOURNI_OPENAI_API_KEY")
				}
				engine = gateway.NewOpenAIEngine(env.OpenAIKey, env.OpenAIModel)
				log.Info().Str("model", env.OpenAIModel).Msg("using openai engine")
			case scriptPath != "":
				eng, err := gateway.LoadScript(scriptPath)
				if err != nil {
					return err
				}
				engine = eng
				log.Info().Str("script", scriptPath).Msg("using scripted engine")
			default:
				engine = gateway.NewScriptedEngine()
			}

			srv := gateway.NewServer(gateway.Config{Addr: listen, Engine: engine})
			return srv.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default JOURNI_ADDR)")
	cmd.Flags().StringVar(&scriptPath, "script", "", "YAML scenario file for the scripted engine")
	cmd.Flags().BoolVar(&useOpenAI, "openai", false, "reply with OpenAI instead of the scripted engine")
	return cmd
}
