package cmd

import (
	"github.com/carousell/ct-go/pkg/logger/log"
	"github.com/spf13/cobra"
	"github.com/teamhubhq/chat-core/internal/app"
	"github.com/teamhubhq/chat-core/internal/feed"
	"github.com/teamhubhq/chat-core/internal/presence"
	"github.com/teamhubhq/chat-core/internal/server"
	"github.com/teamhubhq/chat-core/internal/typing"
)

var rootCmd = &cobra.Command{
	Use:           "chat-core",
	SilenceUsage:  true,
	SilenceErrors: true,
	Run: func(cmd *cobra.Command, args []string) {
		app.Invoke(
			server.StartServer,
			feed.StartConsumer,
			presence.StartTracker,
			typing.StartCoordinator,
		).Run()
	},
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
