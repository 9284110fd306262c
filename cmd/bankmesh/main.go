// Command bankmesh runs the multi-agent banking assistant.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hupe1980/bankmesh/config"
)

// cli carries the flags shared by every subcommand.
type cli struct {
	configPath string
	userID     string
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "bankmesh",
		Short:         "Multi-agent banking assistant with trace logging",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "", "path to a YAML config file")
	root.PersistentFlags().StringVarP(&c.userID, "user", "u", "user_5", "customer id")

	root.AddCommand(
		newInitCommand(c),
		newChatCommand(c),
		newHistoryCommand(c),
		newPurgeCommand(c),
		newIngestDocsCommand(c),
	)

	return root
}

// open loads the configuration and wires the application.
func (c *cli) open(ctx context.Context) (*app, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	return newApp(ctx, cfg)
}
