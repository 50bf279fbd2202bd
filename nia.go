package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/callummance/nia-roles/bot"
	"github.com/callummance/nia-roles/config"
	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

var configFile string

var rootCmd = &cobra.Command{
	Use:   "nia",
	Short: "Reaction role bot for discord",
	Long: `nia keeps discord roles in sync with reactions on chosen messages.

Running without a subcommand starts the bot. Settings come from an optional config file and
NIA_ environment variables, which may also be placed in a .env file.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Connect to discord and start managing reaction roles",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBot(cmd.Context())
	},
}

func main() {
	err := godotenv.Load()
	if err != nil {
		logrus.Debugf("Failed to load .env file due to error %v", err)
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to a config file (yaml, toml or json)")
	rootCmd.AddCommand(runCmd, bindingsCmd())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

//loadConfig reads configuration and applies the log settings
func loadConfig() (*config.Config, error) {
	v, err := config.New(configFile)
	if err != nil {
		return nil, err
	}
	cfg, err := config.Load(v)
	if err != nil {
		return nil, err
	}
	cfg.ConfigureLogging()
	return cfg, nil
}

func runBot(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Discord.Token == "" {
		return fmt.Errorf("`NIA_DISCORD_BOT_TOKEN` must be set to run the bot")
	}
	nia, err := bot.Init(ctx, cfg)
	if err != nil {
		logrus.Errorf("Failed to start discord bot")
		return err
	}
	defer nia.Close()

	addURL, err := nia.BotAddURL()
	if err != nil {
		logrus.Errorf("Failed to generate bot add URL due to error %v", err)
	} else {
		logrus.Infof("Go to `%v` to add bot to your server", addURL)
	}
	logrus.Infof("Bot is now running. Press ^+C to exit.")
	if err := nia.Run(ctx); err != nil {
		return err
	}
	fmt.Println("Goodbye!")
	return nil
}
