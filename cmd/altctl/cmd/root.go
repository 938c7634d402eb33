package cmd

import (
	"errors"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var errNoToken = errors.New("API token not found. Set it with --token or the ALTTEXT_TOKEN environment variable")

var rootCmd = &cobra.Command{
	Use:   "altctl",
	Short: "altctl drives alt-text generation batches on an alttext server",
	Long: `altctl is the command-line interface for the alttext service.

A batch is a set of media-library image references. The server generates a
description for each image with a vision model; test-mode batches wait for review
before anything is written back, production-mode batches apply as soon as they
finish.

Common workflows:

  Create a batch and start it:
    altctl create 101 102 103 --mode test
    altctl process <batch-id>

  Watch it run:
    altctl progress <batch-id> --watch

  Review, edit and apply:
    altctl show <batch-id>
    altctl apply <batch-id> --edit 17="A red bicycle against a brick wall"

Configuration:
  ALTTEXT_URL     API endpoint (default: http://localhost:8080)
  ALTTEXT_TOKEN   API key for authentication
  Both may also live in $HOME/.altctl.yaml as url: and token:.`,
	SilenceUsage: true,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if home, err := os.UserHomeDir(); err == nil {
		viper.AddConfigPath(home)
		viper.SetConfigName(".altctl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("ALTTEXT")
	viper.AutomaticEnv()

	_ = viper.ReadInConfig()
}

// newClient builds an API client from the resolved url and token.
func newClient() (*Client, error) {
	token := viper.GetString("token")
	if token == "" {
		return nil, errNoToken
	}
	return NewClient(viper.GetString("url"), token), nil
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.altctl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "alttext server URL")
	_ = viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API key for authentication")
	_ = viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))
}
