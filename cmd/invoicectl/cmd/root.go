package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "invoicectl",
	Short: "invoicectl inspects and triggers the invoice pipelines",
	Long: `invoicectl talks to the invoicer functions.

Common workflows:

  Show the stored proforma of a deal:
    invoicectl deal 12345

  Show the tax invoice of a deal:
    invoicectl deal 12345 --kind tax

  Start a batch the way the CRM webhook does:
    invoicectl trigger proforma

  Follow a batch run:
    invoicectl run <run-id>
    invoicectl runs --pipeline tax

Configuration:
  Flags, environment variables or $HOME/.invoicectl.yaml:
    INVOICECTL_URL            Base URL of the invoicer (default: http://localhost:8080)
    INVOICECTL_TOKEN          API token (API_SECRET_TOKEN of the invoicer)
    INVOICECTL_WEBHOOK_TOKEN  Webhook secret used by "trigger"`,
}

func Execute() error {
	return rootCmd.Execute()
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Println(err)
			os.Exit(1)
		}

		viper.AddConfigPath(home)
		viper.SetConfigName(".invoicectl")
		viper.SetConfigType("yaml")
	}

	viper.SetEnvPrefix("INVOICECTL")
	viper.SetEnvKeyReplacer(envKeyReplacer)
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.invoicectl.yaml)")

	rootCmd.PersistentFlags().String("url", "http://localhost:8080", "Invoicer base URL")
	viper.BindPFlag("url", rootCmd.PersistentFlags().Lookup("url"))

	rootCmd.PersistentFlags().StringP("token", "t", "", "API token for authentication")
	viper.BindPFlag("token", rootCmd.PersistentFlags().Lookup("token"))

	rootCmd.PersistentFlags().String("webhook-token", "", "Webhook secret used by trigger")
	viper.BindPFlag("webhook-token", rootCmd.PersistentFlags().Lookup("webhook-token"))
}
