package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var triggerCmd = &cobra.Command{
	Use:   "trigger [pipeline]",
	Short: "Schedule a batch run through the webhook",
	Long:  `Calls the webhook the way the CRM does. The batch runs in the background; follow it with "invoicectl run <run-id>".`,
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		webhookToken := viper.GetString("webhook-token")
		if webhookToken == "" {
			cmd.Println("Webhook token not found. Please set it using the --webhook-token flag or the INVOICECTL_WEBHOOK_TOKEN environment variable")
			return
		}

		client := NewInvoiceClient(viper.GetString("url"), "")
		resp, err := client.Trigger(args[0], webhookToken)
		if err != nil {
			cmd.Printf("Trigger failed: %v\n", err)
			return
		}

		cmd.Printf("%s✓%s Batch run scheduled for %s\n", colorGreen, colorReset, resp.Pipeline)
		cmd.Printf("%sRun ID:%s %s\n", colorDim, colorReset, resp.RunID)
	},
}

func init() {
	rootCmd.AddCommand(triggerCmd)
}
