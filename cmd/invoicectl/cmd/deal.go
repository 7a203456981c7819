package cmd

import (
	"encoding/json"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var dealCmd = &cobra.Command{
	Use:   "deal [deal_number]",
	Short: "Show the stored invoice of a deal",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		token := viper.GetString("token")
		if token == "" {
			cmd.Println("API token not found. Please set it using the --token flag or the INVOICECTL_TOKEN environment variable")
			return
		}
		kind, _ := cmd.Flags().GetString("kind")

		client := NewInvoiceClient(viper.GetString("url"), token)
		rec, err := client.GetDocument(kind, args[0])
		if err != nil {
			cmd.Printf("Failed to fetch deal %s: %v\n", args[0], err)
			return
		}

		cmd.Printf("%sDeal:%s      %s\n", colorDim, colorReset, rec.BusinessKey)
		cmd.Printf("%sInvoice:%s   %s (%s)\n", colorDim, colorReset, rec.Payload.Invoice.Number, rec.Payload.Kind)
		cmd.Printf("%sCustomer:%s  %s\n", colorDim, colorReset, rec.Payload.IssuedTo.Name)
		cmd.Printf("%sUpdated:%s   %s\n", colorDim, colorReset, rec.UpdatedAt.Format("Mon, 02 Jan 2006 15:04:05 MST"))

		raw, _ := json.MarshalIndent(rec.Payload, "", "  ")
		cmd.Println(string(raw))
	},
}

func init() {
	dealCmd.Flags().String("kind", "proforma", "Document kind (proforma or tax)")
	rootCmd.AddCommand(dealCmd)
}
