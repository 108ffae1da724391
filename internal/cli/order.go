package cli

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/akontos/driftwatch/internal/clients/ibkr"
)

var orderCmd = &cobra.Command{
	Use:   "order",
	Short: "Submit a rebalancing order through the gateway",
	Long: `Place a single order against the monitored account. The gateway may
answer with a confirmation question (price cap warnings etc.); pass --confirm
to answer yes automatically.

Examples:
  driftwatch order --conid 265598 --side BUY --qty 3 --type MKT
  driftwatch order --conid 265598 --side SELL --qty 3 --type LMT --price 187.50 --confirm`,
	RunE: runOrder,
}

var (
	orderConid   int64
	orderSide    string
	orderQty     float64
	orderType    string
	orderPrice   float64
	orderTIF     string
	orderConfirm bool
)

func init() {
	rootCmd.AddCommand(orderCmd)

	orderCmd.Flags().Int64Var(&orderConid, "conid", 0, "contract id (required)")
	orderCmd.Flags().StringVar(&orderSide, "side", "", "BUY or SELL (required)")
	orderCmd.Flags().Float64Var(&orderQty, "qty", 0, "quantity (required)")
	orderCmd.Flags().StringVar(&orderType, "type", "MKT", "order type: MKT or LMT")
	orderCmd.Flags().Float64Var(&orderPrice, "price", 0, "limit price (LMT only)")
	orderCmd.Flags().StringVar(&orderTIF, "tif", "DAY", "time in force: DAY or GTC")
	orderCmd.Flags().BoolVar(&orderConfirm, "confirm", false, "answer gateway confirmation questions with yes")
	orderCmd.MarkFlagRequired("conid")
	orderCmd.MarkFlagRequired("side")
	orderCmd.MarkFlagRequired("qty")
}

func runOrder(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := context.Background()

	side := strings.ToUpper(orderSide)
	if side != "BUY" && side != "SELL" {
		return fmt.Errorf("side must be BUY or SELL, got %q", orderSide)
	}
	kind := strings.ToUpper(orderType)
	if kind != "MKT" && kind != "LMT" {
		return fmt.Errorf("order type must be MKT or LMT, got %q", orderType)
	}
	if kind == "LMT" && orderPrice <= 0 {
		return fmt.Errorf("limit orders require a positive --price")
	}
	if orderQty <= 0 {
		return fmt.Errorf("quantity must be positive, got %v", orderQty)
	}

	client := ibkr.NewClient(cfg.GatewayURL, log.Logger)
	accountID, err := resolveAccount(ctx, client, cfg)
	if err != nil {
		return err
	}

	ticket := ibkr.OrderTicket{
		Conid:     orderConid,
		OrderType: kind,
		Side:      side,
		Quantity:  orderQty,
		Price:     orderPrice,
		TIF:       strings.ToUpper(orderTIF),
	}

	replies, err := client.PlaceOrder(ctx, accountID, ticket)
	if err != nil {
		return fmt.Errorf("order submission failed: %w", err)
	}

	// The gateway may chain several confirmation questions before it
	// accepts the order.
	for len(replies) > 0 && replies[0].ID != "" && replies[0].OrderID == "" {
		reply := replies[0]
		fmt.Printf("Gateway asks:\n")
		for _, msg := range reply.Message {
			fmt.Printf("  %s\n", msg)
		}
		if !orderConfirm {
			return fmt.Errorf("order needs confirmation, re-run with --confirm")
		}
		replies, err = client.ConfirmOrder(ctx, reply.ID)
		if err != nil {
			return fmt.Errorf("order confirmation failed: %w", err)
		}
	}

	for _, reply := range replies {
		fmt.Printf("Order %s: %s\n", reply.OrderID, reply.OrderStatus)
		if reply.OrderID == "" {
			continue
		}
		state, err := client.OrderStatus(ctx, reply.OrderID)
		if err != nil {
			log.Warn().Err(err).Str("order_id", reply.OrderID).Msg("Could not fetch order status")
			continue
		}
		fmt.Printf("  status: %s", state.OrderStatus)
		if state.Symbol != "" {
			fmt.Printf(" (%s %s %s)", state.Side, state.Size, state.Symbol)
		}
		fmt.Println()
	}
	return nil
}
