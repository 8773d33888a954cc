package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/adambossy/tally/internal/cli"
	"github.com/adambossy/tally/internal/model"
)

func ordersCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orders",
		Short: "Manage imported marketplace orders",
		Long: `Import and inspect itemized orders from marketplace export files.
Orders are reference data for 'tally match', which reconciles them
against ledger transactions.`,
	}

	cmd.AddCommand(importOrdersCmd())
	cmd.AddCommand(listOrdersCmd())

	return cmd
}

func importOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import <file>...",
		Short: "Import orders from JSON export files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			var orders []model.OrderRecord
			for _, path := range args {
				parsed, err := loadOrderFile(path)
				if err != nil {
					return fmt.Errorf("%s: %w", path, err)
				}
				orders = append(orders, parsed...)
			}
			if len(orders) == 0 {
				fmt.Println(cli.FormatInfo("no orders found in input files"))
				return nil
			}

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if err := store.SaveOrders(ctx, orders); err != nil {
				return fmt.Errorf("failed to save orders: %w", err)
			}

			fmt.Println(cli.FormatSuccess(fmt.Sprintf("imported %d orders", len(orders))))
			return nil
		},
	}
}

func listOrdersCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List imported orders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()

			store, err := initStorage(ctx)
			if err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			orders, err := store.GetOrders(ctx)
			if err != nil {
				return fmt.Errorf("failed to load orders: %w", err)
			}
			if len(orders) == 0 {
				fmt.Println(cli.FormatInfo("no orders imported yet"))
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer func() { _ = w.Flush() }()

			fmt.Fprintf(w, "ORDER\tDATE\tTOTAL\tITEMS\n")
			for i := range orders {
				o := &orders[i]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\n",
					o.OrderID,
					o.OrderDate.Format("2006-01-02"),
					model.FormatCents(o.TotalCents),
					len(o.Items))
			}

			return nil
		},
	}
}

// orderDoc is the marketplace export file shape.
type orderDoc struct {
	Orders []orderEntry `json:"orders"`
}

type orderEntry struct {
	OrderID  string      `json:"order_id"`
	Date     string      `json:"date"`
	Source   string      `json:"source"`
	Total    string      `json:"total"`
	Tax      string      `json:"tax"`
	Shipping string      `json:"shipping"`
	Items    []itemEntry `json:"items"`
}

type itemEntry struct {
	SKU         string `json:"sku"`
	Description string `json:"description"`
	UnitPrice   string `json:"unit_price"`
	Quantity    int    `json:"quantity"`
}

func loadOrderFile(path string) ([]model.OrderRecord, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, err
	}
	return parseOrders(data)
}

func parseOrders(data []byte) ([]model.OrderRecord, error) {
	var doc orderDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("invalid order file: %w", err)
	}

	orders := make([]model.OrderRecord, 0, len(doc.Orders))
	for i := range doc.Orders {
		entry := &doc.Orders[i]
		if entry.OrderID == "" {
			return nil, fmt.Errorf("order %d has no order_id", i)
		}

		date, err := time.Parse("2006-01-02", entry.Date)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid date %q", entry.OrderID, entry.Date)
		}
		total, err := parseDollarCents(entry.Total)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid total %q", entry.OrderID, entry.Total)
		}
		tax, err := parseOptionalDollarCents(entry.Tax)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid tax %q", entry.OrderID, entry.Tax)
		}
		shipping, err := parseOptionalDollarCents(entry.Shipping)
		if err != nil {
			return nil, fmt.Errorf("order %s: invalid shipping %q", entry.OrderID, entry.Shipping)
		}

		source := entry.Source
		if source == "" {
			source = "marketplace"
		}

		order := model.OrderRecord{
			OrderID:       entry.OrderID,
			OrderDate:     date,
			Source:        source,
			TotalCents:    total,
			TaxCents:      tax,
			ShippingCents: shipping,
		}
		for _, item := range entry.Items {
			price, err := parseOptionalDollarCents(item.UnitPrice)
			if err != nil {
				return nil, fmt.Errorf("order %s: invalid unit_price %q", entry.OrderID, item.UnitPrice)
			}
			quantity := item.Quantity
			if quantity == 0 {
				quantity = 1
			}
			order.Items = append(order.Items, model.OrderLineItem{
				OrderID:        entry.OrderID,
				SKU:            item.SKU,
				Description:    item.Description,
				UnitPriceCents: price,
				Quantity:       quantity,
			})
		}

		orders = append(orders, order)
	}

	return orders, nil
}

// parseDollarCents parses a decimal dollar string ("49.99") into cents.
func parseDollarCents(s string) (int64, error) {
	s = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "$"))
	if s == "" {
		return 0, fmt.Errorf("empty amount")
	}

	negative := strings.HasPrefix(s, "-")
	s = strings.TrimPrefix(s, "-")

	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	dollars, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, err
	}

	var cents int64
	switch len(frac) {
	case 0:
	case 1:
		cents, err = strconv.ParseInt(frac, 10, 64)
		cents *= 10
	case 2:
		cents, err = strconv.ParseInt(frac, 10, 64)
	default:
		return 0, fmt.Errorf("too many decimal places in %q", s)
	}
	if err != nil {
		return 0, err
	}

	total := dollars*100 + cents
	if negative {
		total = -total
	}
	return total, nil
}

func parseOptionalDollarCents(s string) (int64, error) {
	if strings.TrimSpace(s) == "" {
		return 0, nil
	}
	return parseDollarCents(s)
}
