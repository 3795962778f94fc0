package cmd

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var snapshotCmd = &cobra.Command{
	Use:   "stock:snapshot [sku ...]",
	Short: "Print the derived stock breakdown for one or more SKUs",
	Args:  cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		s, err := newStack()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			return
		}
		snaps, err := s.aggregator.GetBulkSnapshot(context.Background(), args)
		if err != nil {
			fmt.Printf("Snapshot failed: %v\n", err)
			return
		}

		skus := make([]string, 0, len(snaps))
		for sku := range snaps {
			skus = append(skus, sku)
		}
		sort.Strings(skus)

		fmt.Printf("%-24s %9s %9s %7s %10s %7s %6s %6s\n",
			"SKU", "AVAILABLE", "RESERVED", "BROKEN", "IMPERFECT", "LOANED", "STOCK", "TOTAL")
		for _, sku := range skus {
			sn := snaps[sku]
			fmt.Printf("%-24s %9d %9d %7d %10d %7d %6d %6d\n",
				sn.SKU, sn.Available, sn.Reserved, sn.Broken, sn.Imperfect, sn.Loaned, sn.Stock, sn.Total)
		}
	},
}

func init() {
	rootCmd.AddCommand(snapshotCmd)
}
