package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	instanceEntity "stocktag.GO/model/entity/instance"
	instanceRepo "stocktag.GO/model/repository/instance"
)

var (
	receiveSKU      string
	receiveQty      int
	receiveCost     float64
	receiveCategory string
	receiveLocation string
	receiveDate     string
	receiveMeta     string
)

var receiveCmd = &cobra.Command{
	Use:   "stock:receive",
	Short: "Receive units of a SKU into stock as individually tracked instances",
	Run: func(cmd *cobra.Command, args []string) {
		if receiveQty <= 0 {
			fmt.Println("Quantity must be positive.")
			return
		}
		s, err := newStack()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			return
		}
		ctx := context.Background()

		acquired := time.Now()
		if receiveDate != "" {
			acquired, err = time.Parse(time.RFC3339, receiveDate)
			if err != nil {
				fmt.Printf("Invalid --acquired (want RFC3339): %v\n", err)
				return
			}
		}

		var meta map[string]interface{}
		if receiveMeta != "" {
			if err := json.Unmarshal([]byte(receiveMeta), &meta); err != nil {
				fmt.Printf("Invalid --meta JSON: %v\n", err)
				return
			}
		}

		// Cost defaults to the catalog unit cost and is frozen on the
		// instance from then on.
		cost := receiveCost
		if !cmd.Flags().Changed("cost") {
			entry, err := s.catalog.GetEntry(ctx, receiveSKU)
			if err != nil {
				fmt.Printf("No --cost given and catalog lookup failed: %v\n", err)
				return
			}
			cost = entry.UnitCost
		}

		start := time.Now()
		var firstID, lastID uint
		for i := 0; i < receiveQty; i++ {
			inst, err := s.instances.Create(ctx, instanceRepo.CreateInput{
				SKU:        receiveSKU,
				Category:   instanceEntity.Category(receiveCategory),
				Cost:       cost,
				AcquiredAt: acquired,
				Location:   receiveLocation,
				Meta:       meta,
			})
			if err != nil {
				fmt.Printf("Receive failed after %d units: %v\n", i, err)
				return
			}
			if firstID == 0 {
				firstID = inst.InstanceID
			}
			lastID = inst.InstanceID
		}

		fmt.Printf(`
=== Receive Report ===
SKU:          %s
Units:        %d
Unit cost:    %.4f
Acquired at:  %s
Instance ids: %d..%d
Total time:   %s
======================
`, receiveSKU, receiveQty, cost, acquired.Format(time.RFC3339),
			firstID, lastID, time.Since(start).Round(time.Millisecond))
	},
}

func init() {
	receiveCmd.Flags().StringVar(&receiveSKU, "sku", "", "Catalog SKU to receive (required)")
	receiveCmd.MarkFlagRequired("sku")
	receiveCmd.Flags().IntVarP(&receiveQty, "quantity", "q", 1, "Number of units to receive")
	receiveCmd.Flags().Float64Var(&receiveCost, "cost", 0, "Acquisition cost per unit (defaults to the catalog unit cost)")
	receiveCmd.Flags().StringVar(&receiveCategory, "category", string(instanceEntity.CategoryGeneral), "Instance category (general, wall, tool, furniture)")
	receiveCmd.Flags().StringVar(&receiveLocation, "location", "", "Storage location")
	receiveCmd.Flags().StringVar(&receiveDate, "acquired", "", "Acquisition timestamp, RFC3339 (defaults to now)")
	receiveCmd.Flags().StringVar(&receiveMeta, "meta", "", "Category meta as JSON")
	rootCmd.AddCommand(receiveCmd)
}
