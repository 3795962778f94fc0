package cmd

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var checkCmd = &cobra.Command{
	Use:   "stock:check",
	Short: "Scan the store for ownership violations between instances and tags",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := newStack()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			os.Exit(1)
		}
		violations, err := s.checker.Check(context.Background())
		if err != nil {
			fmt.Printf("Check failed: %v\n", err)
			os.Exit(1)
		}
		if len(violations) == 0 {
			fmt.Println("Ownership invariant holds.")
			return
		}
		// Violations are reported, never repaired: someone has to look.
		for _, v := range violations {
			fmt.Printf("  [violation] %s\n", v)
		}
		fmt.Printf("%d violation(s) found.\n", len(violations))
		os.Exit(1)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}
