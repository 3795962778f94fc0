package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	cancelTagID  string
	cancelReason string
	cancelActor  string
)

var tagCancelCmd = &cobra.Command{
	Use:   "tag:cancel",
	Short: "Cancel an active tag, releasing its instances back to the pool",
	Run: func(cmd *cobra.Command, args []string) {
		s, err := newStack()
		if err != nil {
			fmt.Printf("Database connection failed: %v\n", err)
			return
		}
		t, err := s.manager.Cancel(context.Background(), cancelTagID, cancelReason, cancelActor)
		if err != nil {
			fmt.Printf("Cancel failed: %v\n", err)
			return
		}
		fmt.Printf("Tag %s cancelled (%s).\n", t.TagID, t.CancelReason)
	},
}

func init() {
	tagCancelCmd.Flags().StringVar(&cancelTagID, "tag", "", "Tag id to cancel (required)")
	tagCancelCmd.MarkFlagRequired("tag")
	tagCancelCmd.Flags().StringVar(&cancelReason, "reason", "", "Why the tag is being cancelled")
	tagCancelCmd.Flags().StringVar(&cancelActor, "actor", "cli", "Who is cancelling")
	rootCmd.AddCommand(tagCancelCmd)
}
