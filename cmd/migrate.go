package cmd

import (
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/spf13/cobra"

	"stocktag.GO/config"
	"stocktag.GO/migrations"
)

var migrateDown bool

var migrateCmd = &cobra.Command{
	Use:   "stock:migrate",
	Short: "Apply the embedded schema migrations to the MySQL database",
	Run: func(cmd *cobra.Command, args []string) {
		src, err := iofs.New(migrations.FS, ".")
		if err != nil {
			fmt.Printf("Failed to load embedded migrations: %v\n", err)
			return
		}
		m, err := migrate.NewWithSourceInstance("iofs", src, "mysql://"+config.MySQLDSN())
		if err != nil {
			fmt.Printf("Migrator setup failed: %v\n", err)
			return
		}
		defer m.Close()

		if migrateDown {
			err = m.Down()
		} else {
			err = m.Up()
		}
		if errors.Is(err, migrate.ErrNoChange) {
			fmt.Println("Schema already up to date.")
			return
		}
		if err != nil {
			fmt.Printf("Migration failed: %v\n", err)
			return
		}
		fmt.Println("Migration complete.")
	},
}

func init() {
	migrateCmd.Flags().BoolVar(&migrateDown, "down", false, "Roll the schema all the way down instead of up")
	rootCmd.AddCommand(migrateCmd)
}
