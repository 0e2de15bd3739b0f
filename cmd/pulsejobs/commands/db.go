package commands

import (
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"

	"github.com/teranos/pulsejobs/logger"
)

// DbCmd groups database maintenance commands
var DbCmd = &cobra.Command{
	Use:   "db",
	Short: logger.DB + " Manage the pulsejobs database",
}

var dbMigrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply pending schema migrations",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dbPath, _ := cmd.Flags().GetString("db")
		database, err := openDatabase(cfg, dbPath)
		if err != nil {
			return err
		}
		defer database.Close()

		if dbPath == "" {
			dbPath = cfg.Database.Path
		}
		pterm.Success.Printf("%s Database %s is up to date\n", logger.DB, dbPath)
		return nil
	},
}

var dbStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show job and execution counts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		dbPath, _ := cmd.Flags().GetString("db")
		database, err := openDatabase(cfg, dbPath)
		if err != nil {
			return err
		}
		defer database.Close()

		rows, err := database.Query(`SELECT status, COUNT(*) FROM pulse_jobs GROUP BY status ORDER BY status`)
		if err != nil {
			return err
		}
		data := pterm.TableData{{"STATUS", "JOBS"}}
		for rows.Next() {
			var status, count string
			if err := rows.Scan(&status, &count); err != nil {
				rows.Close()
				return err
			}
			data = append(data, []string{status, count})
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return err
		}

		var executions, armed int
		if err := database.QueryRow(`SELECT COUNT(*) FROM pulse_executions`).Scan(&executions); err != nil {
			return err
		}
		if err := database.QueryRow(`SELECT COUNT(*) FROM pulse_wakeups`).Scan(&armed); err != nil {
			return err
		}

		if err := pterm.DefaultTable.WithHasHeader().WithData(data).Render(); err != nil {
			return err
		}
		pterm.Printf("Executions recorded: %d\n", executions)
		pterm.Printf("Wake-ups armed (ticker backend): %d\n", armed)
		return nil
	},
}

func init() {
	DbCmd.PersistentFlags().String("db", "", "Database path (default: database.path)")
	DbCmd.AddCommand(dbMigrateCmd)
	DbCmd.AddCommand(dbStatsCmd)
}
