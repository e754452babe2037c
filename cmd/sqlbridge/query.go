package main

import (
	"errors"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var queryCmd = &cobra.Command{
	Use:   "query SQL [params...]",
	Short: "Run one query against a database and print the rows",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, logger, err := loadConfig()
		if err != nil {
			return err
		}
		applyDBFlags(cmd, &cfg.Database.Path, &cfg.Database.Create)
		if cfg.Database.Path == "" {
			return errors.New("no database given; pass --db or set database.path")
		}

		rb, err := startBridge(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer rb.stop()

		rows, truncated, err := rb.client(cmd.Context()).QueryArray(args[0], args[1:]...)
		if err != nil {
			return err
		}

		if len(rows) == 0 {
			pterm.Info.Println("No rows")
			return nil
		}
		data := make(pterm.TableData, 0, len(rows))
		for _, row := range rows {
			cells := make([]string, len(row))
			for i, v := range row {
				if v == nil {
					cells[i] = "NULL"
				} else {
					cells[i] = *v
				}
			}
			data = append(data, cells)
		}
		if err := pterm.DefaultTable.WithWriter(cmd.OutOrStdout()).WithData(data).Render(); err != nil {
			return err
		}
		if truncated {
			pterm.Warning.Printfln("Result truncated after %d rows (limit %d characters)", len(rows), cfg.Bridge.MaxResultChars)
		}
		return nil
	},
}

func init() {
	addDBFlags(queryCmd)
	rootCmd.AddCommand(queryCmd)
}
