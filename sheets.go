package main

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"
)

// previewRows caps the rows printed by "sheets preview" in table mode.
const previewRows = 20

func newSheetsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sheets",
		Short: "Browse spreadsheets in the connected account",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List spreadsheets",
		RunE:  runSheetsList,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "show <spreadsheet-id>",
		Short: "Show a spreadsheet's tabs",
		Args:  cobra.ExactArgs(1),
		RunE:  runSheetsShow,
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "preview <spreadsheet-id> <sheet>",
		Short: "Print the cells of one sheet",
		Args:  cobra.ExactArgs(2),
		RunE:  runSheetsPreview,
	})

	return cmd
}

func runSheetsList(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	files, err := a.calendar.ListSpreadsheets(ctx, currentUser())
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, files)
	}

	if len(files) == 0 {
		statusf("No spreadsheets found.\n")
		return nil
	}

	rows := make([][]string, 0, len(files))
	for _, f := range files {
		rows = append(rows, []string{f.ID, truncate(f.Name, titleWidth), f.Owner, formatTime(f.ModifiedAt)})
	}

	printTable(os.Stdout, []string{"ID", "NAME", "OWNER", "MODIFIED"}, rows)

	return nil
}

func runSheetsShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	ss, err := a.calendar.Spreadsheet(ctx, currentUser(), args[0])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, ss)
	}

	fmt.Printf("%s (%s)\n", ss.Title, ss.ID)

	rows := make([][]string, 0, len(ss.Sheets))
	for _, sh := range ss.Sheets {
		rows = append(rows, []string{strconv.Itoa(sh.Index), sh.Title, strconv.FormatInt(sh.SheetID, 10)})
	}

	printTable(os.Stdout, []string{"INDEX", "SHEET", "ID"}, rows)

	return nil
}

func runSheetsPreview(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := openApp(ctx)
	if err != nil {
		return err
	}
	defer a.Close()

	values, err := a.calendar.Preview(ctx, currentUser(), args[0], args[1])
	if err != nil {
		return err
	}

	if flagJSON {
		return printJSON(os.Stdout, values)
	}

	if len(values) == 0 {
		statusf("Sheet %q is empty.\n", args[1])
		return nil
	}

	// The first row is the header; short rows are padded to its width.
	width := 0
	for _, row := range values {
		width = max(width, len(row))
	}

	grid := make([][]string, 0, len(values))
	for _, row := range values {
		cells := make([]string, width)
		for i, v := range row {
			cells[i] = truncate(v, titleWidth)
		}

		grid = append(grid, cells)
	}

	shown := grid[1:]
	if len(shown) > previewRows {
		shown = shown[:previewRows]
	}

	printTable(os.Stdout, grid[0], shown)

	if more := len(grid) - 1 - len(shown); more > 0 {
		statusf("... %d more rows\n", more)
	}

	return nil
}
