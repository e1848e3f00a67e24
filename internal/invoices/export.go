package invoices

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/xuri/excelize/v2"

	"github.com/chantier-erp/chantier/internal/billing"
	"github.com/chantier-erp/chantier/internal/markets"
)

const exportSheet = "Situation"

var exportHeaders = []string{
	"Code", "Désignation", "Unité", "Qté marché", "P.U.",
	"Qté préc.", "% préc.", "Montant préc.",
	"Qté période", "% période", "Montant période",
	"Qté cumulée", "% cumulé", "Montant cumulé",
}

var exportWidths = []float64{12, 40, 8, 14, 14, 14, 10, 18, 14, 10, 18, 14, 10, 18}

// tableStart is the spreadsheet row of the column headers.
const tableStart = 6

// Workbook renders an invoice as an xlsx situation. Callers must Close the file.
func (s *Service) Workbook(ctx context.Context, id int64) (*excelize.File, Invoice, error) {
	inv, err := s.Get(ctx, id)
	if err != nil {
		return nil, Invoice{}, err
	}
	project, err := s.projects.GetProject(ctx, inv.ProjectID)
	if err != nil {
		return nil, Invoice{}, err
	}
	f, err := renderWorkbook(project, inv)
	if err != nil {
		return nil, Invoice{}, fmt.Errorf("render invoice %d: %w", id, err)
	}
	return f, inv, nil
}

// ExportToDir writes the invoice workbook under the configured export
// directory and records its path.
func (s *Service) ExportToDir(ctx context.Context, id int64) (string, error) {
	f, inv, err := s.Workbook(ctx, id)
	if err != nil {
		return "", err
	}
	defer f.Close()

	dir := s.opts.ExportDir
	if dir == "" {
		dir = "."
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	path := filepath.Join(dir, ExportFileName(inv))
	if err := f.SaveAs(path); err != nil {
		return "", fmt.Errorf("save workbook: %w", err)
	}
	if err := s.repo.SetExportPath(ctx, id, path); err != nil {
		return "", err
	}
	s.logger.Info("invoice exported", slog.Int64("invoice_id", id), slog.String("path", path))
	return path, nil
}

// ExportFileName is unique per export so a re-export never overwrites a file
// that was already handed out.
func ExportFileName(inv Invoice) string {
	return fmt.Sprintf("%s_%s.xlsx", sanitizeFileName(inv.Number), uuid.NewString()[:8])
}

func sanitizeFileName(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '_'
		}
	}, name)
}

func renderWorkbook(project markets.Project, inv Invoice) (*excelize.File, error) {
	settings := project.Settings.Normalize()
	f := excelize.NewFile()
	if err := f.SetSheetName("Sheet1", exportSheet); err != nil {
		f.Close()
		return nil, err
	}

	titleStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true, Size: 14}})
	if err != nil {
		f.Close()
		return nil, err
	}
	headerStyle, err := f.NewStyle(&excelize.Style{
		Font:      &excelize.Font{Bold: true, Size: 11},
		Fill:      excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
		Border:    []excelize.Border{{Type: "bottom", Color: "000000", Style: 1}},
		Alignment: &excelize.Alignment{WrapText: true, Vertical: "center"},
	})
	if err != nil {
		f.Close()
		return nil, err
	}
	qtyFmt := "#,##0"
	if settings.QuantityDecimals > 0 {
		qtyFmt += "." + strings.Repeat("0", settings.QuantityDecimals)
	}
	amountFmt := "#,##0"
	if settings.CurrencyDecimals > 0 {
		amountFmt += "." + strings.Repeat("0", settings.CurrencyDecimals)
	}
	qtyStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &qtyFmt})
	if err != nil {
		f.Close()
		return nil, err
	}
	amountStyle, err := f.NewStyle(&excelize.Style{CustomNumFmt: &amountFmt})
	if err != nil {
		f.Close()
		return nil, err
	}
	totalStyle, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}, CustomNumFmt: &amountFmt})
	if err != nil {
		f.Close()
		return nil, err
	}

	cells := []struct {
		cell  string
		value any
	}{
		{"A1", "Situation de travaux N° " + inv.Number},
		{"A2", "Projet"},
		{"B2", project.Code + " - " + project.Name},
		{"A3", "Client"},
		{"B3", project.ClientName},
		{"A4", "Date"},
		{"B4", inv.Date.Format("02/01/2006")},
		{"D4", "Statut"},
		{"E4", string(inv.Status)},
	}
	for _, c := range cells {
		if err := f.SetCellValue(exportSheet, c.cell, c.value); err != nil {
			f.Close()
			return nil, err
		}
	}
	_ = f.SetCellStyle(exportSheet, "A1", "A1", titleStyle)

	for i, h := range exportHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := fmt.Sprintf("%s%d", col, tableStart)
		if err := f.SetCellValue(exportSheet, cell, h); err != nil {
			f.Close()
			return nil, err
		}
		_ = f.SetCellStyle(exportSheet, cell, cell, headerStyle)
		_ = f.SetColWidth(exportSheet, col, col, exportWidths[i])
	}

	var previousTotal, currentTotal, cumulativeTotal float64
	row := tableStart + 1
	for _, it := range inv.Items {
		values := []any{
			it.Code, it.Designation, it.Unit, it.MarketQuantity, it.UnitPrice,
			it.PreviousQuantity, it.PreviousPercentage, it.PreviousAmount,
			it.CurrentQuantity, it.CurrentPercentage, it.CurrentAmount,
			it.TotalQuantity, it.TotalPercentage, it.TotalAmount,
		}
		cell := fmt.Sprintf("A%d", row)
		if err := f.SetSheetRow(exportSheet, cell, &values); err != nil {
			f.Close()
			return nil, err
		}
		for _, col := range []string{"D", "F", "I", "L"} {
			_ = f.SetCellStyle(exportSheet, fmt.Sprintf("%s%d", col, row), fmt.Sprintf("%s%d", col, row), qtyStyle)
		}
		for _, col := range []string{"E", "H", "K", "N"} {
			_ = f.SetCellStyle(exportSheet, fmt.Sprintf("%s%d", col, row), fmt.Sprintf("%s%d", col, row), amountStyle)
		}
		previousTotal += it.PreviousAmount
		currentTotal += it.CurrentAmount
		cumulativeTotal += it.TotalAmount
		row++
	}

	totals := []struct {
		col   string
		value float64
	}{{"H", previousTotal}, {"K", currentTotal}, {"N", cumulativeTotal}}
	_ = f.SetCellValue(exportSheet, fmt.Sprintf("A%d", row), "Total")
	for _, t := range totals {
		cell := fmt.Sprintf("%s%d", t.col, row)
		_ = f.SetCellValue(exportSheet, cell, t.value)
		_ = f.SetCellStyle(exportSheet, cell, cell, totalStyle)
	}

	row += 2
	summary := [][2]string{
		{"Montant de la période", billing.FormatAmount(inv.TotalAmount, settings)},
		{"Montant HT", billing.FormatAmount(inv.Tax.AmountHT, settings)},
		{fmt.Sprintf("TVA (%s %%)", trimFloat(settings.TaxRate)), billing.FormatAmount(inv.Tax.TaxAmount, settings)},
		{"Montant TTC", billing.FormatAmount(inv.Tax.AmountTTC, settings)},
	}
	for _, line := range summary {
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("J%d", row), line[0])
		_ = f.SetCellValue(exportSheet, fmt.Sprintf("K%d", row), line[1])
		row++
	}
	return f, nil
}

func trimFloat(v float64) string {
	s := fmt.Sprintf("%.4f", v)
	s = strings.TrimRight(s, "0")
	return strings.TrimSuffix(s, ".")
}
