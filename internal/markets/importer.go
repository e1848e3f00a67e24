package markets

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
)

// Workbook columns: Lot | Code | Designation | Unit | Quantity | UnitPrice.
var importHeaders = []string{"Lot", "Code", "Designation", "Unit", "Quantity", "UnitPrice"}

const (
	colLot = iota
	colCode
	colDesignation
	colUnit
	colQuantity
	colUnitPrice
)

type importRow struct {
	line    int
	lot     string
	article CreateArticleInput
}

// ImportWorkbook reads the first sheet of an xlsx contract schedule and
// creates missing lots and all valid articles in a single transaction. Rows
// with errors are reported and skipped.
func (s *Service) ImportWorkbook(ctx context.Context, projectID int64, r io.Reader) (ImportResult, error) {
	if _, err := s.repo.GetProject(ctx, projectID); err != nil {
		return ImportResult{}, err
	}
	f, err := excelize.OpenReader(r)
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: open workbook: %v", ErrInvalidInput, err)
	}
	defer f.Close()

	rows, err := f.GetRows(f.GetSheetName(0))
	if err != nil {
		return ImportResult{}, fmt.Errorf("%w: read workbook: %v", ErrInvalidInput, err)
	}
	parsed, result := parseImportRows(rows)
	if len(parsed) == 0 {
		return result, nil
	}

	existing, err := s.repo.ListLots(ctx, projectID)
	if err != nil {
		return ImportResult{}, err
	}
	nextLotPosition := len(existing)

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		lots := make(map[string]Lot)
		positions := make(map[int64]int)
		for _, row := range parsed {
			lot, ok := lots[row.lot]
			if !ok {
				found, findErr := tx.FindLotByName(ctx, projectID, row.lot)
				switch {
				case errors.Is(findErr, ErrNotFound):
					lot = Lot{ProjectID: projectID, Name: row.lot, Position: nextLotPosition}
					id, err := tx.InsertLot(ctx, lot)
					if err != nil {
						return err
					}
					lot.ID = id
					nextLotPosition++
					result.LotsCreated++
				case findErr != nil:
					return findErr
				default:
					lot = found
				}
				lots[row.lot] = lot
			}

			row.article.Position = positions[lot.ID]
			article, err := newArticle(lot, row.article)
			if err != nil {
				result.addError(row.line, err.Error())
				continue
			}
			if _, err := tx.InsertArticle(ctx, article); err != nil {
				return fmt.Errorf("row %d: %w", row.line, err)
			}
			positions[lot.ID]++
			result.ArticlesCreated++
		}
		return nil
	})
	if err != nil {
		return ImportResult{}, err
	}
	s.logger.Info("market workbook imported",
		slog.Int64("project_id", projectID),
		slog.Int("lots", result.LotsCreated),
		slog.Int("articles", result.ArticlesCreated),
		slog.Int("failed", result.Failed))
	return result, nil
}

func parseImportRows(rows [][]string) ([]importRow, ImportResult) {
	var result ImportResult
	if len(rows) < 2 {
		return nil, result
	}
	parsed := make([]importRow, 0, len(rows)-1)
	for i, row := range rows[1:] {
		line := i + 2
		if isBlank(row) {
			continue
		}
		cell := func(idx int) string {
			if idx < len(row) {
				return strings.TrimSpace(row[idx])
			}
			return ""
		}
		lot := cell(colLot)
		if lot == "" {
			result.addError(line, "lot is required")
			continue
		}
		qty, err := parseNumber(cell(colQuantity))
		if err != nil {
			result.addError(line, "invalid quantity: "+cell(colQuantity))
			continue
		}
		price, err := parseNumber(cell(colUnitPrice))
		if err != nil {
			result.addError(line, "invalid unit price: "+cell(colUnitPrice))
			continue
		}
		if qty < 0 || price < 0 {
			result.addError(line, "quantity and unit price must not be negative")
			continue
		}
		parsed = append(parsed, importRow{
			line: line,
			lot:  lot,
			article: CreateArticleInput{
				Code:        cell(colCode),
				Designation: cell(colDesignation),
				Unit:        cell(colUnit),
				Quantity:    qty,
				UnitPrice:   price,
			},
		})
	}
	return parsed, result
}

// parseNumber accepts "1 234,5" as well as "1234.5". Empty cells are 0.
func parseNumber(raw string) (float64, error) {
	raw = strings.NewReplacer(" ", "", "\u00a0", "", "\u202f", "").Replace(raw)
	if raw == "" {
		return 0, nil
	}
	if strings.Contains(raw, ",") && !strings.Contains(raw, ".") {
		raw = strings.ReplaceAll(raw, ",", ".")
	} else {
		raw = strings.ReplaceAll(raw, ",", "")
	}
	return strconv.ParseFloat(raw, 64)
}

func isBlank(row []string) bool {
	for _, c := range row {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}

func (r *ImportResult) addError(line int, msg string) {
	r.Failed++
	r.Errors = append(r.Errors, ImportRowError{Row: line, Message: msg})
}

// ImportTemplate returns an empty workbook with the expected header row.
func ImportTemplate() (*excelize.File, error) {
	f := excelize.NewFile()
	sheet := "Market"
	if err := f.SetSheetName("Sheet1", sheet); err != nil {
		return nil, err
	}
	bold, err := f.NewStyle(&excelize.Style{
		Font: &excelize.Font{Bold: true, Size: 11},
		Fill: excelize.Fill{Type: "pattern", Pattern: 1, Color: []string{"#D9E1F2"}},
	})
	if err != nil {
		return nil, err
	}
	for i, h := range importHeaders {
		col, _ := excelize.ColumnNumberToName(i + 1)
		cell := col + "1"
		if err := f.SetCellValue(sheet, cell, h); err != nil {
			return nil, err
		}
		_ = f.SetCellStyle(sheet, cell, cell, bold)
	}
	return f, nil
}
