package parser

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/conorfennell/fushigi/internal/domain"
)

// parseXLSX reads the first sheet of a workbook. The first row is a header
// naming the columns; unknown columns are ignored.
func parseXLSX(r io.Reader) ([]domain.GrammarPoint, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, fmt.Errorf("opening workbook: %w", err)
	}
	defer f.Close()

	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, fmt.Errorf("reading sheet %s: %w", sheets[0], err)
	}
	if len(rows) < 2 {
		return nil, nil
	}

	columns := make(map[string]int)
	for i, name := range rows[0] {
		columns[strings.ToLower(strings.TrimSpace(name))] = i
	}
	if _, ok := columns["usage"]; !ok {
		return nil, fmt.Errorf("sheet %s has no usage column", sheets[0])
	}

	var points []domain.GrammarPoint
	for _, row := range rows[1:] {
		cell := func(name string) string {
			i, ok := columns[name]
			if !ok || i >= len(row) {
				return ""
			}
			return strings.TrimSpace(row[i])
		}
		points = append(points, domain.GrammarPoint{
			Usage:   cell("usage"),
			Meaning: cell("meaning"),
			Context: cell("context"),
			Level:   cell("level"),
			Tags:    splitTags(cell("tags")),
			Notes:   cell("notes"),
			Nuance:  cell("nuance"),
		})
	}
	return points, nil
}

func splitTags(s string) []string {
	var tags []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}
