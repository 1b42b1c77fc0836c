// Package report renders duplicate groups and archival decisions for review.
package report

import (
	"strconv"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/crm-dedup/internal/model"
)

// SheetName is the worksheet holding the duplicate groups.
const SheetName = "Duplicates"

// Header is the first row of the duplicates sheet.
var Header = []string{"group", "key", "reason", "role", "id", "name", "phones", "addresses", "emails", "last_edited", "archived"}

// WriteXLSX writes one row per group member to a new workbook at path. The
// canonical record of a group comes first.
func WriteXLSX(path string, groups []model.DuplicateGroup) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet(SheetName)
	if err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	addRow(sheet, Header)
	for i, g := range groups {
		for j, r := range g.Members() {
			role := "canonical"
			if j > 0 {
				role = "duplicate"
			}
			addRow(sheet, []string{
				strconv.Itoa(i + 1),
				g.Key,
				string(g.Reason),
				role,
				r.ID,
				r.Name,
				strings.Join(r.Phones, ", "),
				strings.Join(r.Addresses, "; "),
				strings.Join(r.Emails, ", "),
				r.LastEditedAt.UTC().Format(time.RFC3339),
				strconv.FormatBool(r.Archived),
			})
		}
	}

	if err := f.Save(path); err != nil {
		return eris.Wrapf(err, "report: save %s", path)
	}
	return nil
}

func addRow(sheet *xlsx.Sheet, cells []string) {
	row := sheet.AddRow()
	for _, c := range cells {
		row.AddCell().SetString(c)
	}
}
