// Package export renders stored company records to CSV and XLSX files for
// handoff to the sales team.
package export

import (
	"encoding/csv"
	"io"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/baza-td/stroyparser/internal/model"
)

// Header is the column order of every export format.
var Header = []string{
	"tax_id", "ogrn", "name", "city", "ring", "priority",
	"phones", "email", "website", "address", "okved",
	"revenue", "profit", "employees", "founders",
	"court_cases", "government_contracts", "source",
}

// Row flattens one record into the Header column order.
func Row(c model.CompanyRecord) []string {
	return []string{
		c.TaxID,
		c.OGRN,
		c.Name,
		c.City,
		strconv.Itoa(c.Ring),
		string(c.Priority),
		strings.Join(c.Phones, "; "),
		c.Email,
		c.Website,
		c.Address,
		c.OKVED,
		formatInt64Ptr(c.Revenue),
		formatInt64Ptr(c.Profit),
		formatIntPtr(c.EmployeeCount),
		strings.Join(c.Founders, "; "),
		formatIntPtr(c.CourtCases),
		formatIntPtr(c.GovernmentContracts),
		c.Source,
	}
}

// WriteCSV streams records as CSV with a header row.
func WriteCSV(w io.Writer, records []model.CompanyRecord) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(Header); err != nil {
		return eris.Wrap(err, "export: write csv header")
	}
	for _, c := range records {
		if err := cw.Write(Row(c)); err != nil {
			return eris.Wrapf(err, "export: write csv row %s", c.TaxID)
		}
	}
	cw.Flush()
	return eris.Wrap(cw.Error(), "export: flush csv")
}

// WriteXLSX writes records to an XLSX workbook at path.
func WriteXLSX(path string, records []model.CompanyRecord) error {
	f := xlsx.NewFile()
	sheet, err := f.AddSheet("Companies")
	if err != nil {
		return eris.Wrap(err, "export: add sheet")
	}

	header := sheet.AddRow()
	for _, col := range Header {
		header.AddCell().Value = col
	}

	for _, c := range records {
		row := sheet.AddRow()
		for _, v := range Row(c) {
			row.AddCell().Value = v
		}
	}

	return eris.Wrap(f.Save(path), "export: save xlsx")
}

func formatInt64Ptr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatIntPtr(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
