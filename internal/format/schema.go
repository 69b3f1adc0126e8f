// Package format maps raw upstream records onto named, typed columns and
// writes them as CSV or as a terminal table.
package format

import (
	"fmt"
	"strings"

	"jdata/internal/fetcher"
)

// Kind is the type a column's values are converted to.
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindDate
)

// Column maps one upstream field to an output column.
type Column struct {
	Source string
	Name   string
	Kind   Kind
}

// Schema is an ordered list of output columns. With AllowMissing a record
// without a field renders an empty cell; otherwise it is a format error.
type Schema struct {
	Name         string
	Columns      []Column
	AllowMissing bool
}

// Headers returns the column display names.
func (s Schema) Headers() []string {
	out := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		out[i] = c.Name
	}
	return out
}

// StockSchema is the equity history layout.
var StockSchema = Schema{
	Name: "stock",
	Columns: []Column{
		{"CH_TIMESTAMP", "DATE", KindDate},
		{"CH_SERIES", "SERIES", KindString},
		{"CH_OPENING_PRICE", "OPEN", KindFloat},
		{"CH_TRADE_HIGH_PRICE", "HIGH", KindFloat},
		{"CH_TRADE_LOW_PRICE", "LOW", KindFloat},
		{"CH_PREVIOUS_CLS_PRICE", "PREV. CLOSE", KindFloat},
		{"CH_LAST_TRADED_PRICE", "LTP", KindFloat},
		{"CH_CLOSING_PRICE", "CLOSE", KindFloat},
		{"VWAP", "VWAP", KindFloat},
		{"CH_52WEEK_HIGH_PRICE", "52W H", KindFloat},
		{"CH_52WEEK_LOW_PRICE", "52W L", KindFloat},
		{"CH_TOT_TRADED_QTY", "VOLUME", KindInt},
		{"CH_TOT_TRADED_VAL", "VALUE", KindFloat},
		{"CH_TOTAL_TRADES", "NO OF TRADES", KindInt},
		{"CH_SYMBOL", "SYMBOL", KindString},
	},
}

// FuturesSchema is the futures contract history layout.
var FuturesSchema = Schema{
	Name: "futures",
	Columns: []Column{
		{"FH_TIMESTAMP", "DATE", KindDate},
		{"FH_EXPIRY_DT", "EXPIRY", KindDate},
		{"FH_OPENING_PRICE", "OPEN", KindFloat},
		{"FH_TRADE_HIGH_PRICE", "HIGH", KindFloat},
		{"FH_TRADE_LOW_PRICE", "LOW", KindFloat},
		{"FH_CLOSING_PRICE", "CLOSE", KindFloat},
		{"FH_LAST_TRADED_PRICE", "LTP", KindFloat},
		{"FH_SETTLE_PRICE", "SETTLE PRICE", KindFloat},
		{"FH_TOT_TRADED_QTY", "TOTAL TRADED QUANTITY", KindInt},
		{"FH_MARKET_LOT", "MARKET LOT", KindInt},
		{"FH_TOT_TRADED_VAL", "PREMIUM VALUE", KindFloat},
		{"FH_OPEN_INT", "OPEN INTEREST", KindFloat},
		{"FH_CHANGE_IN_OI", "CHANGE IN OI", KindFloat},
		{"FH_SYMBOL", "SYMBOL", KindString},
	},
}

// OptionsSchema is the options contract history layout.
var OptionsSchema = Schema{
	Name: "options",
	Columns: []Column{
		{"FH_TIMESTAMP", "DATE", KindDate},
		{"FH_EXPIRY_DT", "EXPIRY", KindDate},
		{"FH_OPTION_TYPE", "OPTION TYPE", KindString},
		{"FH_STRIKE_PRICE", "STRIKE PRICE", KindFloat},
		{"FH_OPENING_PRICE", "OPEN", KindFloat},
		{"FH_TRADE_HIGH_PRICE", "HIGH", KindFloat},
		{"FH_TRADE_LOW_PRICE", "LOW", KindFloat},
		{"FH_CLOSING_PRICE", "CLOSE", KindFloat},
		{"FH_LAST_TRADED_PRICE", "LTP", KindFloat},
		{"FH_SETTLE_PRICE", "SETTLE PRICE", KindFloat},
		{"FH_TOT_TRADED_QTY", "TOTAL TRADED QUANTITY", KindInt},
		{"FH_MARKET_LOT", "MARKET LOT", KindInt},
		{"FH_TOT_TRADED_VAL", "PREMIUM VALUE", KindFloat},
		{"FH_OPEN_INT", "OPEN INTEREST", KindFloat},
		{"FH_CHANGE_IN_OI", "CHANGE IN OI", KindFloat},
		{"FH_SYMBOL", "SYMBOL", KindString},
	},
}

// IndexSchema is the NiftyIndices price history layout.
var IndexSchema = Schema{
	Name: "index",
	Columns: []Column{
		{"INDEX_NAME", "INDEX_NAME", KindString},
		{"HistoricalDate", "HistoricalDate", KindDate},
		{"OPEN", "OPEN", KindFloat},
		{"HIGH", "HIGH", KindFloat},
		{"LOW", "LOW", KindFloat},
		{"CLOSE", "CLOSE", KindFloat},
	},
	AllowMissing: true,
}

// IndexPESchema is the NiftyIndices valuation history layout.
var IndexPESchema = Schema{
	Name: "index_pe",
	Columns: []Column{
		{"Index Name", "Index Name", KindString},
		{"DATE", "DATE", KindDate},
		{"pe", "pe", KindFloat},
		{"pb", "pb", KindFloat},
		{"divYield", "divYield", KindFloat},
	},
	AllowMissing: true,
}

// DerivativesSchema picks the futures or options layout for an instrument type.
func DerivativesSchema(instrumentType string) (Schema, error) {
	switch {
	case strings.HasPrefix(instrumentType, "FUT"):
		return FuturesSchema, nil
	case strings.HasPrefix(instrumentType, "OPT"):
		return OptionsSchema, nil
	}
	return Schema{}, fetcher.NewInvalidArgumentError(fmt.Sprintf("no schema for instrument type %q", instrumentType))
}

// Row is one record converted to the schema's column kinds: string, float64,
// int64 or time.Time.
type Row []any

// Rows converts records to typed rows. Unparseable fields become sentinels
// (NaN, 0, zero time). A missing field fails the whole conversion unless the
// schema allows it, in which case the cell is the kind's sentinel.
func Rows(records []fetcher.Record, s Schema) ([]Row, error) {
	rows := make([]Row, 0, len(records))
	for i, rec := range records {
		row := make(Row, len(s.Columns))
		for j, c := range s.Columns {
			raw, ok := rec.Field(c.Source)
			if !ok && !s.AllowMissing {
				return nil, missingField(i, c.Source)
			}
			row[j] = Convert(raw, c.Kind)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func missingField(record int, field string) error {
	return fetcher.NewFormatError(fmt.Sprintf("record %d has no field %s", record, field), nil)
}
