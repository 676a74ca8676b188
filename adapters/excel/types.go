package excel

// RawRowData represents a row of raw spreadsheet data as string key-value pairs
type RawRowData map[string]string

// TableData represents a complete sheet or CSV file
type TableData struct {
	Headers []string     // Column headers
	Rows    []RawRowData // Data rows
}

// Census column names
const (
	ColumnSite      = "site"
	ColumnYear      = "year"
	ColumnSpecies   = "sp"
	ColumnAbundance = "ab"
)

// DefaultSheet is read from and written to
const DefaultSheet = "Sheet1"
