// Package parsers reads payroll summaries into reconciliation groups.
//
// Two layouts are supported:
//
//   - the long layout, one row per rubric with the columns competencia, grupo,
//     rubrica, tipo, classificacao and valor (CSV or spreadsheet);
//   - the monthly workbook, one sheet per segment where each row is a period
//     followed by the amounts that may be returned, plus an optional Alvos
//     sheet with the target of every period.
//
// CSV files use ';' by default and may be UTF-8 or Windows-1252, which is what
// most payroll systems still export. Spreadsheets are read with excelize
// (.xlsx) or xlsReader (.xls).
//
// Example usage:
//
//	parser, err := parsers.NewParser(nil, nil)
//	groups, stats, err := parser.ParseFile(ctx, "folha.csv")
//	fmt.Println(stats)
//
// Bad rows do not abort a parse: they are collected in ParseStats up to
// ParseConfig.MaxErrors, after which parsing stops with an error.
package parsers

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/encoding/charmap"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Supported CSV encodings
const (
	EncodingUTF8        = "utf-8"
	EncodingWindows1252 = "windows-1252"
)

// ParseConfig holds configuration for CSV parsing
type ParseConfig struct {
	HasHeader        bool   `json:"has_header"`
	Delimiter        rune   `json:"delimiter"`
	Comment          rune   `json:"comment"`
	TrimLeadingSpace bool   `json:"trim_leading_space"`
	SkipEmptyRows    bool   `json:"skip_empty_rows"`
	MaxFieldSize     int    `json:"max_field_size"`
	Encoding         string `json:"encoding"`
	// MaxErrors stops a parse after this many bad rows; 0 means no limit
	MaxErrors int `json:"max_errors"`
}

// DefaultParseConfig returns a configuration with sensible defaults
func DefaultParseConfig() *ParseConfig {
	return &ParseConfig{
		HasHeader:        true,
		Delimiter:        ';',
		TrimLeadingSpace: true,
		SkipEmptyRows:    true,
		MaxFieldSize:     64 * 1024,
		Encoding:         EncodingUTF8,
		MaxErrors:        100,
	}
}

// Validate checks the configuration
func (c *ParseConfig) Validate() error {
	if c.Delimiter == 0 || c.Delimiter == '\n' || c.Delimiter == '\r' || c.Delimiter == '"' || c.Delimiter == utf8.RuneError {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "delimiter", string(c.Delimiter), nil).
			WithSuggestion("use ';', ',' or a tab")
	}
	switch normalizeEncoding(c.Encoding) {
	case EncodingUTF8, EncodingWindows1252:
	default:
		return errors.ConfigurationError(errors.CodeInvalidConfig, "encoding", c.Encoding, nil).
			WithSuggestion("use 'utf-8' or 'windows-1252'")
	}
	if !c.HasHeader {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "has_header", false, nil).
			WithSuggestion("payroll files must start with a header row")
	}
	if c.MaxErrors < 0 {
		return errors.ConfigurationError(errors.CodeInvalidConfig, "max_errors", c.MaxErrors, nil)
	}
	return nil
}

func normalizeEncoding(enc string) string {
	switch strings.ToLower(strings.TrimSpace(enc)) {
	case "", "utf8", "utf-8":
		return EncodingUTF8
	case "windows-1252", "cp1252", "latin1", "latin-1", "iso-8859-1":
		return EncodingWindows1252
	}
	return enc
}

// BaseParser provides common CSV reading functionality
type BaseParser struct {
	config *ParseConfig
	logger logger.Logger
}

// NewBaseParser creates a new BaseParser with the given configuration
func NewBaseParser(config *ParseConfig) *BaseParser {
	if config == nil {
		config = DefaultParseConfig()
	}

	log := logger.WithComponent("base_parser")
	log.WithFields(logger.Fields{
		"has_header": config.HasHeader,
		"delimiter":  string(config.Delimiter),
		"encoding":   config.Encoding,
	}).Debug("Created base parser")

	return &BaseParser{
		config: config,
		logger: log,
	}
}

// ParseContext holds state during parsing operations
type ParseContext struct {
	File       string
	Sheet      string
	LineNumber int
	Headers    []string
	HeaderMap  map[string]int
	Errors     *errors.RowErrorCollector
	ctx        context.Context
}

// NewParseContext creates a new parsing context
func NewParseContext(ctx context.Context, file string, maxErrors int) *ParseContext {
	if ctx == nil {
		ctx = context.Background()
	}
	return &ParseContext{
		File:      file,
		HeaderMap: make(map[string]int),
		Errors:    errors.NewRowErrorCollector(maxErrors),
		ctx:       ctx,
	}
}

// IsCancelled checks if the parsing context has been cancelled
func (pc *ParseContext) IsCancelled() bool {
	return pc.ctx.Err() != nil
}

// AddError records a bad row; it returns false once the error limit is hit
func (pc *ParseContext) AddError(column, value, message string, err error) bool {
	return pc.Errors.Add(&errors.RowError{
		File:    pc.File,
		Sheet:   pc.Sheet,
		Line:    pc.LineNumber,
		Column:  column,
		Value:   value,
		Message: message,
		Cause:   err,
	})
}

// SetHeaders stores the header row, normalized
func (pc *ParseContext) SetHeaders(headers []string) {
	pc.Headers = make([]string, len(headers))
	pc.HeaderMap = make(map[string]int, len(headers))
	for i, h := range headers {
		pc.Headers[i] = normalizeHeader(h)
		if _, dup := pc.HeaderMap[pc.Headers[i]]; !dup {
			pc.HeaderMap[pc.Headers[i]] = i
		}
	}
}

// GetColumnIndex returns the index of the first of names present in the header, or -1
func (pc *ParseContext) GetColumnIndex(names ...string) int {
	for _, name := range names {
		if index, exists := pc.HeaderMap[normalizeHeader(name)]; exists {
			return index
		}
	}
	return -1
}

// OpenFile opens a CSV file and returns a csv.Reader decoding the configured encoding
func (bp *BaseParser) OpenFile(filePath string) (*os.File, *csv.Reader, error) {
	bp.logger.WithField("file_path", filePath).Debug("Opening CSV file")

	file, err := os.Open(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, filePath, err)
		}
		if os.IsPermission(err) {
			return nil, nil, errors.FileError(errors.CodeFilePermission, filePath, err)
		}
		return nil, nil, errors.FileError(errors.CodeFileCorrupted, filePath, err)
	}

	reader, err := bp.NewReader(file, filePath)
	if err != nil {
		file.Close()
		return nil, nil, err
	}
	return file, reader, nil
}

// NewReader wraps r in a csv.Reader, decoding Windows-1252 when configured and
// checking UTF-8 input otherwise
func (bp *BaseParser) NewReader(r io.Reader, name string) (*csv.Reader, error) {
	var src io.Reader
	if normalizeEncoding(bp.config.Encoding) == EncodingWindows1252 {
		src = charmap.Windows1252.NewDecoder().Reader(r)
	} else {
		br := bufio.NewReader(r)
		if err := bp.validateEncoding(br, name); err != nil {
			return nil, err
		}
		src = br
	}

	reader := csv.NewReader(src)
	bp.configureReader(reader)
	return reader, nil
}

// configureReader sets up the CSV reader with our configuration
func (bp *BaseParser) configureReader(reader *csv.Reader) {
	reader.Comma = bp.config.Delimiter
	reader.Comment = bp.config.Comment
	reader.TrimLeadingSpace = bp.config.TrimLeadingSpace
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
}

// validateEncoding peeks at the start of the input, skips a UTF-8 BOM and
// rejects bytes that are not UTF-8
func (bp *BaseParser) validateEncoding(br *bufio.Reader, name string) error {
	if bom, err := br.Peek(3); err == nil && string(bom) == "\ufeff" {
		_, _ = br.Discard(3)
	}

	sample, err := br.Peek(br.Size())
	if err != nil && err != io.EOF && err != bufio.ErrBufferFull {
		return errors.FileError(errors.CodeFileCorrupted, name, err)
	}
	// the sample may end in the middle of a multi-byte rune
	if !utf8.Valid(trimPartialRune(sample)) {
		return errors.ParseError(errors.CodeEncodingError, name, 0, "encoding", "",
			fmt.Errorf("invalid UTF-8 encoding detected")).
			WithSuggestion("Use --encoding windows-1252 for files exported by legacy payroll systems")
	}
	return nil
}

func trimPartialRune(b []byte) []byte {
	for i := 0; i < utf8.UTFMax && len(b) > 0; i++ {
		r, size := utf8.DecodeLastRune(b)
		if r != utf8.RuneError || size != 1 {
			return b
		}
		b = b[:len(b)-1]
	}
	return b
}

// ReadRecord reads the next non-empty record. io.EOF marks the end of input.
func (bp *BaseParser) ReadRecord(reader *csv.Reader, parseCtx *ParseContext) ([]string, error) {
	for {
		if parseCtx.IsCancelled() {
			return nil, errors.ReconciliationError(errors.CodeSearchCancelled, "csv parsing", parseCtx.ctx.Err())
		}

		record, err := reader.Read()
		if err == io.EOF {
			return nil, err
		}
		if err != nil {
			var perr *csv.ParseError
			if ok := asCSVError(err, &perr); ok {
				parseCtx.LineNumber = perr.Line
			}
			return nil, errors.ParseError(errors.CodeInvalidFormat, parseCtx.File, parseCtx.LineNumber, "", "", err)
		}
		parseCtx.LineNumber, _ = reader.FieldPos(0)

		if bp.config.SkipEmptyRows && isEmptyRecord(record) {
			continue
		}

		if bp.config.MaxFieldSize > 0 {
			for i, field := range record {
				if len(field) > bp.config.MaxFieldSize {
					return nil, errors.ParseError(errors.CodeInvalidData, parseCtx.File, parseCtx.LineNumber,
						fmt.Sprintf("field_%d", i), field[:50]+"...", fmt.Errorf("field size limit exceeded")).
						WithSuggestion(fmt.Sprintf("Reduce field size to under %d bytes", bp.config.MaxFieldSize))
				}
			}
		}
		return record, nil
	}
}

func asCSVError(err error, target **csv.ParseError) bool {
	perr, ok := err.(*csv.ParseError)
	if ok {
		*target = perr
	}
	return ok
}

// isEmptyRecord checks if all fields in a record are empty or whitespace
func isEmptyRecord(record []string) bool {
	for _, field := range record {
		if strings.TrimSpace(field) != "" {
			return false
		}
	}
	return true
}

// fieldValue returns the trimmed field at index, or "" when the row is short
func fieldValue(record []string, index int) string {
	if index < 0 || index >= len(record) {
		return ""
	}
	return strings.TrimSpace(record[index])
}

// ParseStats holds statistics about a parsing operation
type ParseStats struct {
	File          string             `json:"file"`
	Layout        string             `json:"layout"`
	TotalLines    int                `json:"total_lines"`
	RecordsParsed int                `json:"records_parsed"`
	RecordsValid  int                `json:"records_valid"`
	Groups        int                `json:"groups"`
	Errors        []*errors.RowError `json:"-"`
}

// ErrorCount returns the number of bad rows
func (ps *ParseStats) ErrorCount() int {
	return len(ps.Errors)
}

// HasErrors returns true if there were any bad rows
func (ps *ParseStats) HasErrors() bool {
	return len(ps.Errors) > 0
}

// String returns a human-readable summary of parsing statistics
func (ps *ParseStats) String() string {
	return fmt.Sprintf("%s: parsed %d records (%d valid) into %d groups, %d errors",
		ps.File, ps.RecordsParsed, ps.RecordsValid, ps.Groups, len(ps.Errors))
}

// GetSampleErrors returns a sample of the row errors for logging
func (ps *ParseStats) GetSampleErrors(maxSamples int) []string {
	if len(ps.Errors) == 0 {
		return nil
	}
	limit := len(ps.Errors)
	if maxSamples > 0 && maxSamples < limit {
		limit = maxSamples
	}
	samples := make([]string, 0, limit)
	for _, e := range ps.Errors[:limit] {
		samples = append(samples, e.Error())
	}
	return samples
}
