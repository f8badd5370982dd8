package parsers

import (
	"bytes"
	"context"
	"encoding/csv"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/internal/models"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/errors"
	"github.com/vinnycsouza/repositorio-pessoal-Vinicius.Carneiro/pkg/logger"
)

// Layout names reported in ParseStats
const (
	LayoutLong    = "long"
	LayoutMonthly = "monthly"
)

// Parser turns payroll files into reconciliation groups
type Parser struct {
	base   *BaseParser
	config *ParseConfig
	layout *LayoutConfig
	logger logger.Logger
}

// NewParser creates a parser; nil arguments use the defaults
func NewParser(config *ParseConfig, layout *LayoutConfig) (*Parser, error) {
	if config == nil {
		config = DefaultParseConfig()
	}
	if layout == nil {
		layout = DefaultLayoutConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if err := layout.Validate(); err != nil {
		return nil, errors.ConfigurationError(errors.CodeInvalidConfig, "layout", layout, err)
	}

	return &Parser{
		base:   NewBaseParser(config),
		config: config,
		layout: layout,
		logger: logger.WithComponent("parser"),
	}, nil
}

// ParseFile parses a .csv, .xlsx or .xls file
func (p *Parser) ParseFile(ctx context.Context, path string) ([]models.Group, *ParseStats, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".csv" || ext == ".txt" {
		file, reader, err := p.base.OpenFile(path)
		if err != nil {
			return nil, nil, err
		}
		defer file.Close()
		return p.parseCSV(ctx, reader, filepath.Base(path))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil, errors.FileError(errors.CodeFileNotFound, path, err)
		}
		return nil, nil, errors.FileError(errors.CodeFilePermission, path, err)
	}
	return p.ParseReader(ctx, bytes.NewReader(data), filepath.Base(path))
}

// ParseReader parses an upload; the format comes from the extension of name
func (p *Parser) ParseReader(ctx context.Context, r io.Reader, name string) ([]models.Group, *ParseStats, error) {
	p.logger.WithField("file", name).Debug("Parsing payroll input")

	switch strings.ToLower(filepath.Ext(name)) {
	case ".csv", ".txt":
		reader, err := p.base.NewReader(r, name)
		if err != nil {
			return nil, nil, err
		}
		return p.parseCSV(ctx, reader, name)
	case ".xlsx", ".xlsm":
		sheets, err := readXLSX(r, name)
		if err != nil {
			return nil, nil, err
		}
		return p.parseWorkbook(ctx, sheets, name)
	case ".xls":
		sheets, err := readXLS(r, name)
		if err != nil {
			return nil, nil, err
		}
		return p.parseWorkbook(ctx, sheets, name)
	}
	return nil, nil, errors.FileError(errors.CodeUnsupportedFormat, name, nil).
		WithSuggestion("use a .csv, .xlsx or .xls file")
}

func (p *Parser) parseCSV(ctx context.Context, reader *csv.Reader, name string) ([]models.Group, *ParseStats, error) {
	pc := NewParseContext(ctx, name, p.config.MaxErrors)
	stats := &ParseStats{File: name, Layout: LayoutLong}
	b := newGroupBuilder(name)

	src := &csvSource{base: p.base, reader: reader, pc: pc}
	if err := p.parseLong(pc, src, false, b, stats); err != nil {
		return nil, stats, err
	}
	return p.finish(pc, b, stats)
}

func (p *Parser) finish(pc *ParseContext, b *groupBuilder, stats *ParseStats) ([]models.Group, *ParseStats, error) {
	groups := b.build()
	stats.TotalLines = pc.LineNumber
	stats.Groups = len(groups)
	stats.Errors = pc.Errors.Errors()

	log := p.logger.WithFields(logger.Fields{
		"file":    stats.File,
		"layout":  stats.Layout,
		"records": stats.RecordsParsed,
		"groups":  stats.Groups,
		"errors":  stats.ErrorCount(),
	})
	if stats.HasErrors() {
		log.WithField("sample", stats.GetSampleErrors(3)).Warn("Parsed with rejected rows")
	} else {
		log.Debug("Parsed payroll input")
	}

	if len(groups) == 0 {
		err := errors.ValidationError(errors.CodeMissingField, "groups", stats.File, nil).
			WithSuggestion("the file has no usable rows")
		if stats.HasErrors() {
			return nil, stats, rejectedRows(pc)
		}
		return nil, stats, err
	}
	return groups, stats, nil
}

type csvSource struct {
	base   *BaseParser
	reader *csv.Reader
	pc     *ParseContext
}

func (s *csvSource) next() ([]string, error) {
	return s.base.ReadRecord(s.reader, s.pc)
}

// sheetSource walks the rows of an in-memory sheet, skipping blank rows
type sheetSource struct {
	rows [][]string
	pos  int
	pc   *ParseContext
}

func (s *sheetSource) next() ([]string, error) {
	for s.pos < len(s.rows) {
		if s.pc.IsCancelled() {
			return nil, errors.ReconciliationError(errors.CodeSearchCancelled, "sheet parsing", s.pc.ctx.Err())
		}
		row := s.rows[s.pos]
		s.pos++
		s.pc.LineNumber = s.pos
		if !isEmptyRecord(row) {
			return row, nil
		}
	}
	return nil, io.EOF
}
