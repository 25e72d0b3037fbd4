package extract

import (
	"context"
	"encoding/csv"
	"io"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"cryptoetl/pkg/models"
)

// CSVFile reads the local tabular source (symbol,name,price_usd,market_cap).
// It never fails: an unreadable file yields an empty batch and a warning.
type CSVFile struct {
	Path   string
	Logger *zap.Logger
}

func NewCSVFile(path string, logger *zap.Logger) *CSVFile {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVFile{Path: path, Logger: logger}
}

func (s *CSVFile) Kind() models.Source { return models.SourceCSV }

func (s *CSVFile) Fetch(ctx context.Context) ([]models.RawRecord, error) {
	rows, err := s.read(ctx)
	if err != nil {
		s.Logger.Warn("csv source unreadable, continuing with empty batch",
			zap.String("source", models.SourceCSV.String()),
			zap.String("path", s.Path),
			zap.Error(err))
		return []models.RawRecord{}, nil
	}
	return models.NewRawBatch(models.SourceCSV, rows), nil
}

func (s *CSVFile) read(ctx context.Context) ([]map[string]any, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, eris.Wrap(err, "csv: open")
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	header, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, nil
		}
		return nil, eris.Wrap(err, "csv: read header")
	}
	for i, name := range header {
		header[i] = strings.ToLower(strings.TrimSpace(strings.TrimPrefix(name, "\ufeff")))
	}

	var out []map[string]any
	for line := 2; ; line++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		row, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, eris.Wrapf(err, "csv: read line %d", line)
		}
		if isBlank(row) {
			continue
		}

		rec := make(map[string]any, len(header))
		for i, name := range header {
			if name == "" {
				continue
			}
			v := ""
			if i < len(row) {
				v = strings.TrimSpace(row[i])
			}
			rec[name] = v
		}
		out = append(out, rec)
	}
	return out, nil
}

func isBlank(row []string) bool {
	for _, v := range row {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return true
}
