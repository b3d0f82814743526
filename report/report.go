package report

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gosom/scrapemate"
	"github.com/gosom/scrapemate/adapters/writers/csvwriter"
	"github.com/gosom/scrapemate/adapters/writers/jsonwriter"

	"github.com/gosom/exposure-monitor/pipeline"
	"github.com/gosom/exposure-monitor/serp"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatCSV, FormatJSON, FormatXLSX:
		return f, nil
	default:
		return "", fmt.Errorf("unknown report format %q", s)
	}
}

// utf8BOM lets spreadsheet tools detect the encoding of CSV files.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

func newWriter(w io.Writer, format Format) (scrapemate.ResultWriter, error) {
	switch format {
	case FormatCSV:
		return csvwriter.NewCsvWriter(csv.NewWriter(w)), nil
	case FormatJSON:
		return jsonwriter.NewJSONWriter(w), nil
	default:
		return nil, fmt.Errorf("format %q is not a stream format", format)
	}
}

// run feeds data through a scrapemate result writer.
func run(ctx context.Context, writer scrapemate.ResultWriter, data []any) error {
	in := make(chan scrapemate.Result)
	errc := make(chan error, 1)

	go func() {
		errc <- writer.Run(ctx, in)
	}()

	for _, d := range data {
		select {
		case in <- scrapemate.Result{Data: d}:
		case err := <-errc:
			return err
		case <-ctx.Done():
			close(in)
			<-errc

			return ctx.Err()
		}
	}

	close(in)

	return <-errc
}

// WriteMatches writes exposures as CSV or JSON lines.
func WriteMatches(ctx context.Context, w io.Writer, format Format, matches []serp.ExposureMatch) error {
	writer, err := newWriter(w, format)
	if err != nil {
		return err
	}

	data := make([]any, len(matches))
	for i := range matches {
		data[i] = &matches[i]
	}

	return run(ctx, writer, data)
}

// WriteOutcomes writes one row per keyword.
func WriteOutcomes(ctx context.Context, w io.Writer, format Format, outcomes []pipeline.Outcome) error {
	writer, err := newWriter(w, format)
	if err != nil {
		return err
	}

	data := make([]any, len(outcomes))
	for i := range outcomes {
		data[i] = &outcomes[i]
	}

	return run(ctx, writer, data)
}

// WriteFiles writes the batch report into dir and returns the created paths.
func WriteFiles(ctx context.Context, dir string, format Format, rep *pipeline.Report) ([]string, error) {
	if err := os.MkdirAll(dir, os.ModePerm); err != nil {
		return nil, err
	}

	if format == FormatXLSX {
		path := filepath.Join(dir, rep.BatchID+".xlsx")

		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}

		defer f.Close()

		if err := WriteXLSX(f, rep); err != nil {
			return nil, err
		}

		return []string{path}, nil
	}

	matches := rep.Matches()

	files := []struct {
		name  string
		write func(io.Writer) error
	}{
		{
			name: rep.BatchID + "-exposures." + string(format),
			write: func(w io.Writer) error {
				return WriteMatches(ctx, w, format, matches)
			},
		},
		{
			name: rep.BatchID + "-keywords." + string(format),
			write: func(w io.Writer) error {
				return WriteOutcomes(ctx, w, format, rep.Outcomes)
			},
		},
	}

	var paths []string

	for _, file := range files {
		path := filepath.Join(dir, file.name)

		if err := writeFile(path, format, file.write); err != nil {
			return paths, err
		}

		paths = append(paths, path)
	}

	return paths, nil
}

func writeFile(path string, format Format, write func(io.Writer) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	defer f.Close()

	if format == FormatCSV {
		if _, err := f.Write(utf8BOM); err != nil {
			return fmt.Errorf("failed to write UTF-8 BOM: %w", err)
		}
	}

	if err := write(f); err != nil {
		return err
	}

	return f.Close()
}
