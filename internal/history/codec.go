package history

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"

	"github.com/johnayoung/go-kline-cache/internal/models"
)

// csvHeader is the column order of a cached series.
var csvHeader = []string{"Open", "High", "Low", "Close", "Volume", "Amount", "Timestamp"}

// Encode writes series as CSV with a header row.
func Encode(series models.Series) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, err
	}
	record := make([]string, len(csvHeader))
	for _, c := range series {
		record[0] = formatFloat(c.Open)
		record[1] = formatFloat(c.High)
		record[2] = formatFloat(c.Low)
		record[3] = formatFloat(c.Close)
		record[4] = formatFloat(c.Volume)
		record[5] = formatFloat(c.Amount)
		record[6] = strconv.FormatInt(c.Timestamp, 10)
		if err := w.Write(record); err != nil {
			return nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode parses CSV written by Encode. The result is normalized.
func Decode(data []byte) (models.Series, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = len(csvHeader)
	r.ReuseRecord = true

	header, err := r.Read()
	if err == io.EOF {
		return models.Series{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	for i, name := range csvHeader {
		if header[i] != name {
			return nil, fmt.Errorf("unexpected column %d: got %q, want %q", i, header[i], name)
		}
	}

	series := models.Series{}
	for line := 2; ; line++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		var c models.Candle
		values := []*float64{&c.Open, &c.High, &c.Low, &c.Close, &c.Volume, &c.Amount}
		for i, v := range values {
			if *v, err = strconv.ParseFloat(record[i], 64); err != nil {
				return nil, fmt.Errorf("line %d column %s: %w", line, csvHeader[i], err)
			}
		}
		if c.Timestamp, err = strconv.ParseInt(record[6], 10, 64); err != nil {
			return nil, fmt.Errorf("line %d column Timestamp: %w", line, err)
		}
		series = append(series, c)
	}
	return models.Normalize(series), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
