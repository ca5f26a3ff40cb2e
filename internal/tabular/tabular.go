// Package tabular reads and writes numeric matrices as comma separated text.
//
// The first line is a header holding the column indices (0,1,...,n-1), followed by one
// line per row. Values are written with the shortest representation that parses back
// to the same float64, so Read(Write(m)) == m.
package tabular

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"strconv"
)

// ErrMalformed is wrapped by every decoding failure.
var ErrMalformed = errors.New("tabular: malformed data")

// Matrix is a dense row-major matrix. The empty matrix has no rows and no columns.
type Matrix struct {
	Rows [][]float64
	Cols int
}

// NewMatrix validates that every row has the same length.
func NewMatrix(rows [][]float64) (Matrix, error) {
	if len(rows) == 0 {
		return Matrix{}, nil
	}
	cols := len(rows[0])
	for i, r := range rows {
		if len(r) != cols {
			return Matrix{}, fmt.Errorf("%w: row %d has %d columns, expected %d", ErrMalformed, i, len(r), cols)
		}
	}

	return Matrix{Rows: rows, Cols: cols}, nil
}

// Len returns the number of rows.
func (m Matrix) Len() int { return len(m.Rows) }

// Column returns a one-column matrix holding v.
func Column(v []float64) Matrix {
	rows := make([][]float64, len(v))
	for i, x := range v {
		rows[i] = []float64{x}
	}

	return Matrix{Rows: rows, Cols: 1}
}

// Labels returns a one-column matrix holding the integer labels.
func Labels(y []int) Matrix {
	rows := make([][]float64, len(y))
	for i, x := range y {
		rows[i] = []float64{float64(x)}
	}

	return Matrix{Rows: rows, Cols: 1}
}

// AsLabels returns the single column of m as integer labels.
// A matrix without rows yields an empty label vector whatever its width.
func (m Matrix) AsLabels() ([]int, error) {
	if len(m.Rows) == 0 {
		return []int{}, nil
	}
	if m.Cols != 1 {
		return nil, fmt.Errorf("%w: label vector must have one column, got %d", ErrMalformed, m.Cols)
	}
	y := make([]int, len(m.Rows))
	for i, r := range m.Rows {
		v := r[0]
		if v != math.Trunc(v) || math.IsInf(v, 0) || v > math.MaxInt32 || v < math.MinInt32 {
			return nil, fmt.Errorf("%w: label at row %d is not an integer: %v", ErrMalformed, i, v)
		}
		y[i] = int(v)
	}

	return y, nil
}

// Write encodes m to w.
func Write(w io.Writer, m Matrix) error {
	bw := bufio.NewWriter(w)
	cw := csv.NewWriter(bw)

	record := make([]string, m.Cols)
	for j := range record {
		record[j] = strconv.Itoa(j)
	}
	// a matrix without columns writes a blank header, which reads back as the empty matrix
	if err := cw.Write(record); err != nil {
		return err
	}

	for i, row := range m.Rows {
		if len(row) != m.Cols {
			return fmt.Errorf("%w: row %d has %d columns, expected %d", ErrMalformed, i, len(row), m.Cols)
		}
		for j, v := range row {
			record[j] = strconv.FormatFloat(v, 'g', -1, 64)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return err
	}

	return bw.Flush()
}

// Read decodes a matrix written by Write, or by any writer producing a header line
// followed by numeric rows of the header's width.
func Read(r io.Reader) (Matrix, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.ReuseRecord = true

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return Matrix{}, nil
	}
	if err != nil {
		return Matrix{}, fmt.Errorf("%w: header: %w", ErrMalformed, err)
	}
	cols := len(header)
	for j, h := range header {
		if _, err := strconv.Atoi(h); err != nil {
			return Matrix{}, fmt.Errorf("%w: header column %d is not an index: %q", ErrMalformed, j, h)
		}
	}

	m := Matrix{Cols: cols}
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Matrix{}, fmt.Errorf("%w: %w", ErrMalformed, err)
		}
		line, _ := cr.FieldPos(0)
		row := make([]float64, len(rec))
		for j, s := range rec {
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return Matrix{}, fmt.Errorf("%w: line %d column %d: %q", ErrMalformed, line, j, s)
			}
			row[j] = v
		}
		m.Rows = append(m.Rows, row)
	}

	return m, nil
}

// WriteFile encodes m to path, replacing any existing file.
func WriteFile(path string, m Matrix) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return Write(f, m)
}

// ReadFile decodes the matrix stored at path.
func ReadFile(path string) (Matrix, error) {
	f, err := os.Open(path)
	if err != nil {
		return Matrix{}, err
	}
	defer f.Close()

	return Read(f)
}
