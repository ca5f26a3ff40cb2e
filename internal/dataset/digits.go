// Package dataset provides the reference digits dataset the workflow trains on.
//
// The reference set is the UCI optdigits test set embedded from data/optdigits.tes:
// 1797 grey-level 8x8 images of handwritten digits, one feature per pixel with values in
// 0..16. Digits renders a deterministic stand-in of the same shape from fixed glyph
// templates, used when the file was not vendored. LoadOptdigits reads any file of the
// optdigits layout.
package dataset

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"os"
	"strconv"
	"strings"

	"github.com/greatdevaks/datahour-mlops-airflow/internal/tabular"
)

const (
	// Side is the image side in pixels.
	Side = 8
	// Features is the number of features per sample.
	Features = Side * Side
	// Classes is the number of digit classes.
	Classes = 10
	// MaxValue is the largest pixel value.
	MaxValue = 16

	seed = 1797
)

// classCounts is the number of samples per digit.
var classCounts = [Classes]int{178, 182, 177, 183, 181, 182, 181, 179, 174, 180}

// partner is the digit an ambiguous sample of a class is blended with.
var partner = [Classes]int{6, 7, 7, 8, 9, 6, 5, 1, 3, 4}

// glyphs are the templates, one rune per pixel: . - + * # map to 0 4 8 12 16.
var glyphs = [Classes][Side]string{
	{
		"..+##+..",
		".*#--#*.",
		".#+..+#.",
		"+#....#+",
		"+#....#+",
		".#+..+#.",
		".*#--#*.",
		"..+##+..",
	},
	{
		"...+#...",
		"..*##...",
		".+*##...",
		"...##...",
		"...##...",
		"...##...",
		"...##...",
		"..+##+..",
	},
	{
		"..*##*..",
		".#*..*#.",
		".....+#.",
		"....+#*.",
		"...+#*..",
		"..+#*...",
		".+#*....",
		".######.",
	},
	{
		".*###*..",
		".-...*#.",
		".....+#.",
		"..+##*..",
		".....+#.",
		".....+#.",
		".-...*#.",
		".*###*..",
	},
	{
		"....+#..",
		"...+##..",
		"..+*##..",
		".+*.##..",
		"+*..##..",
		"*######*",
		"....##..",
		"....##..",
	},
	{
		".######.",
		".#......",
		".#......",
		".####*..",
		".....*#.",
		"......#.",
		".-...*#.",
		".*###*..",
	},
	{
		"...*##..",
		"..#*....",
		".#*.....",
		".####*..",
		".#*..*#.",
		".#....#.",
		".*#..*#.",
		"..*##*..",
	},
	{
		".######.",
		"......#.",
		".....+#.",
		"....+#..",
		"...+#...",
		"...#+...",
		"..+#....",
		"..#+....",
	},
	{
		"..*##*..",
		".#*..*#.",
		".#*..*#.",
		"..*##*..",
		".*#..#*.",
		".#....#.",
		".#*..*#.",
		"..*##*..",
	},
	{
		"..*##*..",
		".#*..*#.",
		".#....#.",
		".*#..*#.",
		"..*####.",
		".....*#.",
		"....*#..",
		"..*#*...",
	},
}

// ErrFormat is wrapped by every optdigits parsing failure.
var ErrFormat = errors.New("dataset: malformed optdigits data")

// Dataset is a feature matrix with its index-aligned labels.
type Dataset struct {
	X tabular.Matrix
	Y []int
}

// Len returns the number of samples.
func (d Dataset) Len() int { return len(d.Y) }

// Load returns the reference digits when source is empty, the optdigits file at source
// otherwise.
func Load(source string) (Dataset, error) {
	if source == "" {
		return Reference()
	}

	return LoadOptdigits(source)
}

// Digits returns the generated stand-in dataset. Every call returns the same values.
func Digits() Dataset {
	rng := rand.New(rand.NewSource(seed))

	total := 0
	for _, c := range classCounts {
		total += c
	}
	remaining := classCounts

	rows := make([][]float64, 0, total)
	labels := make([]int, 0, total)
	for digit := 0; len(labels) < total; digit = (digit + 1) % Classes {
		if remaining[digit] == 0 {
			continue
		}
		remaining[digit]--

		// one writer in forty draws a digit halfway to its look-alike
		blend := 0.0
		if len(labels)%40 == 39 {
			blend = 0.55 + 0.35*rng.Float64()
		}
		rows = append(rows, render(rng, digit, blend))
		labels = append(labels, digit)
	}

	return Dataset{X: tabular.Matrix{Rows: rows, Cols: Features}, Y: labels}
}

func pixel(digit, r, c int) float64 {
	if r < 0 || r >= Side || c < 0 || c >= Side {
		return 0
	}
	switch glyphs[digit][r][c] {
	case '-':
		return 4
	case '+':
		return 8
	case '*':
		return 12
	case '#':
		return 16
	default:
		return 0
	}
}

// shift draws -1, 0 or +1 with probabilities 1/4, 1/2, 1/4.
func shift(rng *rand.Rand) int {
	switch rng.Intn(4) {
	case 0:
		return -1
	case 1:
		return 1
	default:
		return 0
	}
}

func render(rng *rand.Rand, digit int, blend float64) []float64 {
	dx, dy := shift(rng), shift(rng)
	stroke := 0.75 + 0.4*rng.Float64()
	other := partner[digit]

	out := make([]float64, Features)
	for r := 0; r < Side; r++ {
		for c := 0; c < Side; c++ {
			v := (1-blend)*pixel(digit, r-dy, c-dx) + blend*pixel(other, r-dy, c-dx)
			v = stroke*v + 1.5*rng.NormFloat64()
			out[r*Side+c] = math.Max(0, math.Min(MaxValue, math.Round(v)))
		}
	}

	return out
}

// LoadOptdigits reads a UCI optdigits file: per line, 64 integer features in 0..16
// followed by the class label.
func LoadOptdigits(path string) (Dataset, error) {
	f, err := os.Open(path)
	if err != nil {
		return Dataset{}, fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	return ReadOptdigits(f)
}

// ReadOptdigits parses the optdigits layout from r.
func ReadOptdigits(r io.Reader) (Dataset, error) {
	cr := csv.NewReader(bufio.NewReader(r))
	cr.FieldsPerRecord = Features + 1
	cr.TrimLeadingSpace = true

	var d Dataset
	d.X.Cols = Features
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Dataset{}, fmt.Errorf("%w: %w", ErrFormat, err)
		}
		line, _ := cr.FieldPos(0)
		row := make([]float64, Features)
		for j, s := range rec[:Features] {
			v, err := strconv.Atoi(strings.TrimSpace(s))
			if err != nil || v < 0 || v > MaxValue {
				return Dataset{}, fmt.Errorf("%w: line %d feature %d: %q", ErrFormat, line, j, s)
			}
			row[j] = float64(v)
		}
		label, err := strconv.Atoi(strings.TrimSpace(rec[Features]))
		if err != nil || label < 0 || label >= Classes {
			return Dataset{}, fmt.Errorf("%w: line %d label: %q", ErrFormat, line, rec[Features])
		}
		d.X.Rows = append(d.X.Rows, row)
		d.Y = append(d.Y, label)
	}
	if d.Len() == 0 {
		return Dataset{}, fmt.Errorf("%w: no samples", ErrFormat)
	}

	return d, nil
}
