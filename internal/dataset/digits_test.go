package dataset

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGlyphsAreSquare(t *testing.T) {
	for d, g := range glyphs {
		for r, row := range g {
			assert.Len(t, row, Side, "digit %d row %d", d, r)
		}
	}
}

func TestDigits_Shape(t *testing.T) {
	d := Digits()

	require.Equal(t, 1797, d.Len())
	assert.Equal(t, 1797, d.X.Len())
	assert.Equal(t, Features, d.X.Cols)

	assert.Equal(t, classCounts[:], classCountsOf(d))

	for i, row := range d.X.Rows {
		require.Len(t, row, Features)
		for _, v := range row {
			if v < 0 || v > MaxValue || v != float64(int(v)) {
				t.Fatalf("row %d holds %v, outside 0..16 integers", i, v)
			}
		}
	}
}

func TestDigits_Deterministic(t *testing.T) {
	if diff := cmp.Diff(Digits(), Digits()); diff != "" {
		t.Errorf("two calls differ:\n%s", diff)
	}
}

func classCountsOf(d Dataset) []int {
	counts := make([]int, Classes)
	for _, y := range d.Y {
		counts[y]++
	}

	return counts
}

func TestLoad_DefaultsToReference(t *testing.T) {
	d, err := Load("")
	require.NoError(t, err)

	ref, err := Reference()
	require.NoError(t, err)
	if diff := cmp.Diff(ref, d); diff != "" {
		t.Errorf("default source differs from the reference set:\n%s", diff)
	}
}

func TestReference_Shape(t *testing.T) {
	d, err := Reference()
	require.NoError(t, err)

	require.Equal(t, 1797, d.Len())
	assert.Equal(t, Features, d.X.Cols)
	assert.Equal(t, classCounts[:], classCountsOf(d))
}

func TestReference_IsTheBundledFile(t *testing.T) {
	if !Bundled() {
		t.Skip("data/optdigits.tes is not vendored, run go generate ./internal/dataset")
	}
	raw, err := bundled.ReadFile(bundledFile)
	require.NoError(t, err)
	want, err := ReadOptdigits(strings.NewReader(string(raw)))
	require.NoError(t, err)

	got, err := Reference()
	require.NoError(t, err)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("reference set mismatch:\n%s", diff)
	}
}

// optdigitsLine builds a sample whose first pixel is value and the rest are blank.
func optdigitsLine(value, label int) string {
	fields := make([]string, Features+1)
	for i := range fields {
		fields[i] = "0"
	}
	fields[0] = strconv.Itoa(value)
	fields[Features] = strconv.Itoa(label)

	return strings.Join(fields, ",")
}

func TestLoadOptdigits(t *testing.T) {
	path := filepath.Join(t.TempDir(), "optdigits.tra")
	content := optdigitsLine(5, 3) + "\n" + optdigitsLine(9, 7) + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	d, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, []int{3, 7}, d.Y)
	assert.Equal(t, 5.0, d.X.Rows[0][0])
	assert.Equal(t, 9.0, d.X.Rows[1][0])
	assert.Equal(t, Features, d.X.Cols)
}

func TestReadOptdigits_Malformed(t *testing.T) {
	tests := map[string]string{
		"empty":          "",
		"too few fields": "1,2,3\n",
		"label range":    optdigitsLine(1, 12) + "\n",
		"value range":    optdigitsLine(17, 1) + "\n",
		"negative value": optdigitsLine(-1, 1) + "\n",
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := ReadOptdigits(strings.NewReader(in))
			assert.ErrorIs(t, err, ErrFormat)
		})
	}

	_, err := LoadOptdigits(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
