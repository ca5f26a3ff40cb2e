package dataset

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"io/fs"
)

//go:generate curl -fsSL -o data/optdigits.tes https://archive.ics.uci.edu/ml/machine-learning-databases/optdigits/optdigits.tes

//go:embed data
var bundled embed.FS

const bundledFile = "data/optdigits.tes"

// Bundled reports whether the optdigits reference file is embedded in the binary.
func Bundled() bool {
	_, err := fs.Stat(bundled, bundledFile)

	return err == nil
}

// Reference returns the embedded optdigits test set, the canonical 1797 sample digits.
// When the file was not vendored at build time the built-in generator stands in.
func Reference() (Dataset, error) {
	data, err := bundled.ReadFile(bundledFile)
	if errors.Is(err, fs.ErrNotExist) {
		return Digits(), nil
	}
	if err != nil {
		return Dataset{}, fmt.Errorf("reading bundled digits: %w", err)
	}
	d, err := ReadOptdigits(bytes.NewReader(data))
	if err != nil {
		return Dataset{}, fmt.Errorf("bundled digits: %w", err)
	}

	return d, nil
}
