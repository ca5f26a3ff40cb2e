package model

import (
	"bufio"
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"os"
)

// FormatVersion is the artifact layout written by Encode.
const FormatVersion byte = 1

var magic = []byte("MNISTMDL")

// ErrArtifact is wrapped by every decoding failure.
var ErrArtifact = errors.New("model: invalid artifact")

// Encode writes m to w: the magic header, the format version, then the gob encoded model.
func Encode(w io.Writer, m *Model) error {
	if err := m.validate(); err != nil {
		return err
	}
	bw := bufio.NewWriter(w)
	if _, err := bw.Write(magic); err != nil {
		return err
	}
	if err := bw.WriteByte(FormatVersion); err != nil {
		return err
	}
	if err := gob.NewEncoder(bw).Encode(m); err != nil {
		return fmt.Errorf("model: encoding: %w", err)
	}

	return bw.Flush()
}

// Decode reads a model written by Encode.
func Decode(r io.Reader) (*Model, error) {
	br := bufio.NewReader(r)
	head := make([]byte, len(magic)+1)
	if _, err := io.ReadFull(br, head); err != nil {
		return nil, fmt.Errorf("%w: reading header: %w", ErrArtifact, err)
	}
	if !bytes.Equal(head[:len(magic)], magic) {
		return nil, fmt.Errorf("%w: unknown header %q", ErrArtifact, head[:len(magic)])
	}
	if v := head[len(magic)]; v != FormatVersion {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrArtifact, v)
	}

	var m Model
	if err := gob.NewDecoder(br).Decode(&m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}
	if err := m.validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrArtifact, err)
	}

	return &m, nil
}

// validate checks that the model's slices agree in size.
func (m *Model) validate() error {
	k, d := len(m.Classes), len(m.Mean)
	switch {
	case k < 2:
		return fmt.Errorf("%w: %d classes", ErrClasses, k)
	case d == 0 || len(m.Scale) != d:
		return fmt.Errorf("%w: scaler has %d means and %d scales", ErrShape, d, len(m.Scale))
	case len(m.Coef) != k || len(m.Intercept) != k:
		return fmt.Errorf("%w: %d coefficient rows and %d intercepts for %d classes", ErrShape, len(m.Coef), len(m.Intercept), k)
	}
	for c, row := range m.Coef {
		if len(row) != d {
			return fmt.Errorf("%w: coefficient row %d has %d values, expected %d", ErrShape, c, len(row), d)
		}
	}
	for j, s := range m.Scale {
		if s == 0 {
			return fmt.Errorf("%w: zero scale for feature %d", ErrShape, j)
		}
	}

	return nil
}

// WriteFile encodes m to path.
func WriteFile(path string, m *Model) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()

	return Encode(f, m)
}

// ReadFile decodes the model stored at path.
func ReadFile(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Decode(f)
}
