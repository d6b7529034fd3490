package store

import (
	"fmt"
	"math/rand"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	ierr "github.com/jsbattig/code-indexer-sub032/internal/errors"
)

// MatrixFileName is the projection matrix artifact inside a collection.
const MatrixFileName = "projection_matrix.yaml"

// ProjectionMatrix is an R x B random matrix that maps a full embedding to
// a B-bit sign code. It is generated once per collection from a fixed seed
// and never regenerated; the YAML form keeps it readable across versions.
type ProjectionMatrix struct {
	Dimension int         `yaml:"dimension"`
	Bits      int         `yaml:"bits"`
	Seed      int64       `yaml:"seed"`
	Rows      [][]float64 `yaml:"rows"`
}

// NewProjectionMatrix generates a matrix deterministically from the seed.
// The same (dim, bits, seed) triple always yields identical codes.
func NewProjectionMatrix(dim, bits int, seed int64) (*ProjectionMatrix, error) {
	if dim <= 0 {
		return nil, ierr.InvalidInput(fmt.Sprintf("projection dimension must be positive, got %d", dim))
	}
	if bits <= 0 || bits%8 != 0 {
		return nil, ierr.InvalidInput(fmt.Sprintf("projection bits must be a positive multiple of 8, got %d", bits))
	}

	rng := rand.New(rand.NewSource(seed))
	rows := make([][]float64, dim)
	for i := range rows {
		row := make([]float64, bits)
		for j := range row {
			row[j] = rng.NormFloat64()
		}
		rows[i] = row
	}

	return &ProjectionMatrix{Dimension: dim, Bits: bits, Seed: seed, Rows: rows}, nil
}

// CodeWidth returns the packed code size in bytes.
func (m *ProjectionMatrix) CodeWidth() int { return m.Bits / 8 }

// Project packs the sign of v . M[:,j] for each column j into bytes,
// LSB-first within each byte.
func (m *ProjectionMatrix) Project(v []float32) ([]byte, error) {
	if len(v) != m.Dimension {
		return nil, ierr.DimensionMismatch(m.Dimension, len(v))
	}

	code := make([]byte, m.CodeWidth())
	for j := 0; j < m.Bits; j++ {
		var dot float64
		for i, x := range v {
			dot += float64(x) * m.Rows[i][j]
		}
		if dot >= 0 {
			code[j/8] |= 1 << uint(j%8)
		}
	}
	return code, nil
}

// Save writes the matrix atomically to dir/projection_matrix.yaml.
func (m *ProjectionMatrix) Save(dir string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("failed to encode projection matrix: %w", err)
	}

	path := filepath.Join(dir, MatrixFileName)
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write projection matrix: %w", err)
	}
	return os.Rename(tmp, path)
}

// LoadProjectionMatrix reads dir/projection_matrix.yaml. A missing matrix
// is fatal for the collection (codes cannot be recomputed without it).
func LoadProjectionMatrix(dir string) (*ProjectionMatrix, error) {
	path := filepath.Join(dir, MatrixFileName)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ierr.New(ierr.ErrCodeMatrixMissing,
				fmt.Sprintf("projection matrix missing at %s", path), err)
		}
		return nil, fmt.Errorf("failed to read projection matrix: %w", err)
	}

	var m ProjectionMatrix
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, ierr.CorruptArtifact("projection matrix is not valid yaml", err)
	}
	if m.Dimension <= 0 || m.Bits <= 0 || len(m.Rows) != m.Dimension {
		return nil, ierr.CorruptArtifact(
			fmt.Sprintf("projection matrix shape invalid: dim=%d bits=%d rows=%d", m.Dimension, m.Bits, len(m.Rows)), nil)
	}
	return &m, nil
}
