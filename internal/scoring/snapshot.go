package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"credit-engine/internal/drift"
	"credit-engine/internal/fairness"
	"credit-engine/internal/features"
	"credit-engine/internal/ml"
	"credit-engine/internal/training"

	"github.com/klauspost/compress/zstd"
)

// Snapshot is the serialized form of a trained model.
type Snapshot struct {
	Version     string                     `json:"version"`
	TrainedAt   time.Time                  `json:"trained_at"`
	Features    []string                   `json:"features"`
	Ensemble    *ml.Ensemble               `json:"ensemble"`
	Performance training.PerformanceReport `json:"performance"`
	Bias        fairness.BiasReport        `json:"bias"`
	Importance  training.ImportanceTable   `json:"importance"`
	Baseline    *drift.Baseline            `json:"baseline,omitempty"`
}

var (
	encoder, _ = zstd.NewWriter(nil)
	decoder, _ = zstd.NewReader(nil)
)

// Snapshot returns the serializable state of the installed model.
func (m *Model) Snapshot() (Snapshot, error) {
	st := m.current.Load()
	if st == nil {
		return Snapshot{}, fmt.Errorf("snapshot: %w", ml.ErrNotTrained)
	}
	return Snapshot{
		Version:     st.version,
		TrainedAt:   st.trainedAt,
		Features:    schema(),
		Ensemble:    st.ensemble,
		Performance: st.performance,
		Bias:        st.bias,
		Importance:  st.importance,
		Baseline:    st.baseline,
	}, nil
}

// MarshalBinary encodes the installed model as zstd-compressed JSON.
func (m *Model) MarshalBinary() ([]byte, error) {
	snap, err := m.Snapshot()
	if err != nil {
		return nil, err
	}
	raw, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encode snapshot: %w", err)
	}
	return encoder.EncodeAll(raw, make([]byte, 0, len(raw)/4)), nil
}

// UnmarshalBinary decodes a blob produced by MarshalBinary and installs it.
// The blob must have been trained on the current feature schema.
func (m *Model) UnmarshalBinary(data []byte) error {
	raw, err := decoder.DecodeAll(data, nil)
	if err != nil {
		return fmt.Errorf("decompress snapshot: %w", err)
	}

	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return fmt.Errorf("decode snapshot: %w", err)
	}
	if !slices.Equal(snap.Features, features.Names[:]) {
		return fmt.Errorf("snapshot features %v do not match schema: %w", snap.Features,
			&ml.SchemaMismatchError{Got: len(snap.Features), Want: features.Count})
	}
	if !snap.Ensemble.Trained() {
		return fmt.Errorf("snapshot: %w", ml.ErrNotTrained)
	}
	if snap.Ensemble.Width() != features.Count {
		return &ml.SchemaMismatchError{Got: snap.Ensemble.Width(), Want: features.Count}
	}
	if snap.Baseline != nil && snap.Baseline.Width() != features.Count {
		return fmt.Errorf("snapshot drift baseline: %w",
			&ml.SchemaMismatchError{Got: snap.Baseline.Width(), Want: features.Count})
	}

	m.install(&state{
		ensemble:    snap.Ensemble,
		performance: snap.Performance,
		bias:        snap.Bias,
		importance:  snap.Importance,
		baseline:    snap.Baseline,
		version:     snap.Version,
		trainedAt:   snap.TrainedAt,
	})
	return nil
}

// Save writes the installed model to path. The file is replaced atomically.
func (m *Model) Save(path string) error {
	data, err := m.MarshalBinary()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create model directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".model-*")
	if err != nil {
		return fmt.Errorf("create temp model file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write model: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close model file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replace model file: %w", err)
	}

	m.logger.Info().Str("path", path).Int("bytes", len(data)).Msg("model saved")
	return nil
}

// Load reads a model written by Save and installs it.
func (m *Model) Load(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read model %s: %w", path, err)
	}
	if err := m.UnmarshalBinary(data); err != nil {
		return fmt.Errorf("load model %s: %w", path, err)
	}
	return nil
}
