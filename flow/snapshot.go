package flow

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/Noofbiz/subhaloflow/normalize"
)

// SnapshotVersion is bumped whenever the on-disk layout changes.
const SnapshotVersion = 1

// ErrSnapshotMismatch is returned by Load when a snapshot does not match the
// architecture it is being loaded into.
var ErrSnapshotMismatch = errors.New("flow: snapshot does not match configuration")

type snapshot struct {
	Version      int
	RunID        string
	CreatedAt    time.Time
	Layers       int
	HiddenLayers int
	Width        int
	L2           float64
	Masks        []Mask
	Bounds       normalize.Bounds
	Params       [][]float64
}

// SnapshotInfo is the metadata stored alongside the parameters.
type SnapshotInfo struct {
	RunID     string
	CreatedAt time.Time
	Layers    int
}

// Save writes f and the normalization bounds it was trained under to path.
// The file is written to a temporary name and renamed into place.
func Save(path string, f *Flow, b normalize.Bounds) error {
	if err := b.Validate(); err != nil {
		return errors.Wrap(err, "saving snapshot")
	}
	if b.Dim() != Dim {
		return errors.Wrapf(ErrShape, "bounds cover %d features, expected %d", b.Dim(), Dim)
	}
	snap := snapshot{
		Version:      SnapshotVersion,
		RunID:        uuid.NewString(),
		CreatedAt:    time.Now().UTC(),
		Layers:       f.cfg.Layers,
		HiddenLayers: f.cfg.HiddenLayers,
		Width:        f.cfg.Width,
		L2:           f.cfg.L2,
		Masks:        f.Masks(),
		Bounds:       b.Clone(),
		Params:       f.params(),
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return errors.Wrapf(err, "creating %s", dir)
		}
	}
	tmp := path + ".tmp"
	fh, err := os.Create(tmp)
	if err != nil {
		return errors.Wrapf(err, "creating %s", tmp)
	}
	if err := gob.NewEncoder(fh).Encode(&snap); err != nil {
		fh.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "encoding snapshot")
	}
	if err := fh.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "closing %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return errors.Wrapf(err, "renaming %s", tmp)
	}
	return nil
}

// Load reads a snapshot written by Save into a flow built from cfg. The
// layer count, sub-network shape and masks must match; the training
// hyperparameters in cfg are kept as given.
func Load(path string, cfg Config) (*Flow, normalize.Bounds, error) {
	f, b, _, err := LoadWithInfo(path, cfg)
	return f, b, err
}

// LoadWithInfo is Load that also returns the snapshot metadata.
func LoadWithInfo(path string, cfg Config) (*Flow, normalize.Bounds, SnapshotInfo, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, normalize.Bounds{}, SnapshotInfo{}, errors.Wrapf(err, "opening %s", path)
	}
	defer fh.Close()

	var snap snapshot
	if err := gob.NewDecoder(fh).Decode(&snap); err != nil {
		return nil, normalize.Bounds{}, SnapshotInfo{}, errors.Wrapf(err, "decoding %s", path)
	}
	info := SnapshotInfo{RunID: snap.RunID, CreatedAt: snap.CreatedAt, Layers: snap.Layers}

	if snap.Version != SnapshotVersion {
		return nil, normalize.Bounds{}, info, errors.Wrapf(ErrSnapshotMismatch, "version %d, expected %d", snap.Version, SnapshotVersion)
	}
	f, err := New(cfg)
	if err != nil {
		return nil, normalize.Bounds{}, info, err
	}
	if err := f.checkSnapshot(&snap); err != nil {
		return nil, normalize.Bounds{}, info, err
	}
	if err := snap.Bounds.Validate(); err != nil {
		return nil, normalize.Bounds{}, info, errors.Wrap(err, "snapshot bounds")
	}

	params := f.params()
	for k, p := range params {
		copy(p, snap.Params[k])
	}
	return f, snap.Bounds, info, nil
}

func (f *Flow) checkSnapshot(snap *snapshot) error {
	c := f.cfg
	switch {
	case snap.Layers != c.Layers:
		return errors.Wrapf(ErrSnapshotMismatch, "%d layers, expected %d", snap.Layers, c.Layers)
	case snap.HiddenLayers != c.HiddenLayers:
		return errors.Wrapf(ErrSnapshotMismatch, "%d hidden layers, expected %d", snap.HiddenLayers, c.HiddenLayers)
	case snap.Width != c.Width:
		return errors.Wrapf(ErrSnapshotMismatch, "width %d, expected %d", snap.Width, c.Width)
	case len(snap.Masks) != len(f.layers):
		return errors.Wrapf(ErrSnapshotMismatch, "%d masks for %d layers", len(snap.Masks), len(f.layers))
	}
	for l, m := range snap.Masks {
		if m != f.layers[l].Mask {
			return errors.Wrapf(ErrSnapshotMismatch, "layer %d mask %v, expected %v", l, m, f.layers[l].Mask)
		}
	}
	params := f.params()
	if len(snap.Params) != len(params) {
		return errors.Wrapf(ErrSnapshotMismatch, "%d parameter tensors, expected %d", len(snap.Params), len(params))
	}
	for k, p := range params {
		if len(snap.Params[k]) != len(p) {
			return errors.Wrapf(ErrSnapshotMismatch, "parameter tensor %d has %d values, expected %d", k, len(snap.Params[k]), len(p))
		}
	}
	return nil
}
