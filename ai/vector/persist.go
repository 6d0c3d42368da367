package vector

import (
	"encoding/binary"
	"encoding/json"
	"math"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
)

// The persisted index is a pair of co-located artifacts inside one
// directory: a binary vector blob and a JSON record map. The two are
// always written and read as a matched pair; a cardinality mismatch on
// load is a hard error.
const (
	indexFileName   = "index.bin"
	recordsFileName = "records.json"

	indexMagic   = "TSIX"
	indexVersion = uint32(1)
)

// Persist serializes the full index into dir, replacing any previous pair.
// Both artifacts are written to temp files first and renamed into place,
// so a crash mid-write leaves either the old pair or a detectably
// incomplete one.
func (s *Store) Persist(dir string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if err := os.MkdirAll(dir, 0770); err != nil {
		return errors.Wrapf(err, "failed to create index dir %s", dir)
	}

	blob := make([]byte, 0, 16+len(s.vectors)*s.dim*4)
	blob = append(blob, indexMagic...)
	blob = binary.LittleEndian.AppendUint32(blob, indexVersion)
	blob = binary.LittleEndian.AppendUint32(blob, uint32(s.dim))
	blob = binary.LittleEndian.AppendUint32(blob, uint32(len(s.vectors)))
	for _, vec := range s.vectors {
		for _, v := range vec {
			blob = binary.LittleEndian.AppendUint32(blob, math.Float32bits(v))
		}
	}

	recordsJSON, err := json.Marshal(s.records)
	if err != nil {
		return errors.Wrap(err, "failed to marshal records")
	}

	if err := writeFileAtomic(filepath.Join(dir, indexFileName), blob); err != nil {
		return err
	}
	return writeFileAtomic(filepath.Join(dir, recordsFileName), recordsJSON)
}

// Load deserializes a persisted pair from dir into a fresh Store.
// Structural inconsistencies between the two artifacts return
// ErrCorruptIndex; a missing pair returns the underlying fs error so
// callers can distinguish "absent" from "corrupt".
func Load(dir string) (*Store, error) {
	blob, err := os.ReadFile(filepath.Join(dir, indexFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read index blob")
	}
	recordsJSON, err := os.ReadFile(filepath.Join(dir, recordsFileName))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read record map")
	}

	if len(blob) < 16 || string(blob[:4]) != indexMagic {
		return nil, errors.Wrap(ErrCorruptIndex, "bad index header")
	}
	if v := binary.LittleEndian.Uint32(blob[4:8]); v != indexVersion {
		return nil, errors.Wrapf(ErrCorruptIndex, "unsupported index version %d", v)
	}
	dim := int(binary.LittleEndian.Uint32(blob[8:12]))
	count := int(binary.LittleEndian.Uint32(blob[12:16]))
	if dim <= 0 {
		return nil, errors.Wrapf(ErrCorruptIndex, "invalid dimension %d", dim)
	}

	data := blob[16:]
	if len(data) != count*dim*4 {
		return nil, errors.Wrapf(ErrCorruptIndex, "vector blob size %d does not match %d x %d", len(data), count, dim)
	}

	var records []Record
	if err := json.Unmarshal(recordsJSON, &records); err != nil {
		return nil, errors.Wrap(ErrCorruptIndex, err.Error())
	}
	if len(records) != count {
		return nil, errors.Wrapf(ErrCorruptIndex, "record map has %d entries, index blob has %d vectors", len(records), count)
	}

	s := New(dim)
	s.vectors = make([][]float32, count)
	for i := 0; i < count; i++ {
		vec := make([]float32, dim)
		for j := 0; j < dim; j++ {
			bits := binary.LittleEndian.Uint32(data[(i*dim+j)*4:])
			vec[j] = math.Float32frombits(bits)
		}
		s.vectors[i] = vec
	}
	s.records = records
	return s, nil
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0660); err != nil {
		return errors.Wrapf(err, "failed to write %s", tmp)
	}
	if err := os.Rename(tmp, path); err != nil {
		return errors.Wrapf(err, "failed to rename %s", tmp)
	}
	return nil
}
