// Package sopuid reads the slice index to SOPInstanceUID mapping recorded when
// the DICOM series was converted to a volume.
package sopuid

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"

	"cloud.google.com/go/storage"
	"github.com/carbocation/segupload"
	"gopkg.in/guregu/null.v3"
)

// MetadataKey is the field of the volume metadata file that holds the
// mapping.
const MetadataKey = "SOPInstanceUIDs"

// Map relates a zero-based slice index to the SOPInstanceUID of that slice.
type Map map[int]string

func (m Map) Len() int {
	return len(m)
}

func (m Map) Lookup(i int) (string, bool) {
	uid, ok := m[i]
	return uid, ok
}

// Gaps lists the indexes in 0..n-1 that have no SOPInstanceUID.
func (m Map) Gaps(n int) []int {
	var out []int
	for i := 0; i < n; i++ {
		if _, ok := m[i]; !ok {
			out = append(out, i)
		}
	}

	return out
}

// Indexes returns the mapped slice indexes in ascending order.
func (m Map) Indexes() []int {
	out := make([]int, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Ints(out)

	return out
}

// Load reads the mapping from a local or gs:// JSON file. A missing file
// yields a *segupload.MissingFileError.
func Load(path string, client *storage.Client) (Map, error) {
	raw, err := segupload.ReadAllFromLocalOrGoogleStorage(path, client)
	if err != nil {
		return nil, err
	}

	out, err := FromMetadata(raw)
	if err != nil {
		return nil, &segupload.ConfigurationError{Path: path, Err: err}
	}

	return out, nil
}

// FromMetadata parses the mapping. It accepts the metadata object written by
// the DICOM ingest step ({"SOPInstanceUIDs": {"0": "..."}}), a bare object
// keyed by slice index, or a JSON array ordered by slice index. A null UID
// leaves its slice unmapped, the same as an absent key.
func FromMetadata(raw []byte) (Map, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, fmt.Errorf("empty metadata")
	}

	if raw[0] == '[' {
		var uids []null.String
		if err := json.Unmarshal(raw, &uids); err != nil {
			return nil, err
		}

		out := make(Map, len(uids))
		for i, uid := range uids {
			if uid.Valid {
				out[i] = uid.String
			}
		}

		return out, nil
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err != nil {
		return nil, err
	}

	if nested, exists := obj[MetadataKey]; exists {
		return FromMetadata(nested)
	}

	out := make(Map, len(obj))
	for k, v := range obj {
		idx, err := strconv.Atoi(k)
		if err != nil {
			return nil, fmt.Errorf("slice index %q is not an integer", k)
		}
		if idx < 0 {
			return nil, fmt.Errorf("slice index %d is negative", idx)
		}

		var uid null.String
		if err := json.Unmarshal(v, &uid); err != nil {
			return nil, fmt.Errorf("slice %d: %w", idx, err)
		}
		if !uid.Valid {
			continue
		}

		out[idx] = uid.String
	}

	return out, nil
}
