// Package annotation pairs each slice of a segmentation volume with its
// SOPInstanceUID and hands the resulting records to an annotation importer.
package annotation

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/carbocation/segupload"
	"github.com/carbocation/segupload/mask"
	"github.com/carbocation/segupload/sopuid"
	"github.com/carbocation/segupload/volume"
	"gopkg.in/guregu/null.v3"
)

// Record is one annotation as ingested by the annotation service. A slice
// with no known SOPInstanceUID keeps a null SOPInstanceUID; whether the
// service rejects or drops it is up to the service.
type Record struct {
	LabelID        string          `json:"labelId"`
	SOPInstanceUID null.String     `json:"SOPInstanceUID"`
	Data           json.RawMessage `json:"data"`
}

// Failure is a record the service did not accept.
type Failure struct {
	// Index of the record in the submitted batch, or -1 if unknown.
	Index  int             `json:"index"`
	Record json.RawMessage `json:"annotation,omitempty"`
	Reason string          `json:"reason,omitempty"`
}

func (f Failure) String() string {
	if f.Reason == "" {
		return fmt.Sprintf("annotation %d: %s", f.Index, f.Record)
	}

	return fmt.Sprintf("annotation %d: %s", f.Index, f.Reason)
}

// Importer submits a batch of annotation records to a project and dataset and
// reports which records failed.
type Importer interface {
	ImportAnnotations(ctx context.Context, records []Record, projectID, datasetID string) ([]Failure, error)
}

// Target names where the annotations go and which label they carry.
type Target struct {
	ProjectID string
	DatasetID string
	LabelID   string
}

// Build produces one record per slice of vol, in slice order, each carrying
// labelID, the SOPInstanceUID recorded for that slice, and the encoded slice
// mask. No records are produced if the slice count and the number of UIDs
// disagree.
func Build(vol volume.Volume, uids sopuid.Map, labelID string, enc mask.Encoder) ([]Record, error) {
	if vol.Slices() != uids.Len() {
		return nil, &segupload.ShapeError{Rank: 3, Slices: vol.Slices(), UIDs: uids.Len()}
	}

	if gaps := uids.Gaps(vol.Slices()); len(gaps) > 0 {
		log.Printf("No SOPInstanceUID for slice(s) %v; submitting them with a null SOPInstanceUID\n", gaps)
	}

	records := make([]Record, 0, vol.Slices())
	for i := 0; i < vol.Slices(); i++ {
		data, err := enc.EncodeMask(vol.Slice(i))
		if err != nil {
			return nil, fmt.Errorf("slice %d: %w", i, err)
		}

		uid, ok := uids.Lookup(i)

		records = append(records, Record{
			LabelID:        labelID,
			SOPInstanceUID: null.NewString(uid, ok),
			Data:           data,
		})
	}

	return records, nil
}

// Upload builds the records for vol and submits them in a single import
// call, returning the failures the importer reports.
func Upload(ctx context.Context, vol volume.Volume, uids sopuid.Map, target Target, enc mask.Encoder, imp Importer) ([]Failure, error) {
	records, err := Build(vol, uids, target.LabelID, enc)
	if err != nil {
		return nil, err
	}

	return imp.ImportAnnotations(ctx, records, target.ProjectID, target.DatasetID)
}
