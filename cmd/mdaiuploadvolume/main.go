// mdaiuploadvolume uploads a 3D segmentation mask to md.ai as one annotation
// per slice. The DICOM series must already be in md.ai, and the slice index to
// SOPInstanceUID mapping must have been saved when the series was converted
// to a volume.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"cloud.google.com/go/storage"
	"github.com/carbocation/segupload"
	"github.com/carbocation/segupload/annotation"
	"github.com/carbocation/segupload/compileinfo"
	"github.com/carbocation/segupload/mask"
	"github.com/carbocation/segupload/mdai"
	"github.com/carbocation/segupload/params"
	"github.com/carbocation/segupload/sopuid"
	"github.com/carbocation/segupload/volume"
)

type options struct {
	InputAnnotation     string
	LabelName           string
	SOPInstanceUIDsFile string
	Parameters          string

	Encoding       string
	Value          float64
	DryRun         bool
	GCSCredentials string
	Version        bool
}

func parseFlags(fs *flag.FlagSet, args []string) (options, error) {
	var o options

	fs.StringVar(&o.InputAnnotation, "input_annotation", "", "Path to the segmentation image to upload: .nii/.nii.gz, a .tar.gz or folder of 2D slices, or a multi-frame GIF. May be a gs:// path.")
	fs.StringVar(&o.InputAnnotation, "i", "", "Shorthand for -input_annotation")
	fs.StringVar(&o.LabelName, "label_name", "", "Label name corresponding to the annotation. Must be a key of mdai_label_ids in the parameters file.")
	fs.StringVar(&o.LabelName, "l", "", "Shorthand for -label_name")
	fs.StringVar(&o.SOPInstanceUIDsFile, "sop_instance_uids_file", "", "JSON file with the slice index to SOPInstanceUID mapping saved when the DICOM series was converted to a volume.")
	fs.StringVar(&o.Parameters, "parameters", "", "JSON file with mdai_project_id, mdai_dataset_id, mdai_label_ids and mdai_domain.")
	fs.StringVar(&o.Parameters, "p", "", "Shorthand for -parameters")
	fs.StringVar(&o.Encoding, "encoding", mask.EncodingContour, "Mask encoding for the annotation data: contour or rle.")
	fs.Float64Var(&o.Value, "value", 0, "(Optional) Only voxels with this value are foreground. 0 means every non-zero voxel.")
	fs.BoolVar(&o.DryRun, "dry-run", false, "(Optional) Print the annotations as JSON instead of uploading them.")
	fs.StringVar(&o.GCSCredentials, "gcs-credentials", "", "(Optional) Service account JSON for reading gs:// inputs. Defaults to application default credentials.")
	fs.BoolVar(&o.Version, "version", false, "Print build information and exit.")

	if err := fs.Parse(args); err != nil {
		return o, err
	}

	if o.Version {
		return o, nil
	}

	missing := []struct {
		name  string
		value string
	}{
		{"input_annotation", o.InputAnnotation},
		{"label_name", o.LabelName},
		{"sop_instance_uids_file", o.SOPInstanceUIDsFile},
		{"parameters", o.Parameters},
	}
	for _, m := range missing {
		if m.value == "" {
			return o, fmt.Errorf("-%s is required", m.name)
		}
	}

	return o, nil
}

func main() {
	o, err := parseFlags(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Println(err)
		flag.Usage()
		os.Exit(1)
	}

	if o.Version {
		compileinfo.Fprint(os.Stdout)
		return
	}

	compileinfo.PrintToStdErr()

	start := time.Now()
	log.Println("mdaiuploadvolume start")

	code := mainWithExitCode(o)

	log.Printf("mdaiuploadvolume end. Took %.2f seconds\n", time.Since(start).Seconds())
	os.Exit(code)
}

func mainWithExitCode(o options) int {
	ctx := context.Background()

	var client *storage.Client
	if segupload.IsGoogleStoragePath(o.InputAnnotation) || segupload.IsGoogleStoragePath(o.SOPInstanceUIDsFile) || segupload.IsGoogleStoragePath(o.Parameters) {
		var err error
		client, err = segupload.NewStorageClient(ctx, o.GCSCredentials)
		if err != nil {
			log.Println(err)
			return 1
		}
		defer client.Close()
	}

	p, err := params.ParseFromPath(o.Parameters, client)
	if err != nil {
		reportError(err)
		return 1
	}

	labelID, err := p.LabelID(o.LabelName)
	if err != nil {
		reportError(err)
		return 1
	}

	var importer annotation.Importer
	if o.DryRun {
		importer = printingImporter{w: os.Stdout}
	} else {
		token, err := mdai.AccessTokenFromEnv()
		if err != nil {
			reportError(err)
			return 1
		}

		mdaiClient, err := mdai.NewClient(p.Domain, token)
		if err != nil {
			reportError(err)
			return 1
		}
		importer = mdaiClient
	}

	target := annotation.Target{ProjectID: p.ProjectID, DatasetID: p.DatasetID, LabelID: labelID}

	failures, err := run(ctx, o, target, importer, client)
	if err != nil {
		reportError(err)
		return 1
	}

	return report(failures, os.Stdout)
}

// run loads the slice mapping and the volume, then builds and imports one
// annotation per slice.
func run(ctx context.Context, o options, target annotation.Target, importer annotation.Importer, client *storage.Client) ([]annotation.Failure, error) {
	enc, err := mask.EncoderByName(o.Encoding)
	if err != nil {
		return nil, err
	}

	uids, err := sopuid.Load(o.SOPInstanceUIDsFile, client)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d SOPInstanceUIDs from %s\n", uids.Len(), o.SOPInstanceUIDsFile)

	vol, err := volume.FromFile(o.InputAnnotation, uids, client)
	if err != nil {
		return nil, err
	}
	log.Printf("Read %d slices of %dx%d from %s\n", vol.Slices(), vol.Width(), vol.Height(), o.InputAnnotation)

	if o.Value != 0 {
		vol = vol.Select(o.Value)
	}

	return annotation.Upload(ctx, vol, uids, target, enc, importer)
}

// report prints the outcome and returns the process exit code.
func report(failures []annotation.Failure, w io.Writer) int {
	if len(failures) == 0 {
		fmt.Fprintln(w, "All annotations uploaded successfully.")
		return 0
	}

	fmt.Fprintf(w, "Failed annotations (%d):\n", len(failures))
	for _, f := range failures {
		fmt.Fprintln(w, f)
	}

	return 1
}

func reportError(err error) {
	var (
		missing *segupload.MissingFileError
		conf    *segupload.ConfigurationError
		shape   *segupload.ShapeError
		dim     *segupload.DimensionError
	)

	switch {
	case errors.As(err, &missing):
		log.Printf("Missing file: %v\n", err)
	case errors.As(err, &conf):
		log.Printf("Configuration error: %v\n", err)
	case errors.As(err, &shape):
		log.Printf("Shape error: %v\n", err)
	case errors.As(err, &dim):
		log.Printf("Dimension error: %v\n", err)
	default:
		log.Println(err)
	}
}

// printingImporter writes the records as JSON instead of uploading them.
type printingImporter struct {
	w io.Writer
}

func (p printingImporter) ImportAnnotations(ctx context.Context, records []annotation.Record, projectID, datasetID string) ([]annotation.Failure, error) {
	enc := json.NewEncoder(p.w)
	enc.SetIndent("", "  ")

	err := enc.Encode(struct {
		ProjectID   string              `json:"projectHashId"`
		DatasetID   string              `json:"datasetHashId"`
		Annotations []annotation.Record `json:"annotations"`
	}{projectID, datasetID, records})

	return nil, err
}
