// Package params reads the JSON file that names the md.ai project, dataset,
// domain and label identifiers an upload targets.
package params

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os/user"
	"path/filepath"
	"sort"
	"strings"

	"cloud.google.com/go/storage"
	"github.com/carbocation/segupload"
)

type Parameters struct {
	ConfigPath string `json:"-"`

	ProjectID string `json:"mdai_project_id"`
	DatasetID string `json:"mdai_dataset_id"`
	Domain    string `json:"mdai_domain"`

	// LabelIDs maps a human-readable label name to the md.ai label ID.
	LabelIDs map[string]string `json:"mdai_label_ids"`
}

// ParseFromPath reads and validates a parameters file from a local or gs://
// path. A leading ~ is expanded to the home directory.
func ParseFromPath(path string, client *storage.Client) (Parameters, error) {
	path = expandHomeDir(path)
	out := Parameters{ConfigPath: path}

	raw, err := segupload.ReadAllFromLocalOrGoogleStorage(path, client)
	if err != nil {
		return out, err
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	if err := dec.Decode(&out); err != nil {
		if e, ok := err.(*json.SyntaxError); ok {
			log.Printf("syntax error at byte offset %d", e.Offset)
		}

		return out, &segupload.ConfigurationError{Path: path, Err: err}
	}
	out.ConfigPath = path

	return out, out.Validate()
}

// Validate fails on the first missing field.
func (p Parameters) Validate() error {
	required := []struct {
		field string
		value string
	}{
		{"mdai_project_id", p.ProjectID},
		{"mdai_dataset_id", p.DatasetID},
		{"mdai_domain", p.Domain},
	}

	for _, r := range required {
		if strings.TrimSpace(r.value) == "" {
			return &segupload.ConfigurationError{Path: p.ConfigPath, Field: r.field, Err: fmt.Errorf("missing or empty")}
		}
	}

	if len(p.LabelIDs) == 0 {
		return &segupload.ConfigurationError{Path: p.ConfigPath, Field: "mdai_label_ids", Err: fmt.Errorf("missing or empty")}
	}

	return nil
}

// LabelID resolves a label name to its md.ai label ID.
func (p Parameters) LabelID(name string) (string, error) {
	id, exists := p.LabelIDs[name]
	if !exists || id == "" {
		return "", &segupload.ConfigurationError{
			Path:  p.ConfigPath,
			Field: "mdai_label_ids",
			Err:   fmt.Errorf("no label named %q; known labels: %s", name, strings.Join(p.LabelNames(), ", ")),
		}
	}

	return id, nil
}

// LabelNames lists the configured label names alphabetically.
func (p Parameters) LabelNames() []string {
	out := make([]string, 0, len(p.LabelIDs))
	for k := range p.LabelIDs {
		out = append(out, k)
	}
	sort.Strings(out)

	return out
}

// Via https://stackoverflow.com/a/17617721/199475
func expandHomeDir(path string) string {
	usr, err := user.Current()
	if err != nil {
		return path
	}

	dir := usr.HomeDir

	if path == "~" {
		// In case of "~", which won't be caught by the "else if"
		path = dir
	} else if strings.HasPrefix(path, "~/") {
		// Use strings.HasPrefix so we don't match paths like
		// "/something/~/something/"
		path = filepath.Join(dir, path[2:])
	}

	return path
}
