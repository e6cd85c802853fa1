// Package dataset loads validation scenario files.
//
// A dataset is either a bare list of scenarios or an object with a
// "scenarios" list, encoded as JSON or YAML:
//
//	name: structuring-smoke
//	scenarios:
//	  - id: s1
//	    payload:
//	      transaction: {type: CASH, amount: 9500}
//	      account: {id: a1, status: ACTIVE}
//	      customer: {id: c1}
//	    expected:
//	      decision: ALLOW_WITH_FLAGS
//	      flagHints: [structuring]
package dataset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// Dataset is a named, ordered list of scenarios.
type Dataset struct {
	Name      string            `json:"name,omitempty"`
	Scenarios []domain.Scenario `json:"scenarios"`
}

// Load reads a dataset from a .json, .yaml or .yml file. The file name is
// used as the dataset name when the file does not carry one.
func Load(path string) (*Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read dataset: %w", err)
	}

	var ds *Dataset
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		ds, err = ParseJSON(data)
	case ".yaml", ".yml":
		ds, err = ParseYAML(data)
	default:
		return nil, fmt.Errorf("unsupported dataset extension %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse dataset %s: %w", path, err)
	}

	if ds.Name == "" {
		ds.Name = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return ds, nil
}

// Read decodes a JSON dataset from r.
func Read(r io.Reader) (*Dataset, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return ParseJSON(data)
}

// ParseJSON decodes a JSON dataset.
func ParseJSON(data []byte) (*Dataset, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty dataset")
	}

	ds := &Dataset{}
	if data[0] == '[' {
		if err := json.Unmarshal(data, &ds.Scenarios); err != nil {
			return nil, err
		}
	} else if err := json.Unmarshal(data, ds); err != nil {
		return nil, err
	}

	fillIDs(ds.Scenarios)
	return ds, nil
}

// ParseYAML decodes a YAML dataset. YAML is bridged through JSON so that
// payload fields decode with the same rules in both formats, decimals
// included.
func ParseYAML(data []byte) (*Dataset, error) {
	var raw any
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if raw == nil {
		return nil, fmt.Errorf("empty dataset")
	}

	bridged, err := json.Marshal(raw)
	if err != nil {
		return nil, fmt.Errorf("dataset is not representable as JSON: %w", err)
	}
	return ParseJSON(bridged)
}

func fillIDs(scenarios []domain.Scenario) {
	for i := range scenarios {
		if scenarios[i].ID == "" {
			scenarios[i].ID = fmt.Sprintf("scenario-%d", i+1)
		}
	}
}
