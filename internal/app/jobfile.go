package app

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	config "github.com/tigerroll/promptbatch/pkg/batch/core/config"
	model "github.com/tigerroll/promptbatch/pkg/batch/core/domain/model"
	configbinder "github.com/tigerroll/promptbatch/pkg/batch/support/util/configbinder"
)

// jobOverrides are command line values that replace job file entries when set.
type jobOverrides struct {
	DataFile  string
	Fields    string
	StartPos  int
	EndPos    int
	BatchSize int
}

// loadJobFile reads a YAML or JSON job file holding a start request
// (dataFile, selectedFields, apiConfig, promptConfig, options). ${VAR}
// references are expanded from the environment.
func loadJobFile(path string) (model.StartRequest, error) {
	var req model.StartRequest
	raw, err := os.ReadFile(path)
	if err != nil {
		return req, fmt.Errorf("read job file: %w", err)
	}
	if raw, err = config.NewOsEnvironmentExpander().Expand(raw); err != nil {
		return req, err
	}
	var doc map[string]interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return req, fmt.Errorf("parse job file %s: %w", path, err)
	}
	if err := configbinder.BindJSON(doc, &req); err != nil {
		return req, fmt.Errorf("bind job file %s: %w", path, err)
	}
	return req, nil
}

// apply merges the overrides into req.
func (o jobOverrides) apply(req *model.StartRequest) error {
	if o.DataFile != "" {
		req.DataFile = o.DataFile
	}
	if o.Fields != "" {
		fields, err := parseFields(o.Fields)
		if err != nil {
			return err
		}
		req.SelectedFields = fields
	}
	if o.StartPos > 0 {
		req.Options.StartPos = o.StartPos
	}
	if o.EndPos > 0 {
		end := o.EndPos
		req.Options.EndPos = &end
	}
	if o.BatchSize > 0 {
		req.Options.BatchSize = o.BatchSize
	}
	return nil
}

// parseFields parses a comma separated list of column indexes.
func parseFields(s string) ([]int, error) {
	parts := strings.Split(s, ",")
	fields := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, fmt.Errorf("invalid field index %q", p)
		}
		fields = append(fields, n)
	}
	return fields, nil
}
