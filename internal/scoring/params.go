package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/secscorehq/secscore/pkg/models"
)

// ParamTable maps a category tag to its Asymmetric Laplace parameters.
// The "default" key is mandatory and serves as the fallback for unknown
// categories.
type ParamTable map[string]models.ModelParams

// LoadParams parses an AL parameter table from JSON and validates that
// the default entry is present.
func LoadParams(data []byte) (ParamTable, error) {
	var table ParamTable
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse model parameters: %w", err)
	}
	if _, ok := table[CategoryDefault]; !ok {
		return nil, fmt.Errorf("model parameters missing mandatory %q entry", CategoryDefault)
	}
	return table, nil
}

// ForCategory returns the parameters for a category, falling back to
// the default entry when the category has no dedicated tuning.
func (t ParamTable) ForCategory(category string) models.ModelParams {
	if p, ok := t[category]; ok {
		return p
	}
	return t[CategoryDefault]
}
