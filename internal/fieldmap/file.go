package fieldmap

import (
	"os"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/cadence-import/internal/model"
)

// knownAttributes is the set of scalar attributes a seed file may target.
var knownAttributes = map[model.Attribute]bool{
	model.AttrID:                 true,
	model.AttrFirstName:          true,
	model.AttrLastName:           true,
	model.AttrJobPosition:        true,
	model.AttrLinkedinURL:        true,
	model.AttrURL:                true,
	model.AttrOwnerID:            true,
	model.AttrAccountID:          true,
	model.AttrAccountName:        true,
	model.AttrAccountSize:        true,
	model.AttrAccountCountry:     true,
	model.AttrAccountZipcode:     true,
	model.AttrAccountPhoneNumber: true,
	model.AttrAccountURL:         true,
}

// LoadFile reads field maps from a YAML seed file. The file has a top-level
// "field_maps" list.
func LoadFile(path string) ([]model.FieldMap, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "fieldmap: read %s", path)
	}
	return Parse(data)
}

// Parse decodes and checks a YAML field map document.
func Parse(data []byte) ([]model.FieldMap, error) {
	var wrapper struct {
		FieldMaps []model.FieldMap `yaml:"field_maps"`
	}
	if err := yaml.Unmarshal(data, &wrapper); err != nil {
		return nil, eris.Wrap(err, "fieldmap: parse yaml")
	}

	for i, fm := range wrapper.FieldMaps {
		if fm.CompanyID <= 0 {
			return nil, eris.Errorf("fieldmap: entry %d: company_id is required", i)
		}
		if !fm.IntegrationType.Valid() {
			return nil, eris.Errorf("fieldmap: entry %d: unknown integration type %q", i, fm.IntegrationType)
		}
		for attr := range fm.Scalars {
			if !knownAttributes[attr] {
				return nil, eris.Errorf("fieldmap: entry %d: unknown attribute %q", i, attr)
			}
		}
		for _, slot := range append(append([]model.Slot{}, fm.Phones...), fm.Emails...) {
			if slot.Column == "" {
				return nil, eris.Errorf("fieldmap: entry %d: slot %q has no column", i, slot.Type)
			}
		}
	}
	return wrapper.FieldMaps, nil
}
