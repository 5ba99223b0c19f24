// Package nodes holds the node definitions shipped with propsheet.
package nodes

import (
	"fmt"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/registry"
)

// Option endpoints served by the catalog backend.
const (
	URLRoles         = "/v1/options/roles"
	URLDatabases     = "/v1/options/databases"
	URLSchemas       = "/v1/options/schemas"
	URLTables        = "/v1/options/tables"
	URLColumns       = "/v1/options/columns"
	URLAccessMethods = "/v1/options/access_methods"
	URLOpClasses     = "/v1/options/opclasses"

	// URLSecLabelProviders serves collection rows rather than options.
	URLSecLabelProviders = "/v1/options/seclabel_providers"
)

// Register adds every shipped node to reg.
func Register(reg *registry.Registry) error {
	for _, n := range []registry.Node{
		Publication(),
		JobStep(),
		Schema(),
		Index(),
	} {
		if err := reg.Register(n); err != nil {
			return err
		}
	}
	return nil
}

// NewRegistry returns a registry holding the shipped nodes.
func NewRegistry() (*registry.Registry, error) {
	reg := registry.New()
	if err := Register(reg); err != nil {
		return nil, err
	}
	return reg, nil
}

// filterBy returns a Transform keeping rows whose column equals the state
// value of stateKey. Rows are mapped with their label and value columns.
func filterBy(column, stateKey string) func([]model.RawRow, model.State) ([]model.Option, error) {
	return func(rows []model.RawRow, st model.State) ([]model.Option, error) {
		want := st.String(stateKey)
		out := make([]model.Option, 0, len(rows))
		for _, row := range rows {
			if fmt.Sprint(row[column]) != want {
				continue
			}
			out = append(out, rowOption(row))
		}
		return out, nil
	}
}

func rowOption(row model.RawRow) model.Option {
	o := model.Option{Value: row["value"]}
	if l, ok := row["label"].(string); ok {
		o.Label = l
	} else {
		o.Label = fmt.Sprint(row["value"])
	}
	if img, ok := row["image"].(string); ok {
		o.Image = img
	}
	return o
}

func isNew(idAttr string) model.Predicate {
	return func(s model.State) bool { return model.IsEmpty(s[idAttr]) }
}

func notNew(idAttr string) model.Predicate {
	return model.Not(isNew(idAttr))
}

func parentIsNew(idAttr string) model.RowPredicate {
	return func(_, parent model.State) bool { return model.IsEmpty(parent[idAttr]) }
}
