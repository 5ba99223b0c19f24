package nodes

import (
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/registry"
)

// MsgIndexColumns is reported when an index has no columns.
const MsgIndexColumns = "You must specify at least one column."

// Index describes a table index.
func Index() registry.Node {
	return registry.Node{
		Type:       "index",
		Label:      "Index",
		CacheLevel: model.CacheSchema,
		URL:        "/v1/objects/index",
		Schema:     indexSchema,
	}
}

func btree(s model.State) bool {
	am := s.String("amname")
	return am == "" || am == "btree"
}

// parentBtree reads the owning index's access method from a row state during
// row dependency evaluation.
func parentBtree(row model.State) bool {
	am := row.String(model.ParentPrefix + "amname")
	return am == "" || am == "btree"
}

// followAccessMethod resets a sort switch when the index stops being btree.
func followAccessMethod(id string) func(model.State, []string) model.Patch {
	return func(s model.State, _ []string) model.Patch {
		if parentBtree(s) {
			return nil
		}
		return model.Patch{id: false}
	}
}

func indexColumnSchema() *model.Schema {
	return &model.Schema{Fields: []*model.Field{
		{ID: "colname", Label: "Column", Type: model.FieldTypeSelect, NoEmpty: true,
			URL: URLColumns, CacheLevel: model.CacheDatabase,
			Transform: filterBy("table", "table")},
		{ID: "op_class", Label: "Operator class", Type: model.FieldTypeSelect,
			URL: URLOpClasses, CacheLevel: model.CacheDatabase,
			Deps:      []string{"../amname"},
			Transform: filterBy("amname", "amname"),
			// Operator classes belong to one access method.
			DepChange: func(model.State, []string) model.Patch {
				return model.Patch{"op_class": model.Undefined}
			}},
		{ID: "sort_order", Label: "Sort order", Type: model.FieldTypeSwitch, Default: false,
			Control:   "toggle:ASC/DESC",
			Deps:      []string{"../amname"},
			DepChange: followAccessMethod("sort_order"),
			Editable:  func(_, parent model.State) bool { return btree(parent) }},
		{ID: "nulls", Label: "NULLs", Type: model.FieldTypeSwitch, Default: false,
			Control:   "toggle:LAST/FIRST",
			Deps:      []string{"../amname"},
			DepChange: followAccessMethod("nulls"),
			Editable:  func(_, parent model.State) bool { return btree(parent) }},
	}}
}

func indexSchema(registry.FieldOptions) *model.Schema {
	return &model.Schema{
		NodeType:    "index",
		IDAttribute: "oid",
		Fields: []*model.Field{
			{ID: "name", Label: "Name", Type: model.FieldTypeText},
			{ID: "oid", Label: "OID", Type: model.FieldTypeText, Mode: model.Modes(model.ModeProperties)},
			{ID: "table", Label: "Table", Type: model.FieldTypeSelect, NoEmpty: true,
				URL: URLTables, CacheLevel: model.CacheDatabase, Readonly: notNew("oid")},
			{ID: "amname", Label: "Access method", Type: model.FieldTypeSelect, Default: "btree",
				URL: URLAccessMethods, CacheLevel: model.CacheServer, Readonly: notNew("oid")},
			{ID: "columns", Label: "Columns", Type: model.FieldTypeCollection, Group: "Definition",
				Schema:    indexColumnSchema(),
				UniqueCol: []string{"colname"},
				Deps:      []string{"table"},
				CanAdd:    isNew("oid"),
				CanDelete: parentIsNew("oid"),
				CanEdit:   parentIsNew("oid"),
				DepChange: func(model.State, []string) model.Patch {
					// Columns belong to one table.
					return model.Patch{"columns": []any{}}
				}},
			{ID: "fillfactor", Label: "Fill factor", Type: model.FieldTypeInt, Group: "Definition",
				Validate: func(v any, _ model.State) string {
					n, ok := toInt(v)
					if model.IsEmpty(v) {
						return ""
					}
					if !ok || n < 10 || n > 100 {
						return "Fill factor must be between 10 and 100."
					}
					return ""
				}},
			{ID: "indisunique", Label: "Unique?", Type: model.FieldTypeSwitch, Group: "Definition",
				Default: false, Readonly: notNew("oid")},
			{ID: "indisclustered", Label: "Clustered?", Type: model.FieldTypeSwitch, Group: "Definition", Default: false},
			{ID: "description", Label: "Comment", Type: model.FieldTypeMultiline},
		},
		Validator: func(s model.State, errs model.ErrorMap) bool {
			if len(s.Rows("columns")) == 0 {
				errs.Set("columns", MsgIndexColumns)
				return true
			}
			return false
		},
	}
}

func toInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		if n != float64(int(n)) {
			return 0, false
		}
		return int(n), true
	}
	return 0, false
}
