package nodes

import (
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/registry"
)

// Server versions that change the publication form.
const (
	pgVersionTruncate      = 110000
	pgVersionPartitionRoot = 130000
	pgVersionPubSchema     = 150000
)

// Publication describes a logical replication publication.
func Publication() registry.Node {
	return registry.Node{
		Type:       "publication",
		Label:      "Publication",
		CacheLevel: model.CacheDatabase,
		URL:        "/v1/objects/publication",
		Schema:     publicationSchema,
	}
}

func allTable(s model.State) bool { return s.Bool("all_table") }

// isAllTable clears the table and schema selections once the publication
// covers all tables.
func isAllTable(s model.State, _ []string) model.Patch {
	if !allTable(s) {
		return nil
	}
	return model.Patch{
		"pubtable":       []any{},
		"pubtable_names": "",
		"pubschema":      model.Undefined,
	}
}

func publicationTableSchema() *model.Schema {
	return &model.Schema{Fields: []*model.Field{
		{ID: "table_name", Label: "Table", Type: model.FieldTypeSelect, NoEmpty: true,
			URL: URLTables, CacheLevel: model.CacheDatabase},
		{ID: "columns", Label: "Columns", Type: model.FieldTypeMultiSelect,
			URL: URLColumns, CacheLevel: model.CacheDatabase,
			Transform: filterBy("table", "table_name"),
			Deps:      []string{"table_name"},
			DepChange: func(s model.State, _ []string) model.Patch {
				if model.IsEmpty(s["table_name"]) {
					return model.Patch{"columns": []any{}}
				}
				return nil
			}},
		{ID: "where", Label: "Where", Type: model.FieldTypeText},
	}}
}

func publicationSchema(opts registry.FieldOptions) *model.Schema {
	version := opts.ServerVersion
	return &model.Schema{
		NodeType:    "publication",
		IDAttribute: "oid",
		Fields: []*model.Field{
			{ID: "name", Label: "Name", Type: model.FieldTypeText, NoEmpty: true},
			{ID: "oid", Label: "OID", Type: model.FieldTypeText, Mode: model.Modes(model.ModeProperties)},
			{ID: "pubowner", Label: "Owner", Type: model.FieldTypeSelect,
				URL: URLRoles, CacheLevel: model.CacheServer,
				Mode: model.Modes(model.ModeEdit, model.ModeProperties)},
			{ID: "all_table", Label: "All tables?", Type: model.FieldTypeSwitch, Group: "Definition",
				Default: false, Readonly: notNew("oid")},
			{ID: "only_table", Label: "Only table?", Type: model.FieldTypeSwitch, Group: "Definition",
				Default: false, Deps: []string{"all_table"},
				Disabled: allTable,
				DepChange: func(s model.State, _ []string) model.Patch {
					if allTable(s) {
						return model.Patch{"only_table": false}
					}
					return nil
				}},
			{ID: "pubschema", Label: "Tables in schema", Type: model.FieldTypeMultiSelect, Group: "Definition",
				MinVersion: pgVersionPubSchema,
				URL:        URLSchemas, CacheLevel: model.CacheDatabase,
				Deps:     []string{"all_table"},
				Disabled: allTable},
			{ID: "pubtable", Label: "Tables", Type: model.FieldTypeMultiSelect, Group: "Definition",
				URL: URLTables, CacheLevel: model.CacheDatabase,
				Deps:      []string{"all_table"},
				Disabled:  allTable,
				DepChange: isAllTable,
				UniqueCol: []string{"table_name"},
				TypeFn: func(model.State) model.Variant {
					if version >= pgVersionPubSchema {
						return model.Variant{Type: model.FieldTypeCollection, Schema: publicationTableSchema()}
					}
					return model.Variant{}
				}},
			{ID: "pubtable_names", Label: "Tables", Type: model.FieldTypeText, Group: "Definition",
				Mode: model.Modes(model.ModeProperties), Deps: []string{"all_table"}},
			{ID: "with", Label: "With", Type: model.FieldTypeNestedFieldset, Schema: &model.Schema{Fields: []*model.Field{
				{ID: "evnt_insert", Label: "INSERT", Type: model.FieldTypeSwitch, Group: "With", Default: true},
				{ID: "evnt_update", Label: "UPDATE", Type: model.FieldTypeSwitch, Group: "With", Default: true},
				{ID: "evnt_delete", Label: "DELETE", Type: model.FieldTypeSwitch, Group: "With", Default: true},
				{ID: "evnt_truncate", Label: "TRUNCATE", Type: model.FieldTypeSwitch, Group: "With", Default: true,
					MinVersion: pgVersionTruncate},
				{ID: "publish_via_partition_root", Label: "Publish via root?", Type: model.FieldTypeSwitch, Group: "With",
					Default: false, MinVersion: pgVersionPartitionRoot},
			}}},
		},
	}
}
