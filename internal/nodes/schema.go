package nodes

import (
	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/registry"
)

// Privilege letters grantable on a schema.
var schemaPrivileges = []model.Option{
	{Label: "CREATE", Value: "C"},
	{Label: "USAGE", Value: "U"},
}

// Schema describes a database schema (namespace).
func Schema() registry.Node {
	return registry.Node{
		Type:       "schema",
		Label:      "Schema",
		CacheLevel: model.CacheDatabase,
		URL:        "/v1/objects/schema",
		Schema:     schemaSchema,
	}
}

func privilegeSchema() *model.Schema {
	return &model.Schema{Fields: []*model.Field{
		{ID: "grantee", Label: "Grantee", Type: model.FieldTypeSelect, NoEmpty: true,
			URL: URLRoles, CacheLevel: model.CacheServer},
		{ID: "privileges", Label: "Privileges", Type: model.FieldTypeMultiSelect, NoEmpty: true,
			Options: schemaPrivileges},
		{ID: "grantor", Label: "Grantor", Type: model.FieldTypeSelect,
			URL: URLRoles, CacheLevel: model.CacheServer,
			Deps:     []string{"../oid"},
			Editable: parentIsNew("oid")},
	}}
}

func schemaSchema(registry.FieldOptions) *model.Schema {
	return &model.Schema{
		NodeType:    "schema",
		IDAttribute: "oid",
		Fields: []*model.Field{
			{ID: "name", Label: "Name", Type: model.FieldTypeText, NoEmpty: true},
			{ID: "oid", Label: "OID", Type: model.FieldTypeText, Mode: model.Modes(model.ModeProperties)},
			{ID: "namespaceowner", Label: "Owner", Type: model.FieldTypeSelect, NoEmpty: true,
				URL: URLRoles, CacheLevel: model.CacheServer},
			{ID: "is_sys_obj", Label: "System schema?", Type: model.FieldTypeSwitch,
				Mode: model.Modes(model.ModeProperties)},
			{ID: "description", Label: "Comment", Type: model.FieldTypeMultiline},
			{ID: "nspacl", Label: "Privileges", Type: model.FieldTypeCollection, Group: "Security",
				Schema:    privilegeSchema(),
				UniqueCol: []string{"grantee", "grantor"}},
			{ID: "seclabels", Label: "Security labels", Type: model.FieldTypeCollection, Group: "Security",
				Schema: &model.Schema{Fields: []*model.Field{
					{ID: "provider", Label: "Provider", Type: model.FieldTypeText, NoEmpty: true},
					{ID: "label", Label: "Security label", Type: model.FieldTypeText},
				}},
				UniqueCol: []string{"provider"},
				RowsURL:   URLSecLabelProviders},
		},
	}
}
