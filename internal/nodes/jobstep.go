package nodes

import (
	"strings"

	"github.com/alfredjeanlab/propsheet/internal/model"
	"github.com/alfredjeanlab/propsheet/internal/registry"
)

// Job step validation messages.
const (
	MsgSelectDatabase   = "Please select a database."
	MsgEnterConnStr     = "Please enter a connection string."
	MsgInvalidConnStr   = "Please enter a valid connection string."
	MsgSpecifyCode      = "Please specify code to execute."
	MsgStepNameRequired = "Name cannot be empty."
)

// libpq keywords accepted in a remote step's connection string.
var connStrKeywords = map[string]bool{
	"host": true, "hostaddr": true, "port": true, "dbname": true, "user": true,
	"password": true, "passfile": true, "connect_timeout": true, "client_encoding": true,
	"options": true, "application_name": true, "fallback_application_name": true,
	"keepalives": true, "keepalives_idle": true, "keepalives_interval": true,
	"keepalives_count": true, "sslmode": true, "sslcert": true, "sslkey": true,
	"sslrootcert": true, "sslcrl": true, "requirepeer": true, "krbsrvname": true,
	"gsslib": true, "service": true, "target_session_attrs": true,
}

// JobStep describes one step of a pgAgent job.
func JobStep() registry.Node {
	return registry.Node{
		Type:       "pga_jobstep",
		Label:      "Schedule step",
		CacheLevel: model.CacheServer,
		URL:        "/v1/objects/pga_jobstep",
		Schema:     jobStepSchema,
	}
}

// sqlStep reports whether the step runs SQL (as opposed to a batch script).
func sqlStep(s model.State) bool { return s.Bool("jstkind") }

// localConn reports whether a SQL step connects to a database on this server.
func localConn(s model.State) bool { return s.Bool("jstconntype") }

func jobStepSchema(registry.FieldOptions) *model.Schema {
	return &model.Schema{
		NodeType:    "pga_jobstep",
		IDAttribute: "jstid",
		Fields: []*model.Field{
			{ID: "jstid", Label: "ID", Type: model.FieldTypeInt, Mode: model.Modes(model.ModeProperties)},
			{ID: "jstname", Label: "Name", Type: model.FieldTypeText},
			{ID: "jstenabled", Label: "Enabled?", Type: model.FieldTypeSwitch, Default: true},
			{ID: "jstkind", Label: "Kind", Type: model.FieldTypeSwitch, Default: true, Control: "toggle:SQL/Batch"},
			{ID: "jstconntype", Label: "Connection type", Type: model.FieldTypeSwitch, Default: true,
				Control: "toggle:Local/Remote",
				Deps:    []string{"jstkind"},
				Disabled: func(s model.State) bool {
					return !sqlStep(s)
				}},
			{ID: "jstdbname", Label: "Database", Type: model.FieldTypeSelect, Default: "",
				URL: URLDatabases, CacheLevel: model.CacheServer,
				Deps: []string{"jstkind", "jstconntype"},
				Disabled: func(s model.State) bool {
					return !sqlStep(s) || !localConn(s)
				},
				DepChange: func(s model.State, _ []string) model.Patch {
					if !sqlStep(s) || !localConn(s) {
						return model.Patch{"jstdbname": ""}
					}
					return nil
				}},
			{ID: "jstconnstr", Label: "Connection string", Type: model.FieldTypeText,
				Deps: []string{"jstkind", "jstconntype"},
				Disabled: func(s model.State) bool {
					return !sqlStep(s) || localConn(s)
				},
				DepChange: func(s model.State, _ []string) model.Patch {
					if !sqlStep(s) || localConn(s) {
						return model.Patch{"jstconnstr": ""}
					}
					return nil
				}},
			{ID: "jstonerror", Label: "On error", Type: model.FieldTypeSelect, Default: "f",
				Options: []model.Option{
					{Label: "Fail", Value: "f"},
					{Label: "Success", Value: "s"},
					{Label: "Ignore", Value: "i"},
				}},
			{ID: "jstdesc", Label: "Comment", Type: model.FieldTypeMultiline},
			{ID: "jstcode", Label: "Code", Type: model.FieldTypeMultiline, Group: "Code", Control: "sql"},
		},
		Validator: validateJobStep,
	}
}

func validateJobStep(s model.State, errs model.ErrorMap) bool {
	failed := false
	check := func(id, msg string) {
		if msg != "" {
			errs.Set(id, msg)
			failed = true
		} else {
			errs.Clear(id)
		}
	}

	msg := ""
	if model.IsEmpty(s["jstname"]) {
		msg = MsgStepNameRequired
	}
	check("jstname", msg)

	msg = ""
	if sqlStep(s) && localConn(s) && model.IsEmpty(s["jstdbname"]) {
		msg = MsgSelectDatabase
	}
	check("jstdbname", msg)

	msg = ""
	if sqlStep(s) && !localConn(s) {
		if connStr := s.String("jstconnstr"); model.IsEmpty(connStr) {
			msg = MsgEnterConnStr
		} else if !ValidConnString(connStr) {
			msg = MsgInvalidConnStr
		}
	}
	check("jstconnstr", msg)

	msg = ""
	if model.IsEmpty(s["jstcode"]) {
		msg = MsgSpecifyCode
	}
	check("jstcode", msg)

	return failed
}

// ValidConnString reports whether s is a keyword=value connection string
// using only libpq keywords. Values may be single-quoted.
func ValidConnString(s string) bool {
	rest := strings.TrimSpace(s)
	if rest == "" {
		return false
	}
	for rest != "" {
		key, after, ok := strings.Cut(rest, "=")
		if !ok {
			return false
		}
		key = strings.TrimSpace(key)
		if !connStrKeywords[key] {
			return false
		}
		after = strings.TrimLeft(after, " ")
		if strings.HasPrefix(after, "'") {
			end := closingQuote(after)
			if end < 0 {
				return false
			}
			rest = strings.TrimSpace(after[end+1:])
			continue
		}
		val, tail, _ := strings.Cut(after, " ")
		if val == "" {
			return false
		}
		rest = strings.TrimSpace(tail)
	}
	return true
}

// closingQuote returns the index of the quote closing the value that starts
// at s[0], honoring backslash escapes, or -1.
func closingQuote(s string) int {
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			i++
		case '\'':
			return i
		}
	}
	return -1
}
