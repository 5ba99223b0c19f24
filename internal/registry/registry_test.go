package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/alfredjeanlab/propsheet/internal/model"
)

func simpleNode(typ string) Node {
	return Node{
		Type:  typ,
		Label: typ,
		Schema: func(opts FieldOptions) *model.Schema {
			s := &model.Schema{Fields: []*model.Field{{ID: "name"}}}
			if opts.ServerVersion >= 150000 {
				s = s.With(&model.Field{ID: "extra"})
			}
			return s
		},
	}
}

func TestRegisterAndGet(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(simpleNode("schema")))
	n, ok := r.Get("schema")
	require.True(t, ok)
	assert.Equal(t, "schema", n.Label)

	s, err := r.Schema("schema", FieldOptions{ServerVersion: 160000})
	require.NoError(t, err)
	assert.Equal(t, "schema", s.NodeType)
	assert.NotNil(t, s.Field("extra"), "version-dependent field")
}

func TestRegisterDuplicate(t *testing.T) {
	r := New()
	require.NoError(t, r.Register(simpleNode("index")))
	assert.ErrorIs(t, r.Register(simpleNode("index")), ErrDuplicateNode)
}

func TestRegisterRejectsBrokenSchema(t *testing.T) {
	r := New()
	for _, tc := range []struct {
		name string
		node Node
	}{
		{"NoType", Node{Schema: simpleNode("x").Schema}},
		{"NoSchema", Node{Type: "x"}},
		{"BadDeps", Node{Type: "x", Schema: func(FieldOptions) *model.Schema {
			return &model.Schema{Fields: []*model.Field{{ID: "a", Deps: []string{"missing"}}}}
		}}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			assert.Error(t, r.Register(tc.node))
		})
	}
	assert.Empty(t, r.Types(), "nothing is registered")
}

func TestTypesSorted(t *testing.T) {
	r := New()
	for _, typ := range []string{"schema", "index", "publication"} {
		require.NoError(t, r.Register(simpleNode(typ)))
	}
	assert.Equal(t, []string{"index", "publication", "schema"}, r.Types())
}

func TestUnknownNode(t *testing.T) {
	r := New()
	_, err := r.Schema("nope", FieldOptions{})
	assert.ErrorIs(t, err, ErrUnknownNode)
	assert.Panics(t, func() { r.MustGet("nope") })
}
