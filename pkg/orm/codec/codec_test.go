package codec

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/openbrain/entitymanagement/pkg/orm/entity"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

type Agent interface {
	entity.Entity
	isAgent()
}

type Person struct {
	entity.Base
	GivenName  string `nexus:"givenName,required"`
	FamilyName string `nexus:"familyName"`
}

func (*Person) isAgent() {}

type Lab struct {
	entity.Base
	Name string `nexus:"name,required"`
}

func (*Lab) isAgent() {}

type Measure struct {
	Value float64 `nexus:"value"`
	Unit  string  `nexus:"unitCode"`
}

type Sample struct {
	entity.Base
	Name      string              `nexus:"name,required"`
	Aliases   []string            `nexus:"alias"`
	Count     int                 `nexus:"count"`
	Weight    *Measure            `nexus:"weight"`
	Species   entity.OntologyTerm `nexus:"species"`
	Collected time.Time           `nexus:"dateCollected"`
	Owner     *Person             `nexus:"owner"`
	Agent     Agent               `nexus:"agent"`
	Sources   []entity.Entity     `nexus:"prov:wasDerivedFrom"`
	Notes     interface{}         `nexus:"notes"`
	Active    *bool               `nexus:"active"`
}

const base = "https://nexus.example.org/v0/data"

func newRegistry(t *testing.T) *schema.Registry {
	t.Helper()
	reg := schema.NewRegistry()
	require.NoError(t, reg.Register(schema.MustBuild(&Person{}, schema.Declaration{Tag: "test/person", Version: "v1", Types: []string{"nsg:Person"}})))
	require.NoError(t, reg.Register(schema.MustBuild(&Lab{}, schema.Declaration{Tag: "test/lab", Version: "v1", Types: []string{"nsg:Organization"}})))
	require.NoError(t, reg.Register(schema.MustBuild(&Sample{}, schema.Declaration{Tag: "test/sample", Version: "v1", Types: []string{"nsg:Sample", "prov:Entity"}})))
	return reg
}

// nopSource records materialization requests without fetching
type nopSource struct{ calls int }

func (s *nopSource) Materialize(ctx context.Context, e entity.Entity) error {
	s.calls++
	return nil
}

func specOf(t *testing.T, name string) *schema.TypeSpec {
	t.Helper()
	s := schema.MustBuild(&Sample{}, schema.Declaration{Tag: "x"})
	f, ok := s.FieldByName(name)
	require.True(t, ok, name)
	return f.Type
}

func TestDecodeListQuirk(t *testing.T) {
	c := New(newRegistry(t), nil)
	name := specOf(t, "Name")

	tests := []struct {
		name string
		raw  interface{}
		want interface{}
	}{
		{"bare value", "a", "a"},
		{"single element list unwraps", []interface{}{"a"}, "a"},
		{"empty list becomes nil", []interface{}{}, nil},
		{"several elements stay a list", []interface{}{"a", "b"}, []interface{}{"a", "b"}},
		{"null", nil, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := c.Decode(tt.raw, name)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDecodeDeclaredList(t *testing.T) {
	c := New(newRegistry(t), nil)
	aliases := specOf(t, "Aliases")

	got, err := c.Decode([]interface{}{"a", "b"}, aliases)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, got)

	got, err = c.Decode("solo", aliases)
	require.NoError(t, err)
	assert.Equal(t, []string{"solo"}, got, "a scalar for a list field becomes a list of one")

	got, err = c.Decode([]interface{}{}, aliases)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestDecodeScalars(t *testing.T) {
	c := New(newRegistry(t), nil)

	count, err := c.Decode(float64(3), specOf(t, "Count"))
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	_, err = c.Decode(3.5, specOf(t, "Count"))
	assert.ErrorIs(t, err, ErrDecode)

	active, err := c.Decode(true, specOf(t, "Active"))
	require.NoError(t, err)
	require.IsType(t, (*bool)(nil), active)
	assert.True(t, *active.(*bool))

	term, err := c.Decode(map[string]interface{}{"@id": "http://purl.obolibrary.org/obo/NCBITaxon_10090", "label": "Mus musculus"}, specOf(t, "Species"))
	require.NoError(t, err)
	assert.Equal(t, entity.Term("http://purl.obolibrary.org/obo/NCBITaxon_10090", "Mus musculus"), term)

	when, err := c.Decode("2024-03-01T10:00:00Z", specOf(t, "Collected"))
	require.NoError(t, err)
	assert.True(t, when.(time.Time).Equal(time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)))

	day, err := c.Decode("2024-03-01", specOf(t, "Collected"))
	require.NoError(t, err)
	assert.Equal(t, 2024, day.(time.Time).Year())

	weight, err := c.Decode(map[string]interface{}{"value": 12.5, "unitCode": "g"}, specOf(t, "Weight"))
	require.NoError(t, err)
	assert.Equal(t, &Measure{Value: 12.5, Unit: "g"}, weight)

	notes := map[string]interface{}{"free": "form"}
	got, err := c.Decode(notes, specOf(t, "Notes"))
	require.NoError(t, err)
	assert.Equal(t, notes, got)

	_, err = c.Decode(42, specOf(t, "Name"))
	assert.ErrorIs(t, err, ErrDecode)
}

func TestDecodeReferencesAreLazy(t *testing.T) {
	src := &nopSource{}
	c := New(newRegistry(t), src)

	ownerID := base + "/test/person/v1/1"
	v, err := c.Decode(map[string]interface{}{"@id": ownerID, "@type": "nsg:Person"}, specOf(t, "Owner"))
	require.NoError(t, err)
	owner := v.(*Person)
	assert.Equal(t, ownerID, owner.ID())
	assert.False(t, owner.IsMaterialized())
	assert.Same(t, src, owner.Source())
	assert.Equal(t, 0, src.calls)

	// abstract references resolve through the registry
	v, err = c.Decode(map[string]interface{}{"@id": base + "/test/lab/v1/2"}, specOf(t, "Agent"))
	require.NoError(t, err)
	assert.IsType(t, &Lab{}, v)

	v, err = c.Decode(map[string]interface{}{"@id": "https://elsewhere.org/p/3", "@type": []interface{}{"nsg:Person"}}, specOf(t, "Agent"))
	require.NoError(t, err)
	assert.IsType(t, &Person{}, v)

	// a sample is not an agent
	_, err = c.Decode(map[string]interface{}{"@id": base + "/test/sample/v1/4"}, specOf(t, "Agent"))
	assert.ErrorIs(t, err, ErrDecode)

	_, err = c.Decode(map[string]interface{}{"@id": "https://elsewhere.org/x/5"}, specOf(t, "Agent"))
	assert.ErrorIs(t, err, schema.ErrUnknownType)

	_, err = c.Decode(map[string]interface{}{"name": "no id"}, specOf(t, "Owner"))
	assert.ErrorIs(t, err, ErrDecode)

	list, err := c.Decode([]interface{}{
		map[string]interface{}{"@id": base + "/test/sample/v1/6"},
		map[string]interface{}{"@id": base + "/test/person/v1/7"},
	}, specOf(t, "Sources"))
	require.NoError(t, err)
	sources := list.([]entity.Entity)
	require.Len(t, sources, 2)
	assert.IsType(t, &Sample{}, sources[0])
	assert.IsType(t, &Person{}, sources[1])
}

func TestDecodeEntity(t *testing.T) {
	c := New(newRegistry(t), &nopSource{})
	id := base + "/test/sample/v1/abc"

	doc := map[string]interface{}{
		"@id":            id,
		"@type":          []interface{}{"nsg:Sample", "prov:Entity"},
		"nxv:rev":        float64(4),
		"nxv:deprecated": false,
		"nxv:createdAt":  "2024-01-02T03:04:05.123Z",
		"nxv:createdBy":  map[string]interface{}{"@id": "https://nexus.example.org/v0/realms/bbp/users/jdoe"},
		"name":           []interface{}{"S1"},
		"alias":          "only",
		"count":          float64(2),
		"owner":          map[string]interface{}{"@id": base + "/test/person/v1/1"},
		"unknownKey":     "ignored",
	}

	s := entity.NewRef[Sample](id, nil)
	s.Aliases = []string{"stale"}
	s.Active = new(bool)

	require.NoError(t, c.DecodeEntity(doc, s))

	assert.Equal(t, "S1", s.Name)
	assert.Equal(t, []string{"only"}, s.Aliases)
	assert.Equal(t, 2, s.Count)
	assert.Nil(t, s.Active, "fields missing from the document are reset")
	require.NotNil(t, s.Owner)
	assert.Equal(t, base+"/test/person/v1/1", s.Owner.ID())

	meta := s.Meta()
	assert.Equal(t, id, meta.ID)
	assert.Equal(t, 4, meta.Rev)
	assert.Equal(t, []string{"nsg:Sample", "prov:Entity"}, meta.Types)
	assert.Equal(t, "https://nexus.example.org/v0/realms/bbp/users/jdoe", meta.CreatedBy)
	assert.Equal(t, 2024, meta.CreatedAt.Year())
	assert.Equal(t, entity.StateUnmaterialized, s.State(), "state is left to the caller")
}

func TestDecodeEntityRejectsManyValuesForBareField(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	c := New(newRegistry(t), nil, WithLogger(zap.New(core)))

	s := &Sample{Name: "keep"}
	err := c.DecodeEntity(map[string]interface{}{"name": []interface{}{"a", "b"}}, s)
	assert.ErrorIs(t, err, ErrDecode)
	assert.Equal(t, "keep", s.Name, "a failed decode leaves the value unchanged")

	entries := logs.FilterMessage("failed to deserialize field").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Sample", entries[0].ContextMap()["type"])
	assert.Equal(t, "Name", entries[0].ContextMap()["field"])
}

func TestDecodeLogsMismatch(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	c := New(newRegistry(t), nil, WithLogger(zap.New(core)))

	_, err := c.Decode("not a number", specOf(t, "Count"))
	require.Error(t, err)
	require.Equal(t, 1, logs.FilterMessage("failed to deserialize value").Len())
	assert.Equal(t, "int", logs.All()[0].ContextMap()["type"])
}

func TestMetaFromDocumentErrors(t *testing.T) {
	_, err := MetaFromDocument(map[string]interface{}{"nxv:rev": "three"})
	assert.ErrorIs(t, err, ErrDecode)

	_, err = MetaFromDocument(map[string]interface{}{"nxv:deprecated": "no"})
	assert.ErrorIs(t, err, ErrDecode)

	meta, err := MetaFromDocument(nil)
	require.NoError(t, err)
	assert.Empty(t, meta.ID)
}

type countUnresolved struct{ n int }

func (c *countUnresolved) Unresolved() { c.n++ }

func TestDecodeEntitySkipsUnknownListReferences(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	counter := &countUnresolved{}
	c := New(newRegistry(t), &nopSource{}, WithLogger(zap.New(core)), WithUnresolvedCounter(counter))

	legacy := base + "/legacy/thing/v0/x1"
	s := &Sample{}
	require.NoError(t, c.DecodeEntity(map[string]interface{}{
		"name": "S1",
		"prov:wasDerivedFrom": []interface{}{
			map[string]interface{}{"@id": base + "/test/person/v1/1"},
			map[string]interface{}{"@id": legacy, "@type": "legacy:Thing"},
		},
	}, s))

	assert.Equal(t, "S1", s.Name)
	require.Len(t, s.Sources, 1)
	assert.IsType(t, &Person{}, s.Sources[0])
	assert.Equal(t, 1, counter.n)

	entries := logs.FilterMessage("skipping reference of unknown type").All()
	require.Len(t, entries, 1)
	assert.Equal(t, legacy, entries[0].ContextMap()["id"])
	assert.Equal(t, []interface{}{"legacy:Thing"}, entries[0].ContextMap()["types"])

	// only unknown references: the field is left empty
	require.NoError(t, c.DecodeEntity(map[string]interface{}{
		"name":                "S2",
		"prov:wasDerivedFrom": []interface{}{map[string]interface{}{"@id": legacy}},
	}, s))
	assert.Nil(t, s.Sources)
	assert.Equal(t, 2, counter.n)
}

func TestDecodeSingleUnknownReferenceFails(t *testing.T) {
	c := New(newRegistry(t), &nopSource{})

	s := &Sample{}
	err := c.DecodeEntity(map[string]interface{}{
		"name":  "S1",
		"agent": map[string]interface{}{"@id": base + "/legacy/thing/v0/x1"},
	}, s)
	assert.ErrorIs(t, err, schema.ErrUnknownType)
	assert.Empty(t, s.Name)
}

func TestToIntBounds(t *testing.T) {
	tests := []struct {
		in   interface{}
		want int64
		ok   bool
	}{
		{float64(42), 42, true},
		{float64(1 << 53), 1 << 53, true},
		{float64(-(1 << 63)), -(1 << 63), true},
		{float64(1 << 63), 0, false},
		{2.5, 0, false},
		{uint64(1 << 63), 0, false},
	}

	for _, tt := range tests {
		got, ok := toInt(tt.in)
		assert.Equal(t, tt.ok, ok, "%v", tt.in)
		if tt.ok {
			assert.Equal(t, tt.want, got, "%v", tt.in)
		}
	}
}
