package commands

import (
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbrain/entitymanagement/internal/nexustest"
	"github.com/openbrain/entitymanagement/pkg/domain/core"
	"github.com/openbrain/entitymanagement/pkg/orm/crud"
	"github.com/openbrain/entitymanagement/pkg/orm/query"
	"github.com/openbrain/entitymanagement/pkg/orm/schema"
)

var (
	subjects = "core/subject/" + core.Version
	datasets = "core/dataset/" + core.Version
)

var mouse = map[string]interface{}{"@id": "http://purl.obolibrary.org/obo/NCBITaxon_10090", "label": "Mus musculus"}

// isolate keeps user config files and NEXUS_ variables out of the test
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	t.Setenv("HOME", dir)
	t.Setenv("XDG_CONFIG_HOME", filepath.Join(dir, ".config"))
	for _, kv := range os.Environ() {
		if name, _, ok := strings.Cut(kv, "="); ok && strings.HasPrefix(name, "NEXUS_") {
			t.Setenv(name, "")
		}
	}
	return dir
}

// execute runs the root command against srv and returns stdout and stderr
func execute(t *testing.T, srv *nexustest.Server, args ...string) (string, string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	cmd := NewRootCommand()
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	if srv != nil {
		args = append([]string{"--base-url", srv.BaseURL()}, args...)
	}
	cmd.SetArgs(append([]string{"--no-color"}, args...))
	err := cmd.Execute()
	return out.String(), errOut.String(), err
}

func decodeJSON(t *testing.T, s string, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(s), v), s)
}

func putSubject(srv *nexustest.Server, name string) string {
	return srv.Put(subjects, map[string]interface{}{"@type": "nsg:Subject", "name": name, "species": mouse})
}

func TestGetCommand(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	id := putSubject(srv, "mouse-1")

	out, _, err := execute(t, srv, "get", id, "-o", "json")
	require.NoError(t, err)

	var doc map[string]interface{}
	decodeJSON(t, out, &doc)
	assert.Equal(t, id, doc["@id"])
	assert.Equal(t, "mouse-1", doc["name"])
	assert.Equal(t, float64(1), doc["nxv:rev"])
	assert.Equal(t, false, doc["nxv:deprecated"])
	assert.NotContains(t, doc, "@context")
	assert.Equal(t, 1, srv.Gets(id))
}

func TestGetCommandSeveralIDs(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	a := putSubject(srv, "mouse-1")
	b := putSubject(srv, "mouse-2")

	out, _, err := execute(t, srv, "get", a, b, "-o", "json")
	require.NoError(t, err)

	var docs []map[string]interface{}
	decodeJSON(t, out, &docs)
	require.Len(t, docs, 2)
	assert.Equal(t, "mouse-1", docs[0]["name"])
	assert.Equal(t, "mouse-2", docs[1]["name"])
}

func TestGetCommandField(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	subject := putSubject(srv, "mouse-1")
	id := srv.Put(datasets, map[string]interface{}{
		"@type":   "nsg:Dataset",
		"name":    "recordings",
		"subject": map[string]interface{}{"@id": subject, "@type": "nsg:Subject"},
	})

	out, _, err := execute(t, srv, "get", subject, "--field", "species", "-o", "json")
	require.NoError(t, err)
	var doc map[string]interface{}
	decodeJSON(t, out, &doc)
	assert.Equal(t, subject, doc["@id"])
	assert.Equal(t, mouse, doc["species"])

	// references print as stubs without fetching the target
	before := srv.Gets(subject)
	out, _, err = execute(t, srv, "get", id, "--field", "Subject", "-o", "json")
	require.NoError(t, err)
	decodeJSON(t, out, &doc)
	ref, ok := doc["subject"].(map[string]interface{})
	require.True(t, ok, doc)
	assert.Equal(t, subject, ref["@id"])
	assert.Equal(t, before, srv.Gets(subject))

	out, _, err = execute(t, srv, "get", id, "--field", "description", "-o", "json")
	require.NoError(t, err)
	decodeJSON(t, out, &doc)
	assert.Contains(t, doc, "description")
	assert.Nil(t, doc["description"])

	_, _, err = execute(t, srv, "get", id, "--field", "color")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `Dataset has no field "color"`)
}

func TestGetCommandNotFound(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	_, _, err := execute(t, srv, "get", srv.BaseURL()+"/data/"+subjects+"/missing")
	require.Error(t, err)
	assert.True(t, errors.Is(err, crud.ErrNotFound), err)
}

func TestCommandRequiresBaseURL(t *testing.T) {
	isolate(t)

	_, _, err := execute(t, nil, "get", "http://example.org/x")
	require.Error(t, err)

	var cfgErr *configError
	require.ErrorAs(t, err, &cfgErr)

	var buf bytes.Buffer
	reportError(&buf, err, true)
	assert.Contains(t, buf.String(), "CONFIGURATION")
	assert.Contains(t, buf.String(), "NEXUS_BASE_URL")
}

func TestCommandRejectsOutputFormat(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	_, _, err := execute(t, srv, "get", putSubject(srv, "mouse-1"), "-o", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unknown output format "xml"`)
}

func TestTokenFlag(t *testing.T) {
	isolate(t)
	srv := nexustest.New(nexustest.WithToken("secret"))
	defer srv.Close()

	id := putSubject(srv, "mouse-1")

	_, _, err := execute(t, srv, "get", id)
	require.Error(t, err)

	var buf bytes.Buffer
	reportError(&buf, err, true)
	assert.Contains(t, buf.String(), "AUTHENTICATION")

	out, _, err := execute(t, srv, "--token", "secret", "get", id)
	require.NoError(t, err)
	assert.Contains(t, out, "name: mouse-1")
}

func TestFindCommand(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	a := putSubject(srv, "mouse-1")
	putSubject(srv, "mouse-2")
	old := putSubject(srv, "mouse-1")
	doc, _ := srv.Doc(old)
	doc["nxv:deprecated"] = true
	srv.PutAt(old, doc)

	out, _, err := execute(t, srv, "find", "Subject", "name=mouse-1", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]interface{}
	decodeJSON(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, a, rows[0]["@id"])
	assert.Equal(t, []interface{}{"nsg:Subject"}, rows[0]["@type"])

	out, _, err = execute(t, srv, "find", "core/subject", "name=mouse-1", "--deprecated", "-o", "json")
	require.NoError(t, err)
	decodeJSON(t, out, &rows)
	assert.Len(t, rows, 2)
}

func TestFindCommandLimitAndFull(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	for i := 0; i < 3; i++ {
		putSubject(srv, "mouse")
	}

	out, _, err := execute(t, srv, "find", "Subject", "name=mouse", "--limit", "2", "--full", "-o", "json")
	require.NoError(t, err)

	var rows []map[string]interface{}
	decodeJSON(t, out, &rows)
	require.Len(t, rows, 2)
	for _, row := range rows {
		assert.Equal(t, "mouse", row["name"])
		assert.Equal(t, float64(1), row["nxv:rev"])
	}
}

func TestFindCommandTable(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	out, _, err := execute(t, srv, "find", "Subject", "name=nobody", "-o", "table")
	require.NoError(t, err)
	assert.Equal(t, "no results\n", out)

	id := putSubject(srv, "mouse-1")
	out, _, err = execute(t, srv, "find", "Subject", "name=mouse-1", "-o", "table")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "ID"), lines[0])
	assert.Contains(t, lines[0], "TYPE")
	assert.Contains(t, lines[2], id)
}

func TestFindCommandUnknownType(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	_, _, err := execute(t, srv, "find", "Datset", "name=x")
	require.Error(t, err)
	assert.True(t, errors.Is(err, schema.ErrUnknownType))

	var buf bytes.Buffer
	reportError(&buf, err, true)
	assert.Contains(t, buf.String(), "UNKNOWN TYPE: Datset")
	assert.Contains(t, buf.String(), "Did you mean: Dataset?")
	assert.Zero(t, srv.Requests(""))
}

func TestUniqueCommand(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	id := putSubject(srv, "mouse-1")
	putSubject(srv, "twin")
	putSubject(srv, "twin")

	out, _, err := execute(t, srv, "unique", "Subject", "name=mouse-1", "-o", "json")
	require.NoError(t, err)
	var doc map[string]interface{}
	decodeJSON(t, out, &doc)
	assert.Equal(t, id, doc["@id"])

	out, errOut, err := execute(t, srv, "unique", "Subject", "name=nobody")
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.Contains(t, errOut, "no matching resource")

	_, _, err = execute(t, srv, "unique", "Subject", "name=nobody", "--throw")
	assert.True(t, errors.Is(err, crud.ErrNoResult), err)

	_, _, err = execute(t, srv, "unique", "Subject", "name=twin")
	assert.True(t, errors.Is(err, crud.ErrTooManyResults), err)
}

func TestUniqueCommandCreate(t *testing.T) {
	dir := isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	path := filepath.Join(dir, "subject.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`"@id": ignored
"@type": nsg:Subject
name: mouse-9
species:
  "@id": http://purl.obolibrary.org/obo/NCBITaxon_10090
  label: Mus musculus
`), 0644))

	out, _, err := execute(t, srv, "unique", "Subject", "name=mouse-9", "--create", path, "-o", "json")
	require.NoError(t, err)
	assert.Equal(t, 2, srv.Requests("POST"), "one query and one create")

	var doc map[string]interface{}
	decodeJSON(t, out, &doc)
	id, _ := doc["@id"].(string)
	assert.True(t, strings.HasPrefix(id, srv.BaseURL()+"/data/"+subjects+"/"), id)
	assert.Equal(t, "mouse-9", doc["name"])

	stored, ok := srv.Doc(id)
	require.True(t, ok)
	assert.Equal(t, "mouse-9", stored["name"])

	// the second run finds it
	out, _, err = execute(t, srv, "unique", "Subject", "name=mouse-9", "--create", path, "-o", "json")
	require.NoError(t, err)
	decodeJSON(t, out, &doc)
	assert.Equal(t, id, doc["@id"])
	assert.Equal(t, 3, srv.Requests("POST"))
}

func TestUniqueCommandCreateInvalid(t *testing.T) {
	dir := isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	path := filepath.Join(dir, "subject.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name": "no species"}`), 0644))

	_, _, err := execute(t, srv, "unique", "Subject", "name=x", "--create", path)
	require.Error(t, err)
	assert.True(t, schema.IsValidationFailed(err), err)
}

func TestDeprecateCommand(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	answer := false
	var asked string
	saved := confirm
	confirm = func(message string) (bool, error) {
		asked = message
		return answer, nil
	}
	defer func() { confirm = saved }()

	id := putSubject(srv, "mouse-1")

	_, errOut, err := execute(t, srv, "deprecate", id)
	require.NoError(t, err)
	assert.Equal(t, "Deprecate "+id+" at revision 1?", asked)
	assert.Contains(t, errOut, "aborted")
	assert.Zero(t, srv.Requests("DELETE"))

	answer = true
	_, errOut, err = execute(t, srv, "deprecate", id)
	require.NoError(t, err)
	assert.Contains(t, errOut, "deprecated "+id+" (rev 2)")

	doc, _ := srv.Doc(id)
	assert.Equal(t, true, doc["nxv:deprecated"])

	_, errOut, err = execute(t, srv, "deprecate", id)
	require.NoError(t, err)
	assert.Contains(t, errOut, "already deprecated")
	assert.Equal(t, 1, srv.Requests("DELETE"))
}

func TestDeprecateCommandYes(t *testing.T) {
	isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	saved := confirm
	confirm = func(string) (bool, error) {
		t.Fatal("confirmation asked with --yes")
		return false, nil
	}
	defer func() { confirm = saved }()

	id := putSubject(srv, "mouse-1")
	_, _, err := execute(t, srv, "deprecate", id, "--yes")
	require.NoError(t, err)

	doc, _ := srv.Doc(id)
	assert.Equal(t, true, doc["nxv:deprecated"])
}

func TestAttachAndDownloadCommands(t *testing.T) {
	dir := isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	id := srv.Put(datasets, map[string]interface{}{"@type": []interface{}{"nsg:Dataset", "prov:Entity"}, "name": "recordings"})
	src := filepath.Join(dir, "trace.json")
	require.NoError(t, os.WriteFile(src, []byte(`{"samples":[1,2,3]}`), 0644))

	out, errOut, err := execute(t, srv, "attach", id, src, "-o", "json")
	require.NoError(t, err)
	assert.Contains(t, errOut, "attached trace.json to "+id+" (rev 2)")

	var row map[string]interface{}
	decodeJSON(t, out, &row)
	assert.Equal(t, "trace.json", row["file"])
	assert.Equal(t, "application/json", row["mediaType"])
	assert.Equal(t, float64(19), row["size"])
	assert.True(t, strings.HasPrefix(row["digest"].(string), "SHA-256:"), row["digest"])

	target := filepath.Join(dir, "downloads")
	out, _, err = execute(t, srv, "download", id, "--to", target, "-o", "json")
	require.NoError(t, err)

	var rows []map[string]interface{}
	decodeJSON(t, out, &rows)
	require.Len(t, rows, 1)
	assert.Equal(t, "trace.json", rows[0]["file"])
	assert.NotEmpty(t, rows[0]["location"])

	content, err := os.ReadFile(filepath.Join(target, "trace.json"))
	require.NoError(t, err)
	assert.Equal(t, `{"samples":[1,2,3]}`, string(content))
}

func TestDownloadCommandWithoutDistribution(t *testing.T) {
	dir := isolate(t)
	srv := nexustest.New()
	defer srv.Close()

	id := srv.Put(datasets, map[string]interface{}{"@type": "nsg:Dataset", "name": "empty"})

	_, _, err := execute(t, srv, "download", id, "--to", dir)
	assert.True(t, errors.Is(err, crud.ErrNoDistribution), err)
}

func TestTypesCommand(t *testing.T) {
	isolate(t)

	out, _, err := execute(t, nil, "types")
	require.NoError(t, err)
	for _, want := range []string{"TYPE", "Dataset", datasets, "nsg:Dataset, prov:Entity", "Person", "Activity"} {
		assert.Contains(t, out, want)
	}

	out, _, err = execute(t, nil, "types", "core/activity")
	require.NoError(t, err)
	assert.Contains(t, out, "wasStartedBy")
	assert.Contains(t, out, "startedAtTime")

	var name string
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "Name ") {
			name = line
		}
	}
	assert.True(t, strings.HasSuffix(name, "yes"), name)

	_, _, err = execute(t, nil, "types", "Persn")
	require.Error(t, err)
	var buf bytes.Buffer
	reportError(&buf, err, true)
	assert.Contains(t, buf.String(), "Did you mean: Person?")
}

func TestParseFilters(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		want    query.Props
		wantErr string
	}{
		{
			name: "equality keeps scalar types",
			args: []string{"name=Morphology 42", "version=2", "ratio=0.5", "public=true"},
			want: query.Props{"name": "Morphology 42", "version": 2, "ratio": 0.5, "public": true},
		},
		{
			name: "comparison operators",
			args: []string{"version>=2", "size<10", "name!=x"},
			want: query.Props{"version": query.Gte(2), "size": query.Lt(10), "name": query.Ne("x")},
		},
		{
			name: "leftmost operator wins",
			args: []string{"expr=a>=b"},
			want: query.Props{"expr": "a>=b"},
		},
		{
			name: "flow list matches any member",
			args: []string{"species__label=[Mouse, Rat]"},
			want: query.Props{"species__label": query.In("Mouse", "Rat")},
		},
		{
			name: "empty value",
			args: []string{"description="},
			want: query.Props{"description": ""},
		},
		{
			name:    "missing operator",
			args:    []string{"name"},
			wantErr: "expected key<op>value",
		},
		{
			name:    "missing key",
			args:    []string{"=x"},
			wantErr: "expected key<op>value",
		},
		{
			name:    "duplicate key",
			args:    []string{"name=a", "name=b"},
			wantErr: "duplicate filter on name",
		},
		{
			name:    "mapping value",
			args:    []string{"subject={name: x}"},
			wantErr: "mappings are not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseFilters(tt.args)
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrintFormats(t *testing.T) {
	doc := map[string]interface{}{"@id": "x", "name": "mouse-1", "keywords": []interface{}{"a", "b"}}

	var buf bytes.Buffer
	a := &app{out: &buf, format: "yaml", noColor: true}
	require.NoError(t, a.print(doc))
	assert.Equal(t, "'@id': x\nkeywords:\n    - a\n    - b\nname: mouse-1\n", buf.String())

	buf.Reset()
	a.format = "table"
	require.NoError(t, a.print(doc))
	assert.Equal(t, "KEY       VALUE\n"+
		"────────  ─────────\n"+
		"@id       x\n"+
		"keywords  [\"a\",\"b\"]\n"+
		"name      mouse-1\n", buf.String())

	buf.Reset()
	a.format = "json"
	require.NoError(t, a.print([]map[string]interface{}{doc}))
	var rows []map[string]interface{}
	decodeJSON(t, buf.String(), &rows)
	assert.Equal(t, "mouse-1", rows[0]["name"])
}

func TestColumns(t *testing.T) {
	rows := []map[string]interface{}{
		{"name": "a", "@id": "1"},
		{"@type": "T", "@id": "2"},
	}
	assert.Equal(t, []string{"@id", "@type", "name"}, columns(rows))
	assert.Equal(t, []string{"ID", "TYPE", "NAME"}, upper(columns(rows)))
}

func TestCell(t *testing.T) {
	assert.Equal(t, "", cell(nil))
	assert.Equal(t, "text", cell("text"))
	assert.Equal(t, "true", cell(true))
	assert.Equal(t, "7", cell(7))
	assert.Equal(t, "a, b", cell([]string{"a", "b"}))
	assert.Equal(t, "2.5", cell(2.5))
	assert.Equal(t, `{"k":1}`, cell(map[string]interface{}{"k": 1}))
}
