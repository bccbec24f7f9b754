package jsonconfig_test

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/EJahren/ert/config/jsonconfig"
)

type fooDefaultConfig struct {
	Type string
}

func (c *fooDefaultConfig) Validate() error { return nil }

type fooNoargConfig struct {
	Type string
}

func (c *fooNoargConfig) Validate() error { return nil }

type barDefaultConfig struct {
	Type string
	Arg3 string
	Arg4 map[string]string
}

func (c *barDefaultConfig) Validate() error { return nil }

type barTwoargConfig struct {
	Type string
	Arg1 int
	Arg2 []int
}

func (c *barTwoargConfig) Validate() error {
	if c.Arg1 < 0 {
		return errors.New("Arg1 must not be negative")
	}
	return nil
}

const (
	defaultConfig = `{
 "Bar": {
  "Type": "default",
  "Arg3": "3",
  "Arg4": {
   "a": "b"
  }
 },
 "Foo": {
  "Type": "default"
 }
}`
	config1 = `{
 "Bar": {
  "Type": "twoarg",
  "Arg1": 1,
  "Arg2": [
   1,
   2,
   3
  ]
 },
 "Foo": {
  "Type": "noarg"
 }
}`
	config2 = `{
 "Bar": {
  "Type": "twoarg",
  "Arg1": 1,
  "Arg2": [
   1,
   2,
   3,
   4
  ]
 },
 "Foo": {
  "Type": "default"
 }
}`
	config3 = `{
 "Bar": {
  "Type": "twoarg",
  "Arg1": 1,
  "Arg2": [1,2,3,4]
 }
}`
)

func schema() jsonconfig.Schema {
	return jsonconfig.Schema(map[string]jsonconfig.Implementations{
		"Foo": {
			"default": &fooDefaultConfig{},
			"noarg":   &fooNoargConfig{},
			"":        &fooDefaultConfig{Type: "default"},
		},
		"Bar": {
			"default": &barDefaultConfig{},
			"twoarg":  &barTwoargConfig{},
			"": &barDefaultConfig{
				Type: "default",
				Arg3: "3",
				Arg4: map[string]string{"a": "b"},
			},
		},
	})
}

type parsedAndMarshaled struct {
	input  string
	output string
}

func TestParse(t *testing.T) {
	tests := []parsedAndMarshaled{
		{defaultConfig, defaultConfig},
		{"", defaultConfig},
		{config1, config1},
		{config2, config2},
		{config3, config2},
	}
	for _, test := range tests {
		m, err := schema().Parse([]byte(test.input))
		if err != nil {
			t.Fatalf("Error parsing input %v: %v", test.input, err)
		}
		bytes, err := json.MarshalIndent(&m, "", " ")
		if err != nil {
			t.Fatalf("Error marshaling %v from input %v: %v", m, test.input, err)
		}
		actual := string(bytes)
		if actual != test.output {
			t.Fatalf("unexpected output:\n%v\n######\n%v$", actual, test.output)
		}
	}
}

func TestParseErrors(t *testing.T) {
	for _, input := range []string{
		`{"Foo": {"Type": "nosuch"}}`,
		`{"Baz": {}}`,
		`{"Bar": {"Type": "twoarg", "Arg1": -1}}`,
		`{"Bar": {"Type": "twoarg", "Arg1": "one"}}`,
		`[]`,
	} {
		if _, err := schema().Parse([]byte(input)); err == nil {
			t.Errorf("expected error parsing %s", input)
		}
	}
}

func TestGetConfigText(t *testing.T) {
	text, err := jsonconfig.GetConfigText(` {"Foo": {}}`, nil)
	if err != nil || string(text) != `{"Foo": {}}` {
		t.Errorf("literal JSON: got %q, %v", text, err)
	}

	path := filepath.Join(t.TempDir(), "site.json")
	if err := os.WriteFile(path, []byte(config1), 0644); err != nil {
		t.Fatal(err)
	}
	text, err = jsonconfig.GetConfigText(path, nil)
	if err != nil || string(text) != config1 {
		t.Errorf("file: got %q, %v", text, err)
	}

	_, err = jsonconfig.GetConfigText("missing.json", func(name string) ([]byte, error) {
		return nil, errors.New("no asset " + name)
	})
	if err == nil || !strings.Contains(err.Error(), "missing.json") {
		t.Errorf("expected asset error, got %v", err)
	}
}
