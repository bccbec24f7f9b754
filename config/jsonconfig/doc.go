/*
Jsonconfig reads JSON into a set of named, typed Implementations.

To use:

 1. Create the Schema. List your configurable options. Each option
    can be backed by several named Implementations.
 2. Schema.Parse parses bytes and creates a Configuration.
    a) for each option, pick the Implementation named by its "Type".
    b) json.Unmarshal the json into that Implementation
    c) Validate it
 3. The caller type-switches on each Implementation to build what it describes.

Example:
1) Create the Schema

	schema := jsonconfig.Schema(map[string]jsonconfig.Implementations{
	 "Driver": {
	  "local": &LocalConfig{},
	  "lsf":   &BatchConfig{},
	  "":      &LocalConfig{Type: "local"},
	 },
	})

2) Parse

	cfg, _ := schema.Parse([]byte(`{
	 "Driver": {
	  "Type": "lsf",
	  "Queue": "mr"
	 }
	}`)

# Notes

Implementations are pointers shared with the Schema, so build a fresh Schema
for every Parse.
*/
package jsonconfig
