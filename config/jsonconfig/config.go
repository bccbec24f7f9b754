package jsonconfig

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
)

// Schema holds the different Implementations's the client wants to configure
type Schema map[string]Implementations

// EmptySchema returns an empty Schema, needed if you don't allow configuration
func EmptySchema() Schema {
	return map[string]Implementations{}
}

// Implementations maps the the names of implementations to the Implementation
// As a special case, "" maps to a default implementation that will be used
// when the option is absent or has no Type.
type Implementations map[string]Implementation

// Implementation is one way to configure an option.
// It is filled in by json.Unmarshal and prints its configuration via
// json.Marshal; Validate rejects values that parsed but make no sense.
type Implementation interface {
	Validate() error
}

type Configuration map[string]Implementation

// Names lists the configured options, sorted.
func (c Configuration) Names() []string {
	names := make([]string, 0, len(c))
	for n := range c {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

var emptyJson = []byte("{}")

func (schema Schema) Parse(text []byte) (Configuration, error) {
	var parsedConfig map[string]json.RawMessage
	if len(text) == 0 {
		text = emptyJson
	}
	err := json.Unmarshal(text, &parsedConfig)
	if err != nil {
		return nil, fmt.Errorf("Couldn't parse top-level config: %v", err)
	}
	for name := range parsedConfig {
		if _, ok := schema[name]; !ok {
			return nil, fmt.Errorf("Unknown config option %q", name)
		}
	}

	result := Configuration(make(map[string]Implementation))
	// Parse each option (aka Implementations, which isn't a valid variable name)
	for optionName, impls := range schema {
		optionText := parsedConfig[optionName]
		// Parse this Implementations's JSON just enough to get the type
		implName, err := parseType(optionText)
		if err != nil {
			return nil, fmt.Errorf("Error parsing type for Implementations %v: %v", optionName, err)
		}
		impl, ok := impls[implName]
		if !ok {
			return nil, fmt.Errorf("Error parsing Implementations %v: %q is not a valid Implementation, want one of %v",
				optionName, implName, implNames(impls))
		}
		if len(optionText) > 0 {
			// Now parse it fully, with the right Implementation
			err = json.Unmarshal(optionText, &impl)
			if err != nil {
				return nil, fmt.Errorf("Error parsing variable %v: %v", optionName, err)
			}
		}
		if err := impl.Validate(); err != nil {
			return nil, fmt.Errorf("Invalid %v: %v", optionName, err)
		}
		result[optionName] = impl
	}
	log.WithFields(log.Fields{
		"options": result.Names(),
	}).Debug("config parsed")
	return result, nil
}

func implNames(impls Implementations) []string {
	var names []string
	for n := range impls {
		if n != "" {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// Find the type, which is simply the string value for the key "Type"
func parseType(data json.RawMessage) (string, error) {
	if len(data) == 0 {
		return "", nil
	}
	var t struct{ Type string }
	err := json.Unmarshal(data, &t)
	if err != nil {
		return "", err
	}
	return t.Type, nil
}

// GetConfigText finds the right text for a configFlag.
// If configFlag looks like a JSON object it is used literally.
// Otherwise it is a file name, read with asset (os.ReadFile if nil).
func GetConfigText(configFlag string, asset func(string) ([]byte, error)) ([]byte, error) {
	trimmed := strings.TrimSpace(configFlag)
	if trimmed == "" || strings.HasPrefix(trimmed, "{") {
		log.Debug("using config flag as literal JSON")
		return []byte(trimmed), nil
	}
	if asset == nil {
		asset = os.ReadFile
	}
	log.WithFields(log.Fields{"file": configFlag}).Info("reading config file")
	configText, err := asset(configFlag)
	if err != nil {
		return nil, fmt.Errorf("Error Loading Config File %v: %v", configFlag, err)
	}
	return configText, nil
}
