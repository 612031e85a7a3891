package pipeline

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/mitchellh/mapstructure"
)

// Load reads options from a JSON file. Keys not present keep their
// Default value.
func Load(filename string) (Options, error) {
	raw, err := os.ReadFile(filename)
	if err != nil {
		return Options{}, err
	}
	opts, err := Decode(bytes.NewReader(raw))
	if err != nil {
		return Options{}, fmt.Errorf("%s: %w", filename, err)
	}
	return opts, nil
}

// Decode reads JSON options from r on top of Default. Values are weakly
// typed, so "api_level": "19" is accepted, and a colon separated string
// can stand in for the directory list. Unknown keys are an error.
func Decode(r io.Reader) (Options, error) {
	var loose map[string]interface{}
	if err := json.NewDecoder(r).Decode(&loose); err != nil {
		return Options{}, err
	}
	return fromMap(loose)
}

// fromMap converts a loose map into options.
func fromMap(loose map[string]interface{}) (Options, error) {
	opts := Default()
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		ZeroFields:       true,
		DecodeHook:       mapstructure.StringToSliceHookFunc(":"),
		Result:           &opts,
	})
	if err != nil {
		return Options{}, err
	}
	if err := decoder.Decode(loose); err != nil {
		return Options{}, err
	}
	return opts, nil
}

// ToJSON serializes the options, the way the config command prints them.
func (o Options) ToJSON(pretty bool) ([]byte, error) {
	if pretty {
		return json.MarshalIndent(o, "", "  ")
	}
	return json.Marshal(o)
}
