package schema

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"

	"github.com/codalotl/agentconform/internal/failure"
	"github.com/codalotl/agentconform/internal/jsonval"
)

// DefaultFileName is the file name used when the built-in schema is written to disk.
const DefaultFileName = "skill-analysis.schema.json"

//go:embed skill-analysis.schema.json
var defaultSchema []byte

var parseDefault = sync.OnceValue(func() jsonval.Value {
	v, err := jsonval.Parse(defaultSchema)
	if err != nil {
		panic(fmt.Sprintf("embedded schema is invalid: %v", err))
	}
	return v
})

// Default returns the built-in output-artifact schema.
func Default() jsonval.Value {
	return parseDefault()
}

// DefaultBytes returns a copy of the built-in schema document.
func DefaultBytes() []byte {
	return append([]byte(nil), defaultSchema...)
}

// Load reads a schema document. A missing or unparsable schema is a configuration error.
func Load(path string) (jsonval.Value, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return jsonval.Value{}, failure.Configf("schema file not found: %s", path)
		}
		return jsonval.Value{}, failure.Wrap(failure.KindConfiguration, "read schema "+path, err)
	}
	v, err := jsonval.Parse(data)
	if err != nil {
		return jsonval.Value{}, failure.Wrap(failure.KindConfiguration, "parse schema "+path, err)
	}
	if !v.IsObject() {
		return jsonval.Value{}, failure.Configf("schema %s must be a JSON object", path)
	}
	return v, nil
}

// LoadOrDefault loads path, or returns the built-in schema when path is empty.
func LoadOrDefault(path string) (jsonval.Value, error) {
	if path == "" {
		return Default(), nil
	}
	return Load(path)
}
