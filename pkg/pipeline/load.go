package pipeline

import (
	"io"
	"os"

	"github.com/pkg/errors"
	"k8s.io/apimachinery/pkg/util/yaml"
)

// Load reads a pipeline manifest from r. Both YAML and JSON are accepted.
func Load(r io.Reader) (*Pipeline, error) {
	p := &Pipeline{}
	if err := yaml.NewYAMLOrJSONDecoder(r, 512).Decode(p); err != nil {
		return nil, errors.Wrap(err, "error unmarshalling pipeline manifest")
	}
	return p, nil
}

// LoadFile reads a pipeline manifest from the file at path.
func LoadFile(path string) (*Pipeline, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return Load(f)
}
