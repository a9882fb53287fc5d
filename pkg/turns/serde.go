package turns

import (
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// MarshalHistory serializes a history to YAML for run persistence and
// debugging dumps.
func MarshalHistory(h History) ([]byte, error) {
	b, err := yaml.Marshal(h)
	if err != nil {
		return nil, errors.Wrap(err, "marshal history")
	}
	return b, nil
}

// UnmarshalHistory parses a YAML history dump produced by MarshalHistory.
func UnmarshalHistory(data []byte) (History, error) {
	var h History
	if err := yaml.Unmarshal(data, &h); err != nil {
		return nil, errors.Wrap(err, "unmarshal history")
	}
	return h, nil
}
