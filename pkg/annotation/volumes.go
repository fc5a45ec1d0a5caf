package annotation

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformedVolumePayload is returned when a volume payload is not a JSON
// object of integer values
var ErrMalformedVolumePayload = errors.New("malformed volume payload")

// ParseVolumes decodes a keyword -> volume object. The whole payload is
// rejected if any value is not an integer.
func ParseVolumes(data []byte) (map[string]int, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.UseNumber()

	var raw map[string]json.Number
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedVolumePayload, err)
	}
	if raw == nil {
		return nil, fmt.Errorf("%w: not an object", ErrMalformedVolumePayload)
	}

	volumes := make(map[string]int, len(raw))
	for keyword, n := range raw {
		v, err := n.Int64()
		if err != nil {
			return nil, fmt.Errorf("%w: volume for %q: %v", ErrMalformedVolumePayload, keyword, err)
		}
		volumes[keyword] = int(v)
	}
	return volumes, nil
}
