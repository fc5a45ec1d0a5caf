package annotation

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Wire markers of the upstream text protocol
const (
	DataPrefix   = "data: "
	EndMarker    = "[END]"
	VolumeMarker = "SEARCH_VOLUMES"
)

// FrameKind classifies one decoded stream line
type FrameKind int

const (
	FrameText FrameKind = iota
	FrameEnd
	FrameVolumes
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameEnd:
		return "end"
	case FrameVolumes:
		return "volumes"
	default:
		return fmt.Sprintf("FrameKind(%d)", int(k))
	}
}

// Frame is one event of a turn stream
type Frame struct {
	Kind FrameKind
	Data string // response text, or the JSON payload for FrameVolumes
}

// DecodeLine decodes a single "data: " line. Lines without the prefix
// report false.
func DecodeLine(line string) (Frame, bool) {
	if !strings.HasPrefix(line, DataPrefix) {
		return Frame{}, false
	}
	payload := line[len(DataPrefix):]

	switch {
	case strings.TrimSpace(payload) == EndMarker:
		return Frame{Kind: FrameEnd}, true
	case strings.HasPrefix(payload, VolumeMarker):
		return Frame{Kind: FrameVolumes, Data: payload[len(VolumeMarker):]}, true
	default:
		return Frame{Kind: FrameText, Data: payload}, true
	}
}

// Reader decodes frames from a line-oriented event stream
type Reader struct {
	reader *bufio.Reader
}

// NewReader creates a frame reader
func NewReader(r io.Reader) *Reader {
	return &Reader{reader: bufio.NewReader(r)}
}

// Next returns the next frame. Returns io.EOF when the stream ends.
func (r *Reader) Next() (Frame, error) {
	for {
		line, err := r.reader.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			if frame, ok := DecodeLine(line); ok {
				return frame, nil
			}
		}
		if err != nil {
			return Frame{}, err
		}
	}
}
