package discovery

import "github.com/vmihailenco/msgpack/v5"

// Topic is the reserved Bus Client topic peer presence records are
// published and subscribed on.
const Topic = "aitt/discovery"

const statusKey = "status"

// Record is the wire shape of one peer presence update: a self-describing
// map with a "status" entry plus one opaque sub-blob per active protocol
// tag (e.g. "tcp", "udp_srtp"). Sub-blob contents are opaque to Discovery.
type Record map[string]any

func newRecord(status string, blobs map[string][]byte) Record {
	r := make(Record, len(blobs)+1)
	r[statusKey] = status
	for tag, blob := range blobs {
		r[tag] = blob
	}
	return r
}

func encodeRecord(r Record) ([]byte, error) {
	return msgpack.Marshal(map[string]any(r))
}

func decodeRecord(data []byte) (Record, error) {
	var m map[string]any
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return Record(m), nil
}

// Status returns the record's connected/disconnected field.
func (r Record) Status() string {
	s, _ := r[statusKey].(string)
	return s
}

// Blob returns the sub-blob registered under tag, or nil if absent.
func (r Record) Blob(tag string) []byte {
	switch v := r[tag].(type) {
	case []byte:
		return v
	case string:
		return []byte(v)
	default:
		return nil
	}
}
