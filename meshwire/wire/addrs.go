package wire

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"sync"

	"github.com/pierrec/lz4/v4"

	"github.com/meshwire/meshwire/meshwire/directory"
	"github.com/meshwire/meshwire/meshwire/identity"
)

var (
	ErrAddrListCorrupt = errors.New("wire: address list payload corrupt")
)

// addrEntry is the wire form of a directory record.
type addrEntry struct {
	Key  string `json:"key"`
	Host string `json:"host"`
	Port uint16 `json:"port"`
}

const (
	addrListPlain      = 0
	addrListCompressed = 1
)

// Writer/reader pools keep the gossip hot path allocation-light.
var lz4WriterPool = sync.Pool{
	New: func() any { return lz4.NewWriter(nil) },
}

var lz4ReaderPool = sync.Pool{
	New: func() any { return lz4.NewReader(nil) },
}

// EncodeAddrList serializes records for an ADDR_LIST frame.
// The JSON body is LZ4-compressed when that actually shrinks it; a one
// byte prefix records which form was sent.
func EncodeAddrList(recs []directory.Record) ([]byte, error) {
	entries := make([]addrEntry, 0, len(recs))
	for _, rec := range recs {
		entries = append(entries, addrEntry{Key: rec.Key.String(), Host: rec.Host, Port: rec.Port})
	}
	body, err := json.Marshal(entries)
	if err != nil {
		return nil, err
	}

	compressed, err := lz4Compress(body)
	if err == nil && len(compressed) < len(body) {
		return append([]byte{addrListCompressed}, compressed...), nil
	}
	return append([]byte{addrListPlain}, body...), nil
}

func DecodeAddrList(payload []byte) ([]directory.Record, error) {
	if len(payload) == 0 {
		return nil, ErrAddrListCorrupt
	}

	body := payload[1:]
	switch payload[0] {
	case addrListPlain:
	case addrListCompressed:
		var err error
		body, err = lz4Decompress(body)
		if err != nil {
			return nil, err
		}
	default:
		return nil, ErrAddrListCorrupt
	}

	var entries []addrEntry
	if err := json.Unmarshal(body, &entries); err != nil {
		return nil, ErrAddrListCorrupt
	}

	recs := make([]directory.Record, 0, len(entries))
	for _, e := range entries {
		key, err := identity.ParseNodeKeyHex(e.Key)
		if err != nil {
			return nil, ErrAddrListCorrupt
		}
		recs = append(recs, directory.Record{Key: key, Host: e.Host, Port: e.Port})
	}
	return recs, nil
}

func lz4Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4WriterPool.Get().(*lz4.Writer)
	defer lz4WriterPool.Put(w)

	w.Reset(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func lz4Decompress(data []byte) ([]byte, error) {
	r := lz4ReaderPool.Get().(*lz4.Reader)
	defer lz4ReaderPool.Put(r)

	r.Reset(bytes.NewReader(data))
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return nil, ErrAddrListCorrupt
	}
	return buf.Bytes(), nil
}
