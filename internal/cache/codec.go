package cache

import (
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
)

// storedTile 是写入引擎的值格式。时间以带标签的 RFC3339 纳秒字符串保存，nil 表示未设置。
type storedTile struct {
	Data         []byte     `cbor:"1,keyasint"`
	LastModified *time.Time `cbor:"2,keyasint,omitempty"`
	Expires      *time.Time `cbor:"3,keyasint,omitempty"`
	ETag         string     `cbor:"4,keyasint,omitempty"`
}

var tileEncMode = mustEncMode(cbor.EncOptions{
	Time:    cbor.TimeRFC3339Nano,
	TimeTag: cbor.EncTagRequired,
})

func mustEncMode(opts cbor.EncOptions) cbor.EncMode {
	mode, err := opts.EncMode()
	if err != nil {
		panic(fmt.Sprintf("cbor encode mode: %v", err))
	}
	return mode
}

func encodeRecord(rec TileRecord) ([]byte, error) {
	st := storedTile{
		Data:         rec.Data,
		LastModified: rec.LastModified,
		Expires:      rec.Expires,
		ETag:         rec.ETag,
	}
	if st.Data == nil {
		st.Data = []byte{}
	}
	value, err := tileEncMode.Marshal(st)
	if err != nil {
		return nil, fmt.Errorf("encode tile %s: %w", rec.Key, err)
	}
	return value, nil
}

func decodeRecord(key TileKey, value []byte) (TileRecord, error) {
	var st storedTile
	if err := cbor.Unmarshal(value, &st); err != nil {
		return TileRecord{}, fmt.Errorf("decode tile %s: %w", key, err)
	}
	return TileRecord{
		Key:          key,
		Data:         st.Data,
		LastModified: st.LastModified,
		Expires:      st.Expires,
		ETag:         st.ETag,
	}, nil
}
