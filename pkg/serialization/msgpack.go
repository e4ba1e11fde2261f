package serialization

import (
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// Msgpack 封裝 msgpack 的編碼器與解碼器
type Msgpack struct {
	dec *msgpack.Decoder
	enc *msgpack.Encoder
}

func (m *Msgpack) Decode(v any) error {
	return m.dec.Decode(v)
}

func (m *Msgpack) Encode(v any) error {
	return m.enc.Encode(v)
}

// MsgpackDecoder 返回從 r 讀取 MessagePack 資料的 Decoder
func MsgpackDecoder(r io.Reader) Decoder {
	return &Msgpack{dec: msgpack.NewDecoder(r)}
}

// MsgpackEncoder 返回以 MessagePack 格式寫入 w 的 Encoder
func MsgpackEncoder(w io.Writer) Encoder {
	return &Msgpack{enc: msgpack.NewEncoder(w)}
}
