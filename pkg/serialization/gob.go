package serialization

import (
	"encoding/gob"
	"io"
)

// JSON 形式的資料經由 interface 欄位傳遞，gob 需預先註冊其具體型別
func init() {
	gob.Register(map[string]any{})
	gob.Register([]any{})
}

// Gob 封裝 gob.Decoder 與 gob.Encoder，提供編碼與解碼
type Gob struct {
	dec *gob.Decoder
	enc *gob.Encoder
}

// Decode 從底層 gob.Decoder 解碼到 v
func (g *Gob) Decode(v any) error {
	return g.dec.Decode(v)
}

// Encode 以 gob 編碼 v
func (g *Gob) Encode(v any) error {
	return g.enc.Encode(v)
}

// GobDecoder 返回從 io.Reader 讀取 GOB 資料的 Decoder
func GobDecoder(r io.Reader) Decoder {
	return &Gob{dec: gob.NewDecoder(r)}
}

// GobEncoder 返回以 GOB 格式寫入 io.Writer 的 Encoder
func GobEncoder(w io.Writer) Encoder {
	return &Gob{enc: gob.NewEncoder(w)}
}
