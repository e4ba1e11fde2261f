package serialization

const (

	// JSONType JSON 序列化
	JSONType = "json"

	// GobType Gob 序列化
	GobType = "gob"

	// MsgpackType MessagePack 序列化
	MsgpackType = "msgpack"
)

// Decoder 序列化解碼接口
type Decoder interface {
	Decode(v any) error
}

// Encoder 序列化編碼接口
type Encoder interface {
	Encode(v any) error
}
