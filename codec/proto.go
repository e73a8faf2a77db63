package codec

import (
	"encoding/json"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// Proto stores V as a protobuf google.protobuf.Value built from V's JSON form.
// Useful when the cold tier is shared with services that only speak protobuf.
// The zero value is ready to use.
type Proto[V any] struct{}

var _ Codec[struct{}] = Proto[struct{}]{}

func (Proto[V]) Encode(v V) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	pv, err := structpb.NewValue(generic)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(pv)
}

func (Proto[V]) Decode(b []byte) (V, error) {
	var v V
	pv := &structpb.Value{}
	if err := proto.Unmarshal(b, pv); err != nil {
		return v, err
	}
	raw, err := json.Marshal(pv.AsInterface())
	if err != nil {
		return v, err
	}
	err = json.Unmarshal(raw, &v)
	return v, err
}
