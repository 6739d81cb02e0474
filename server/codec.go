package server

import (
	"fmt"

	"connectrpc.com/connect"
	"github.com/fxamacker/cbor/v2"
)

// CodecName is the content subtype of heap service messages.
const CodecName = "cbor"

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	em, err := cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR enc mode: %v", err))
	}
	encMode = em

	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("server: failed to create CBOR dec mode: %v", err))
	}
	decMode = dm
}

// cborCodec carries plain Go structs over Connect.
type cborCodec struct{}

func (cborCodec) Name() string { return CodecName }

func (cborCodec) Marshal(msg any) ([]byte, error) {
	return encMode.Marshal(msg)
}

func (cborCodec) Unmarshal(data []byte, msg any) error {
	if len(data) == 0 {
		return nil
	}
	return decMode.Unmarshal(data, msg)
}

// Codec returns the option installing the CBOR codec on a handler or client.
func Codec() connect.Option {
	return connect.WithCodec(cborCodec{})
}
