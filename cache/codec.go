package cache

import (
	"github.com/fxamacker/cbor/v2"
)

// Index values (tag -> identifiers, identifier -> tags) are stored as CBOR
// arrays of text strings using Core Deterministic Encoding, so equal lists
// always produce identical bytes.
var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("cache: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("cache: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodeList(list []string) ([]byte, error) {
	return encMode.Marshal(list)
}

func decodeList(data []byte) ([]string, error) {
	var list []string
	if err := decMode.Unmarshal(data, &list); err != nil {
		return nil, err
	}
	return list, nil
}
