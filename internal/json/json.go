package json

import (
	gojson "encoding/json"

	"github.com/bytedance/sonic"
)

var (
	api = sonic.ConfigStd

	Marshal       = api.Marshal
	Unmarshal     = api.Unmarshal
	MarshalIndent = api.MarshalIndent
	NewDecoder    = api.NewDecoder
	NewEncoder    = api.NewEncoder
	Valid         = api.Valid
)

type (
	RawMessage = gojson.RawMessage
	Number     = gojson.Number
)
