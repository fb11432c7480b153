package serializer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJSONSerializer(t *testing.T) {
	var s Serializer = JSONSerializer{}

	type handshake struct {
		ServiceType int `json:"serviceType"`
	}
	data, err := s.Marshal(handshake{ServiceType: 2})
	require.NoError(t, err)
	assert.JSONEq(t, `{"serviceType":2}`, string(data))

	var out handshake
	require.NoError(t, s.Unmarshal(data, &out))
	assert.Equal(t, 2, out.ServiceType)

	assert.Error(t, s.Unmarshal([]byte("{"), &out))
}
