package logging

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMaskFieldRedactsSensitiveKeys(t *testing.T) {
	attr := MaskField("rpc_url", "https://mainnet.example/v2/secret-key")
	require.Equal(t, "rpc_url", attr.Key)
	require.Equal(t, RedactedValue, attr.Value.String())
}

func TestMaskFieldPassesAllowlistedKeys(t *testing.T) {
	attr := MaskField("protocol", "aave-v3")
	require.Equal(t, "aave-v3", attr.Value.String())

	attr = MaskField("sender", "0x00000000000000000000000000000000000000aa")
	require.Equal(t, "0x00000000000000000000000000000000000000aa", attr.Value.String())
}

func TestMaskFieldKeepsEmptyValues(t *testing.T) {
	attr := MaskField("rpc_url", "")
	require.Equal(t, "", attr.Value.String())
}

func TestRedactionAllowlistSorted(t *testing.T) {
	keys := RedactionAllowlist()
	require.NotEmpty(t, keys)
	for i := 1; i < len(keys); i++ {
		require.Less(t, keys[i-1], keys[i])
	}
	require.True(t, IsAllowlisted("Error"))
	require.False(t, IsAllowlisted("signature"))
}
