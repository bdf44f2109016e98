package pmrecover

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVerbosity_FlagParsing(t *testing.T) {
	v := newVerbosity(2, "segment, tower:false ,RECLAIM:on")
	require.True(t, v.enabled("segment"))
	require.False(t, v.enabled("tower"))
	require.True(t, v.enabled("reclaim"))
	require.False(t, v.enabled("unknown"))
}

func TestVerbosity_EmptyFlags(t *testing.T) {
	v := newVerbosity(0, "")
	require.False(t, v.enabled("segment"))
}
