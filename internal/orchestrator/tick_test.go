package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTickEncodeDecodeRoundTrip(t *testing.T) {
	tick := Tick{Chain: "bsc", Kind: KindShareRate, Phase: PhaseHistorical}

	payload, err := tick.encode()
	require.NoError(t, err)

	decoded, err := decodeTick(payload)
	require.NoError(t, err)
	require.Equal(t, tick, decoded)
}

func TestTickEncodeUsesStringEnums(t *testing.T) {
	payload, err := Tick{Chain: "eth", Kind: KindOraclePrice, Phase: PhaseRecent}.encode()
	require.NoError(t, err)
	require.JSONEq(t, `{"chain":"eth","kind":"oracle-price","phase":"recent"}`, string(payload))
}

func TestDecodeTickRejectsMalformedPayload(t *testing.T) {
	_, err := decodeTick([]byte("not json"))
	require.Error(t, err)
}
