package common

import (
	"testing"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/assert"
)

func TestShorten(t *testing.T) {
	assert.Equal(t, "0xabcd", Shorten("abcd", 4))
	assert.Equal(t, "0x0123...cdef", Shorten("0x0123456789abcdef", 4))
}

func TestHexRoundTrip(t *testing.T) {
	b := RandBytes(20)
	s := ByteSliceToPureHexStr(b)
	assert.Len(t, s, 40)
	assert.Equal(t, b, HexStrToByteSlice(s))
	assert.Equal(t, b, HexStrToByteSlice("0x"+s))
}

func TestBtcNetParams(t *testing.T) {
	assert.Equal(t, &chaincfg.MainNetParams, BtcNetParams("mainnet"))
	assert.Equal(t, &chaincfg.TestNet3Params, BtcNetParams("testnet"))
	assert.Equal(t, &chaincfg.RegressionNetParams, BtcNetParams("whatever"))
}
