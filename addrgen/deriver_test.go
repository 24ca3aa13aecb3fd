package addrgen

import (
	"bytes"
	"strings"
	"testing"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/stretchr/testify/require"
)

// testXpub derives a deterministic extended public key for the given network.
func testXpub(t *testing.T, params *chaincfg.Params) string {
	t.Helper()

	seed := bytes.Repeat([]byte{0x2a}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, params)
	require.NoError(t, err)

	pub, err := master.Neuter()
	require.NoError(t, err)

	return pub.String()
}

// TestParsePath checks the accepted and rejected derivation path forms.
func TestParsePath(t *testing.T) {
	t.Parallel()

	tests := []struct {
		path   string
		exp    Path
		expErr error
	}{
		{path: "m/0", exp: Path{0}},
		{path: "m/0/7", exp: Path{0, 7}},
		{path: "1/2", exp: Path{1, 2}},
		{path: "m", exp: Path{}},
		{path: "m/0'", expErr: ErrHardenedPath},
		{path: "m/44h/0", expErr: ErrHardenedPath},
		{path: "m/2147483648", expErr: ErrHardenedPath},
		{path: "", expErr: ErrInvalidPath},
		{path: "m//1", expErr: ErrInvalidPath},
		{path: "m/x", expErr: ErrInvalidPath},
	}

	for _, test := range tests {
		path, err := ParsePath(test.path)
		if test.expErr != nil {
			require.ErrorIs(t, err, test.expErr, test.path)
			continue
		}

		require.NoError(t, err, test.path)
		require.Equal(t, test.exp, path, test.path)
	}

	path, err := ParsePath("m/0/5")
	require.NoError(t, err)
	require.Equal(t, "m/0/5", path.String())
}

// TestNetworkParams checks the network selector letters.
func TestNetworkParams(t *testing.T) {
	t.Parallel()

	for selector, exp := range map[string]*chaincfg.Params{
		"b": &chaincfg.MainNetParams,
		"B": &chaincfg.MainNetParams,
		"s": &chaincfg.SigNetParams,
		"t": &chaincfg.TestNet3Params,
		"r": &chaincfg.RegressionNetParams,
	} {
		params, err := NetworkParams(selector)
		require.NoError(t, err)
		require.Equal(t, exp.Name, params.Name)
	}

	_, err := NetworkParams("x")
	require.Error(t, err)
}

// TestDeriverAddresses asserts that addresses are deterministic, distinct per
// index and encoded as P2WPKH for the configured network.
func TestDeriverAddresses(t *testing.T) {
	t.Parallel()

	params := &chaincfg.SigNetParams
	deriver, err := NewDeriver(testXpub(t, params), Path{0}, params)
	require.NoError(t, err)

	seen := make(map[string]struct{})
	for i := uint32(0); i < 20; i++ {
		addr, err := deriver.AddressAt(i)
		require.NoError(t, err)
		require.True(t, strings.HasPrefix(addr, "tb1q"), addr)

		again, err := deriver.AddressAt(i)
		require.NoError(t, err)
		require.Equal(t, addr, again)

		decoded, err := btcutil.DecodeAddress(addr, params)
		require.NoError(t, err)
		require.IsType(t, &btcutil.AddressWitnessPubKeyHash{}, decoded)

		seen[addr] = struct{}{}
	}
	require.Len(t, seen, 20)

	// A different path yields a different branch.
	other, err := NewDeriver(testXpub(t, params), Path{1}, params)
	require.NoError(t, err)

	a, err := deriver.AddressAt(0)
	require.NoError(t, err)
	b, err := other.AddressAt(0)
	require.NoError(t, err)
	require.NotEqual(t, a, b)
}

// TestDeriverCursor asserts NewAddress hands out indexes monotonically and
// that ResetCursor moves the allocation point.
func TestDeriverCursor(t *testing.T) {
	t.Parallel()

	params := &chaincfg.MainNetParams
	deriver, err := NewDeriver(testXpub(t, params), Path{0}, params)
	require.NoError(t, err)
	require.Zero(t, deriver.NextUnusedIndex())

	index, addr, err := deriver.NewAddress()
	require.NoError(t, err)
	require.Zero(t, index)
	require.True(t, strings.HasPrefix(addr, "bc1q"), addr)
	require.EqualValues(t, 1, deriver.NextUnusedIndex())

	deriver.ResetCursor(8)
	index, addr, err = deriver.NewAddress()
	require.NoError(t, err)
	require.EqualValues(t, 8, index)

	exp, err := deriver.AddressAt(8)
	require.NoError(t, err)
	require.Equal(t, exp, addr)
	require.EqualValues(t, 9, deriver.NextUnusedIndex())

	deriver.ResetCursor(hdkeychain.HardenedKeyStart)
	_, _, err = deriver.NewAddress()
	require.ErrorIs(t, err, ErrIndexExhausted)
}

// TestNewDeriverRejects covers the configuration errors that must stop the
// daemon before it starts serving requests.
func TestNewDeriverRejects(t *testing.T) {
	t.Parallel()

	// A mainnet xpub is not accepted for signet.
	_, err := NewDeriver(
		testXpub(t, &chaincfg.MainNetParams), Path{0},
		&chaincfg.SigNetParams,
	)
	require.ErrorIs(t, err, ErrNetworkMismatch)

	// Private keys are refused outright.
	seed := bytes.Repeat([]byte{0x01}, hdkeychain.RecommendedSeedLen)
	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	require.NoError(t, err)
	_, err = NewDeriver(
		master.String(), Path{0}, &chaincfg.MainNetParams,
	)
	require.ErrorIs(t, err, ErrPrivateKey)

	// Garbage is not a key.
	_, err = NewDeriver("xpubnope", Path{0}, &chaincfg.MainNetParams)
	require.Error(t, err)
}
