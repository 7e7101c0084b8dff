package sftp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// roundTrip encodes a and decodes the result, asserting decodeAttrs(w)
// reproduces the original field set exactly.
func roundTrip(t *testing.T, a Attrs) Attrs {
	t.Helper()
	w := newWriter()
	encodeAttrs(w, a)

	got, err := decodeAttrs(newReader(w.buf))
	require.NoError(t, err)
	return got
}

func TestAttrsRoundTripNoneSet(t *testing.T) {
	a := Attrs{}
	assert.Equal(t, a, roundTrip(t, a))
}

func TestAttrsRoundTripSizeOnly(t *testing.T) {
	a := Attrs{Flags: AttrSize, Size: 0x0102030405060708}
	assert.Equal(t, a, roundTrip(t, a))
}

func TestAttrsRoundTripUIDGIDOnly(t *testing.T) {
	a := Attrs{Flags: AttrUIDGID, UID: 1000, GID: 2000}
	assert.Equal(t, a, roundTrip(t, a))
}

func TestAttrsRoundTripPermissionsOnly(t *testing.T) {
	a := Attrs{Flags: AttrPermissions, Permissions: posixTypeDir | 0755}
	assert.Equal(t, a, roundTrip(t, a))
}

func TestAttrsRoundTripTimesOnly(t *testing.T) {
	a := Attrs{Flags: AttrACModTime, ATime: 1700000000, MTime: 1700000500}
	assert.Equal(t, a, roundTrip(t, a))
}

func TestAttrsRoundTripAllSet(t *testing.T) {
	a := AttrsFromStat(4096, 1000, 2000, posixTypeDir|0755, 1700000000, 1700000500)
	assert.Equal(t, a, roundTrip(t, a))
}

// TestAttrsRoundTripUnsetFieldsStayZero verifies that decodeAttrs never
// invents values for fields whose flag bit was not set — the wire form
// simply omits them, and the zero value is what a caller should read back.
func TestAttrsRoundTripUnsetFieldsStayZero(t *testing.T) {
	a := Attrs{Flags: AttrSize, Size: 42}
	got := roundTrip(t, a)
	assert.Zero(t, got.UID)
	assert.Zero(t, got.GID)
	assert.Zero(t, got.Permissions)
	assert.Zero(t, got.ATime)
	assert.Zero(t, got.MTime)
}
