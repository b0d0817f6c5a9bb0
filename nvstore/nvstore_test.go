package nvstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

// Small pages keep the transfer tests short: 4 bytes of header plus 8
// slots.
const testPageSize = headerSize + 8*4

func TestPutGet(t *testing.T) {
	s, err := Open(NewMemFlash(testPageSize), 3)
	require.NoError(t, err)

	_, ok := s.Get(0)
	require.False(t, ok)

	require.NoError(t, s.Put(0, 12))
	require.NoError(t, s.Put(1, 9))
	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(12), v)
	v, ok = s.Get(1)
	require.True(t, ok)
	require.Equal(t, uint16(9), v)
}

func TestNewestValueWins(t *testing.T) {
	s, err := Open(NewMemFlash(testPageSize), 3)
	require.NoError(t, err)

	for _, v := range []uint16{9, 12, 15, 20} {
		require.NoError(t, s.Put(0, v))
	}
	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(20), v)
}

func TestPageTransfer(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	s, err := Open(flash, 3)
	require.NoError(t, err)

	require.NoError(t, s.Put(1, 77))
	// Fill page 0 and keep going across several transfers.
	for i := 0; i < 40; i++ {
		require.NoError(t, s.Put(0, uint16(i)))
	}

	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(39), v)

	// The other key survived the transfers.
	v, ok = s.Get(1)
	require.True(t, ok)
	require.Equal(t, uint16(77), v)

	// Exactly one page is valid.
	p0, p1 := flash.ReadU16(0, 0), flash.ReadU16(1, 0)
	require.True(t, (p0 == statusValid) != (p1 == statusValid), "p0=%#x p1=%#x", p0, p1)
}

func TestOpenFormatsBlankFlash(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	_, err := Open(flash, 3)
	require.NoError(t, err)
	require.Equal(t, uint16(statusValid), flash.ReadU16(0, 0))
	require.Equal(t, uint16(statusErased), flash.ReadU16(1, 0))
}

func TestOpenRepairsInterruptedTransfer(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	s, err := Open(flash, 2)
	require.NoError(t, err)
	require.NoError(t, s.Put(0, 111))
	require.NoError(t, s.Put(1, 222))

	// Simulate dying mid-transfer: page 1 marked in-transfer with only the
	// new pair for key 0 written.
	require.NoError(t, flash.Program(1, 0, statusInTransfer))
	require.NoError(t, flash.Program(1, headerSize, 0))
	require.NoError(t, flash.Program(1, headerSize+2, 333))

	s, err = Open(flash, 2)
	require.NoError(t, err)

	// Page 1 is now the valid page and holds both keys.
	require.Equal(t, uint16(statusValid), flash.ReadU16(1, 0))
	require.Equal(t, uint16(statusErased), flash.ReadU16(0, 0))
	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(333), v)
	v, ok = s.Get(1)
	require.True(t, ok)
	require.Equal(t, uint16(222), v)
}

func TestOpenFinishesTransferFromErasedPage(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	// Page 0 erased, page 1 in transfer with complete data: the erase of
	// the old page happened but the valid marker did not make it.
	require.NoError(t, flash.Program(1, 0, statusInTransfer))
	require.NoError(t, flash.Program(1, headerSize, 0))
	require.NoError(t, flash.Program(1, headerSize+2, 444))

	s, err := Open(flash, 2)
	require.NoError(t, err)
	require.Equal(t, uint16(statusValid), flash.ReadU16(1, 0))
	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(444), v)
}

func TestOpenFormatsGarbage(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	require.NoError(t, flash.Program(0, 0, 0x1234))
	require.NoError(t, flash.Program(1, 0, 0x5678))

	s, err := Open(flash, 2)
	require.NoError(t, err)
	_, ok := s.Get(0)
	require.False(t, ok)
	require.NoError(t, s.Put(0, 1))
}

func TestMemFlashProgramOnlyClears(t *testing.T) {
	flash := NewMemFlash(testPageSize)
	require.NoError(t, flash.Program(0, 4, 0xeeee))
	require.NoError(t, flash.Program(0, 4, 0xff00))
	require.Equal(t, uint16(0xee00), flash.ReadU16(0, 4))
}

func TestFileFlashPersistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "store.bin")

	flash, err := OpenFileFlash(path, testPageSize)
	require.NoError(t, err)
	s, err := Open(flash, 2)
	require.NoError(t, err)
	require.NoError(t, s.Put(0, 15))

	flash, err = OpenFileFlash(path, testPageSize)
	require.NoError(t, err)
	s, err = Open(flash, 2)
	require.NoError(t, err)
	v, ok := s.Get(0)
	require.True(t, ok)
	require.Equal(t, uint16(15), v)
}
