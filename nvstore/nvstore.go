// Package nvstore implements a small persistent store for 16-bit values at
// 16-bit keys, emulated on top of two erasable flash pages.
//
// Each page starts with a 4-byte header (2 bytes of status, 2 unused)
// followed by 4-byte slots of key and value. Writes append a new slot, so a
// key's newest value is the one closest to the end of the page. When the
// active page fills up, the newest value of every key is transferred to the
// other page and the full one is erased, spreading the erase wear across
// both pages. A status marker on the target page makes an interrupted
// transfer detectable and repairable at the next Open.
package nvstore

import "errors"

// Page status markers. The progression erased -> in-transfer -> valid only
// ever clears bits, so it can be recorded without erasing.
const (
	statusErased     = 0xffff
	statusInTransfer = 0xeeee
	statusValid      = 0x0000
)

const headerSize = 4

// Flash is the interface to the underlying two-page storage. Offsets are in
// bytes and 16-bit values are stored in the device's native order.
// Programming can only clear bits; only an erase sets them again.
type Flash interface {
	// PageSize returns the size of each of the two pages in bytes.
	PageSize() int

	// ErasePage resets every byte of the given page (0 or 1) to 0xff.
	ErasePage(page int) error

	// Program writes a 16-bit value at the given byte offset into the page.
	Program(page, off int, v uint16) error

	// ReadU16 reads the 16-bit value at the given byte offset of the page.
	ReadU16(page, off int) uint16
}

var (
	// ErrNoValidPage is returned when neither page carries a valid status.
	ErrNoValidPage = errors.New("nvstore: no valid page")

	// ErrStoreFull is returned by Put when a transfer cannot make room,
	// which happens when the number of keys does not fit a page.
	ErrStoreFull = errors.New("nvstore: store full")
)

// Store is a key/value store over two flash pages. Keys must be in the
// range 0 to numKeys-1.
type Store struct {
	flash   Flash
	numKeys int
}

// Open initializes the store, repairing the pages if a previous write or
// transfer was interrupted.
func Open(flash Flash, numKeys int) (*Store, error) {
	s := &Store{flash: flash, numKeys: numKeys}

	p0 := flash.ReadU16(0, 0)
	p1 := flash.ReadU16(1, 0)

	switch p0 {
	case statusValid:
		switch p1 {
		case statusErased:
			// Page 0 active, page 1 empty.
		case statusInTransfer:
			// Redo the interrupted transfer from page 0 to page 1.
			if err := s.redoTransfer(0, 1); err != nil {
				return nil, err
			}
		default:
			if err := s.format(); err != nil {
				return nil, err
			}
		}

	case statusErased:
		switch p1 {
		case statusValid:
			// Page 1 active, page 0 empty.
		case statusInTransfer:
			// The old page is already erased; finish marking page 1.
			if err := s.finishTransfer(0, 1); err != nil {
				return nil, err
			}
		default:
			if err := s.format(); err != nil {
				return nil, err
			}
		}

	case statusInTransfer:
		switch p1 {
		case statusValid:
			if err := s.redoTransfer(1, 0); err != nil {
				return nil, err
			}
		case statusErased:
			if err := s.finishTransfer(1, 0); err != nil {
				return nil, err
			}
		default:
			if err := s.format(); err != nil {
				return nil, err
			}
		}

	default:
		if err := s.format(); err != nil {
			return nil, err
		}
	}

	return s, nil
}

// Get returns the newest value stored for the key.
func (s *Store) Get(key uint16) (uint16, bool) {
	page, ok := s.pageForRead()
	if !ok {
		return 0, false
	}
	// The latest matching slot is the valid one, so scan from the back.
	for off := s.flash.PageSize() - 4; off >= headerSize; off -= 4 {
		if s.flash.ReadU16(page, off) == key {
			return s.flash.ReadU16(page, off+2), true
		}
	}
	return 0, false
}

// Put stores a value for the key, transferring to the other page when the
// active one is full.
func (s *Store) Put(key, value uint16) error {
	err := s.append(key, value)
	if err == errPageFull {
		err = s.transfer(key, value)
	}
	return err
}

// errPageFull is internal: the active page has no free slot.
var errPageFull = errors.New("nvstore: page full")

// pageForRead returns the page with valid status.
func (s *Store) pageForRead() (int, bool) {
	if s.flash.ReadU16(0, 0) == statusValid {
		return 0, true
	}
	if s.flash.ReadU16(1, 0) == statusValid {
		return 1, true
	}
	return 0, false
}

// pageForWrite returns the page new slots go to: the in-transfer page while
// a transfer is running, the valid page otherwise.
func (s *Store) pageForWrite() (int, bool) {
	p0 := s.flash.ReadU16(0, 0)
	p1 := s.flash.ReadU16(1, 0)
	switch {
	case p1 == statusValid:
		if p0 == statusInTransfer {
			return 0, true
		}
		return 1, true
	case p0 == statusValid:
		if p1 == statusInTransfer {
			return 1, true
		}
		return 0, true
	}
	return 0, false
}

// append writes the pair to the first free slot of the write page.
func (s *Store) append(key, value uint16) error {
	page, ok := s.pageForWrite()
	if !ok {
		return ErrNoValidPage
	}
	for off := headerSize; off+4 <= s.flash.PageSize(); off += 4 {
		if s.flash.ReadU16(page, off) == 0xffff && s.flash.ReadU16(page, off+2) == 0xffff {
			if err := s.flash.Program(page, off, key); err != nil {
				return err
			}
			return s.flash.Program(page, off+2, value)
		}
	}
	return errPageFull
}

// transfer moves the newest value of every key to the other page, with the
// given pair taking precedence for its key, then erases the old page.
func (s *Store) transfer(key, value uint16) error {
	from, ok := s.pageForRead()
	if !ok {
		return ErrNoValidPage
	}
	to := 1 - from

	if err := s.flash.Program(to, 0, statusInTransfer); err != nil {
		return err
	}

	// The triggering pair goes first so it becomes the key's newest value.
	if err := s.append(key, value); err != nil {
		if err == errPageFull {
			return ErrStoreFull
		}
		return err
	}
	if err := s.copySlots(key); err != nil {
		if err == errPageFull {
			return ErrStoreFull
		}
		return err
	}

	if err := s.flash.ErasePage(from); err != nil {
		return err
	}
	return s.flash.Program(to, 0, statusValid)
}

// copySlots appends the newest value of every key except skipKey to the
// write page.
func (s *Store) copySlots(skipKey uint16) error {
	for k := 0; k < s.numKeys; k++ {
		if uint16(k) == skipKey {
			continue
		}
		if v, ok := s.Get(uint16(k)); ok {
			if err := s.append(uint16(k), v); err != nil {
				return err
			}
		}
	}
	return nil
}

// redoTransfer re-runs a transfer that was interrupted while copying from
// the valid page to the in-transfer page. Already-copied slots may be
// copied again; the newer duplicate wins on read.
func (s *Store) redoTransfer(from, to int) error {
	firstKey := s.flash.ReadU16(to, headerSize)
	if err := s.copySlots(firstKey); err != nil {
		return err
	}
	return s.finishTransfer(from, to)
}

// finishTransfer erases the old page and marks the new one valid.
func (s *Store) finishTransfer(from, to int) error {
	if err := s.flash.ErasePage(from); err != nil {
		return err
	}
	return s.flash.Program(to, 0, statusValid)
}

// format erases both pages and marks page 0 as valid.
func (s *Store) format() error {
	if err := s.flash.ErasePage(0); err != nil {
		return err
	}
	if err := s.flash.Program(0, 0, statusValid); err != nil {
		return err
	}
	return s.flash.ErasePage(1)
}
