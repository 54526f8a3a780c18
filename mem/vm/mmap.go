package vm

import (
	"errors"
	"fmt"
)

// Mmap maps length bytes of file, starting at offset, to the pages starting
// at addr. The pages are loaded on demand. Bytes of the last page past the
// end of the file read as zero and are never written back. It returns addr.
func (as *AddressSpace) Mmap(
	addr uint64,
	length uint64,
	writable bool,
	file File,
	offset int64,
) (uint64, error) {
	err := as.validateMmap(addr, length, file, offset)
	if err != nil {
		return 0, err
	}

	as.mu.Lock()
	defer as.mu.Unlock()

	numPages := int((length + PageSize - 1) / PageSize)
	fileLeft := uint64(max(file.Size()-offset, 0))

	for i := 0; i < numPages; i++ {
		va := addr + uint64(i)*PageSize
		if _, found := as.spt.Find(va); found {
			return 0, fmt.Errorf("%w: 0x%x overlaps an existing page",
				ErrBadMapping, va)
		}
	}

	created := make([]uint64, 0, numPages)
	for i := 0; i < numPages; i++ {
		va := addr + uint64(i)*PageSize
		readBytes := min(fileLeft, PageSize)
		fileLeft -= readBytes

		mapping := FileMapping{
			File:      file,
			Offset:    offset + int64(i)*int64(PageSize),
			ReadBytes: readBytes,
		}

		_, err = as.requestLazyMapping(KindFile, va, writable, nil, mapping)
		if err != nil {
			return 0, errors.Join(err, as.removePages(created))
		}

		created = append(created, va)
	}

	as.mappings[addr] = numPages

	return addr, nil
}

func (as *AddressSpace) validateMmap(
	addr uint64,
	length uint64,
	file File,
	offset int64,
) error {
	layout := as.mgr.layout

	switch {
	case file == nil:
		return fmt.Errorf("%w: no file", ErrBadMapping)
	case addr == 0:
		return fmt.Errorf("%w: null address", ErrBadMapping)
	case PageOffset(addr) != 0:
		return fmt.Errorf("%w: 0x%x is not page aligned", ErrBadMapping, addr)
	case offset < 0 || PageOffset(uint64(offset)) != 0:
		return fmt.Errorf("%w: offset %d is not page aligned", ErrBadMapping, offset)
	case length == 0:
		return fmt.Errorf("%w: empty mapping", ErrBadMapping)
	case file.Size() == 0:
		return fmt.Errorf("%w: empty file", ErrBadMapping)
	case addr+length < addr || layout.IsKernelAddr(addr+length-1):
		return fmt.Errorf("%w: 0x%x+%d reaches kernel space",
			ErrBadMapping, addr, length)
	}

	return nil
}

// Munmap removes the mapping that Mmap created at addr. Pages that were
// written are saved to the file first.
func (as *AddressSpace) Munmap(addr uint64) error {
	as.mu.Lock()
	defer as.mu.Unlock()

	numPages, found := as.mappings[addr]
	if !found {
		return fmt.Errorf("%w: nothing mapped at 0x%x", ErrBadMapping, addr)
	}

	delete(as.mappings, addr)

	pages := make([]uint64, 0, numPages)
	for i := 0; i < numPages; i++ {
		pages = append(pages, addr+uint64(i)*PageSize)
	}

	return as.removePages(pages)
}

func (as *AddressSpace) removePages(vas []uint64) error {
	var errs []error

	for _, va := range vas {
		err := as.RemovePage(va)
		if err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}
