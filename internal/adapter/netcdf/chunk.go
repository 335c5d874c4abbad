package netcdf

// #cgo pkg-config: netcdf
// #include <stdlib.h>
// #include <netcdf.h>
import "C"

import (
	"unsafe"

	"github.com/fhs/go-netcdf/netcdf"

	"github.com/couchcryptid/lake-forcing-etl/internal/domain"
)

// The binding exposes compression but not chunking, so chunk layout goes
// through libnetcdf directly using the dataset id it hands out.

func varID(ds netcdf.Dataset, name string) (C.int, error) {
	cname := C.CString(name)
	defer C.free(unsafe.Pointer(cname))
	var id C.int
	if rc := C.nc_inq_varid(C.int(ds), cname, &id); rc != C.NC_NOERR {
		return 0, netcdf.Error(rc)
	}
	return id, nil
}

// defineChunking sets a 2-D chunk shape on a variable in define mode.
func defineChunking(ds netcdf.Dataset, name string, c domain.ChunkShape) error {
	id, err := varID(ds, name)
	if err != nil {
		return err
	}
	sizes := [2]C.size_t{C.size_t(c.Rows), C.size_t(c.Cols)}
	if rc := C.nc_def_var_chunking(C.int(ds), id, C.NC_CHUNKED, &sizes[0]); rc != C.NC_NOERR {
		return netcdf.Error(rc)
	}
	return nil
}

// chunking reports the stored chunk shape of a 2-D variable. ok is false for
// contiguous storage.
func chunking(ds netcdf.Dataset, name string) (c domain.ChunkShape, ok bool, err error) {
	id, err := varID(ds, name)
	if err != nil {
		return c, false, err
	}
	var storage C.int
	var sizes [2]C.size_t
	if rc := C.nc_inq_var_chunking(C.int(ds), id, &storage, &sizes[0]); rc != C.NC_NOERR {
		return c, false, netcdf.Error(rc)
	}
	if storage != C.NC_CHUNKED {
		return c, false, nil
	}
	return domain.ChunkShape{Rows: int(sizes[0]), Cols: int(sizes[1])}, true, nil
}
