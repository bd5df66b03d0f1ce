// Package zarr reads chunked pyramidal array stores laid out as Zarr v2
// directories, the on-disk form of OME-Zarr (OME-NGFF) images.
//
// A store holds one array per resolution level. Each array directory carries
// a .zarray document (shape, chunk shape, dtype, compressor, fill value) and
// one file per chunk named by its chunk coordinates. Chunks that are absent
// on disk read as the fill value.
//
// # Supported Encodings
//
//   - dtypes: unsigned 8-bit and 16-bit, either byte order
//   - compressors: none, zlib, gzip, zstd, jpeg2k
//   - memory order: C (row-major)
//
// Anything else is rejected when the array is opened, so a render never
// starts on a store it cannot decode.
//
// # Thread Safety
//
// Arrays are immutable after Open. Read performs independent file reads and
// may be called from several goroutines at once.
package zarr
