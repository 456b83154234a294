package layertools

import (
	"github.com/aramperes/spring-boot-layertools/internal/jartype"
	"github.com/aramperes/spring-boot-layertools/internal/layers"
)

// Record describes one entry of the archive's central directory.
type Record = jartype.Record

// Method identifies the compression method of an entry.
type Method = jartype.Method

// Compression methods.
const (
	MethodStore   = jartype.MethodStore
	MethodDeflate = jartype.MethodDeflate
	MethodZstd    = jartype.MethodZstd
)

// ErrorKind classifies a per-entry extraction failure.
type ErrorKind = jartype.ErrorKind

// Error kinds reported in [Report.Errors] and [Report.Warnings].
const (
	KindDecode     = jartype.KindDecode
	KindChecksum   = jartype.KindChecksum
	KindWrite      = jartype.KindWrite
	KindUnsafePath = jartype.KindUnsafePath
	KindCanceled   = jartype.KindCanceled
)

// EntryError records why a single entry could not be extracted.
type EntryError = jartype.EntryError

// ClassificationError reports an entry that matched no layer rule.
// It matches ErrUnmapped with errors.Is.
type ClassificationError = jartype.ClassificationError

// DefaultLayer is the single layer used for jars without a layer index.
const DefaultLayer = layers.DefaultLayer
