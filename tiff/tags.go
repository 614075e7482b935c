package tiff

import "fmt"

// Tag identifies a directory field.
type Tag uint16

const (
	NewSubfileType            Tag = 254
	ImageWidth                Tag = 256
	ImageLength               Tag = 257
	BitsPerSample             Tag = 258
	Compression               Tag = 259
	PhotometricInterpretation Tag = 262
	FillOrder                 Tag = 266
	ImageDescription          Tag = 270
	StripOffsets              Tag = 273
	SamplesPerPixel           Tag = 277
	RowsPerStrip              Tag = 278
	StripByteCounts           Tag = 279
	XResolution               Tag = 282
	YResolution               Tag = 283
	PlanarConfiguration       Tag = 284
	Software                  Tag = 305
	Predictor                 Tag = 317
	ColorMap                  Tag = 320
	TileWidth                 Tag = 322
	TileLength                Tag = 323
	TileOffsets               Tag = 324
	TileByteCounts            Tag = 325
	ExtraSamples              Tag = 338
	SampleFormat              Tag = 339
	JPEGTables                Tag = 347
	ModelPixelScale           Tag = 33550
	ModelTiepoint             Tag = 33922
	ModelTransformation       Tag = 34264
	GeoKeyDirectory           Tag = 34735
	GeoDoubleParams           Tag = 34736
	GeoASCIIParams            Tag = 34737
	GDALMetadata              Tag = 42112
	GDALNoData                Tag = 42113
	LERCParameters            Tag = 50674
)

var tagToLabel = map[Tag]string{
	NewSubfileType:            "NewSubfileType",
	ImageWidth:                "ImageWidth",
	ImageLength:               "ImageLength",
	BitsPerSample:             "BitsPerSample",
	Compression:               "Compression",
	PhotometricInterpretation: "PhotometricInterpretation",
	FillOrder:                 "FillOrder",
	ImageDescription:          "ImageDescription",
	StripOffsets:              "StripOffsets",
	SamplesPerPixel:           "SamplesPerPixel",
	RowsPerStrip:              "RowsPerStrip",
	StripByteCounts:           "StripByteCounts",
	XResolution:               "XResolution",
	YResolution:               "YResolution",
	PlanarConfiguration:       "PlanarConfiguration",
	Software:                  "Software",
	Predictor:                 "Predictor",
	ColorMap:                  "ColorMap",
	TileWidth:                 "TileWidth",
	TileLength:                "TileLength",
	TileOffsets:               "TileOffsets",
	TileByteCounts:            "TileByteCounts",
	ExtraSamples:              "ExtraSamples",
	SampleFormat:              "SampleFormat",
	JPEGTables:                "JPEGTables",
	ModelPixelScale:           "ModelPixelScale",
	ModelTiepoint:             "ModelTiepoint",
	ModelTransformation:       "ModelTransformation",
	GeoKeyDirectory:           "GeoKeyDirectory",
	GeoDoubleParams:           "GeoDoubleParams",
	GeoASCIIParams:            "GeoASCIIParams",
	GDALMetadata:              "GDALMetadata",
	GDALNoData:                "GDALNoData",
	LERCParameters:            "LERCParameters",
}

func (t Tag) String() string {
	v, ok := tagToLabel[t]
	if !ok {
		return fmt.Sprintf("%d", t)
	}
	return v
}

// DataType is the on-disk type of a directory entry's values.
type DataType uint16

const (
	Byte      DataType = 1
	ASCII     DataType = 2
	Short     DataType = 3
	Long      DataType = 4
	Rational  DataType = 5
	SByte     DataType = 6
	Undefined DataType = 7
	SShort    DataType = 8
	SLong     DataType = 9
	SRational DataType = 10
	Float     DataType = 11
	Double    DataType = 12
	IFD       DataType = 13
	Long8     DataType = 16
	SLong8    DataType = 17
	IFD8      DataType = 18
)

// dataTypeLen is the length of every data type in bytes, 0 when unknown.
var dataTypeLen = [...]int{
	0, 1, 1, 2, // 0-3
	4, 8, 1, 1, // 4-7
	2, 4, 8, 4, // 8-11
	8, 4, // 12-13 (DOUBLE, IFD)
	0, 0, // 14-15
	8, 8, 8, // 16-18 (LONG8, SLONG8, IFD8)
}

var dataTypeToLabel = map[DataType]string{
	Byte:      "BYTE",
	ASCII:     "ASCII",
	Short:     "SHORT",
	Long:      "LONG",
	Rational:  "RATIONAL",
	SByte:     "SBYTE",
	Undefined: "UNDEFINED",
	SShort:    "SSHORT",
	SLong:     "SLONG",
	SRational: "SRATIONAL",
	Float:     "FLOAT",
	Double:    "DOUBLE",
	IFD:       "IFD",
	Long8:     "LONG8",
	SLong8:    "SLONG8",
	IFD8:      "IFD8",
}

func (d DataType) String() string {
	v, ok := dataTypeToLabel[d]
	if !ok {
		return fmt.Sprintf("unrecognized data type %d", d)
	}
	return v
}

// Size returns the number of bytes of one value, 0 if unrecognized.
func (d DataType) Size() int {
	if int(d) >= len(dataTypeLen) {
		return 0
	}
	return dataTypeLen[d]
}

func (d DataType) isInteger() bool {
	switch d {
	case Byte, Short, Long, SByte, SShort, SLong, IFD, Long8, SLong8, IFD8, Undefined:
		return true
	}
	return false
}

func (d DataType) isSigned() bool {
	switch d {
	case SByte, SShort, SLong, SLong8, SRational:
		return true
	}
	return false
}

// Compression codes.
const (
	CompressionNone     = 1
	CompressionCCITTRLE = 2
	CompressionG3       = 3
	CompressionG4       = 4
	CompressionLZW      = 5
	CompressionOldJPEG  = 6
	CompressionJPEG     = 7
	CompressionDeflate  = 8
	CompressionPackBits = 32773
	CompressionDeflateO = 32946
	CompressionLZMA     = 34925
	CompressionLERC     = 34887
	CompressionZSTD     = 50000
	CompressionWebP     = 50001
	CompressionJXL      = 50002
)

// Predictor codes.
const (
	PredictorNone          = 1
	PredictorHorizontal    = 2
	PredictorFloatingPoint = 3
)

// SampleFormat codes.
const (
	SampleFormatUint  = 1
	SampleFormatInt   = 2
	SampleFormatFloat = 3
	SampleFormatVoid  = 4
)

// PlanarConfiguration codes.
const (
	PlanarContig   = 1
	PlanarSeparate = 2
)

// PhotometricInterpretation codes.
const (
	PhotometricWhiteIsZero = 0
	PhotometricBlackIsZero = 1
	PhotometricRGB         = 2
	PhotometricPalette     = 3
	PhotometricMask        = 4
	PhotometricSeparated   = 5
	PhotometricYCbCr       = 6
)

// NewSubfileType bits.
const (
	SubfileReducedImage = 1
	SubfilePage         = 2
	SubfileMask         = 4
)

const (
	littleEndian      = "II"
	bigEndian         = "MM"
	tiffIdentifier    = 42
	bigTiffIdentifier = 43
	bigTiffBytesize   = 8
)
