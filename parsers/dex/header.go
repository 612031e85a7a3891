package dex

// https://source.android.com/devices/tech/dalvik/dex-format.html
const (
	endianConstant        = 0x12345678
	reverseEndianConstant = 0x78563412
	headerSize            = 0x70
	odexHeaderSize        = 40
	classDefSize          = 32

	// NoIndex marks an absent optional index (superclass, source file, ...)
	NoIndex = 0xffffffff
)

var (
	dexMagicPrefix  = [4]byte{'d', 'e', 'x', '\n'}
	odexMagicPrefix = [4]byte{'d', 'e', 'y', '\n'}
)

//
// Upper case fields are intentional (to allow filling in the contents
// of this struct via encoding/binary).
//
type Header struct {
	// https://source.android.com/devices/tech/dalvik/dex-format.html#header-item
	Magic         [8]byte
	Checksum      uint32
	Signature     [20]byte
	FileSize      uint32
	HeaderSize    uint32
	EndianTag     uint32
	LinkSize      uint32
	LinkOff       uint32
	MapOff        uint32
	StringIdsSize uint32
	StringIdsOff  uint32
	TypeIdsSize   uint32
	TypeIdsOff    uint32
	ProtoIdsSize  uint32
	ProtoIdsOff   uint32
	FieldIdsSize  uint32
	FieldIdsOff   uint32
	MethodIdsSize uint32
	MethodIdsOff  uint32
	ClassDefsSize uint32
	ClassDefsOff  uint32
	DataSize      uint32
	DataOff       uint32
}

// OdexHeader precedes the embedded dex in an optimized container.
type OdexHeader struct {
	Magic      [8]byte
	DexOffset  uint32
	DexLength  uint32
	DepsOffset uint32
	DepsLength uint32
	AuxOffset  uint32
	AuxLength  uint32
	Flags      uint32
	Padding    uint32
}

// Version returns the three digit format version from the magic, or 0.
func (h *Header) Version() int {
	return magicVersion(h.Magic)
}

// Version returns the odex format version, 35 or 36.
func (h *OdexHeader) Version() int {
	return magicVersion(h.Magic)
}

func magicVersion(m [8]byte) int {
	v := 0
	for _, c := range m[4:7] {
		if c < '0' || c > '9' {
			return 0
		}
		v = v*10 + int(c-'0')
	}
	if m[7] != 0 {
		return 0
	}
	return v
}

// Map item type codes.
// https://source.android.com/devices/tech/dalvik/dex-format.html#type-codes
const (
	TypeHeaderItem               = 0x0000
	TypeStringIDItem             = 0x0001
	TypeTypeIDItem               = 0x0002
	TypeProtoIDItem              = 0x0003
	TypeFieldIDItem              = 0x0004
	TypeMethodIDItem             = 0x0005
	TypeClassDefItem             = 0x0006
	TypeCallSiteIDItem           = 0x0007
	TypeMethodHandleItem         = 0x0008
	TypeMapList                  = 0x1000
	TypeTypeList                 = 0x1001
	TypeAnnotationSetRefList     = 0x1002
	TypeAnnotationSetItem        = 0x1003
	TypeClassDataItem            = 0x2000
	TypeCodeItem                 = 0x2001
	TypeStringDataItem           = 0x2002
	TypeDebugInfoItem            = 0x2003
	TypeAnnotationItem           = 0x2004
	TypeEncodedArrayItem         = 0x2005
	TypeAnnotationsDirectoryItem = 0x2006
	TypeHiddenapiClassDataItem   = 0xf000
)

var mapTypeNames = map[uint16]string{
	TypeHeaderItem:               "header_item",
	TypeStringIDItem:             "string_id_item",
	TypeTypeIDItem:               "type_id_item",
	TypeProtoIDItem:              "proto_id_item",
	TypeFieldIDItem:              "field_id_item",
	TypeMethodIDItem:             "method_id_item",
	TypeClassDefItem:             "class_def_item",
	TypeCallSiteIDItem:           "call_site_id_item",
	TypeMethodHandleItem:         "method_handle_item",
	TypeMapList:                  "map_list",
	TypeTypeList:                 "type_list",
	TypeAnnotationSetRefList:     "annotation_set_ref_list",
	TypeAnnotationSetItem:        "annotation_set_item",
	TypeClassDataItem:            "class_data_item",
	TypeCodeItem:                 "code_item",
	TypeStringDataItem:           "string_data_item",
	TypeDebugInfoItem:            "debug_info_item",
	TypeAnnotationItem:           "annotation_item",
	TypeEncodedArrayItem:         "encoded_array_item",
	TypeAnnotationsDirectoryItem: "annotations_directory_item",
	TypeHiddenapiClassDataItem:   "hiddenapi_class_data_item",
}

// MapItem is one entry of the map_list section.
type MapItem struct {
	Type   uint16
	Size   uint32
	Offset uint32
}

// TypeName returns the format's name for the item type.
func (m MapItem) TypeName() string {
	if n, ok := mapTypeNames[m.Type]; ok {
		return n
	}
	return "unknown"
}
