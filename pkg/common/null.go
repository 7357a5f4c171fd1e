package common

const (
	TINYINTNULL   uint64 = 0x80
	SMALLINTNULL  uint64 = 0x8000
	INTNULL       uint64 = 0x80000000
	BIGINTNULL    uint64 = 0x8000000000000000
	UTINYINTNULL  uint64 = 0xFE
	USMALLINTNULL uint64 = 0xFFFE
	UINTNULL      uint64 = 0xFFFFFFFE
	UBIGINTNULL   uint64 = 0xFFFFFFFFFFFFFFFE
	FLOATNULL     uint64 = 0xFFAAAAAA
	DOUBLENULL    uint64 = 0xFFFAAAAAAAAAAAAA
	CHAR1NULL     uint64 = 0xFE
	CHAR2NULL     uint64 = 0xFEFF
	CHAR4NULL     uint64 = 0xFEFFFFFF
	CHAR8NULL     uint64 = 0xFEFFFFFFFFFFFFFF
	DATENULL      uint64 = 0xFFFFFFFE
	DATETIMENULL  uint64 = 0xFFFFFFFFFFFFFFFE
	TIMESTAMPNULL uint64 = 0xFFFFFFFFFFFFFFFE
	TIMENULL      uint64 = 0xFFFFFFFFFFFFFFFE
	// handle of a NULL long string
	STRINGNULL uint64 = 0xFFFFFFFFFFFFFFFF
)

// WideDecimalNull is the int128 minimum.
var WideDecimalNull = Hugeint{Upper: -1 << 63, Lower: 0}

type nullKey struct {
	id    LTypeId
	width int
}

var nullSentinels = map[nullKey]uint64{
	{LTID_TINYINT, 1}:   TINYINTNULL,
	{LTID_SMALLINT, 2}:  SMALLINTNULL,
	{LTID_MEDINT, 4}:    INTNULL,
	{LTID_INT, 4}:       INTNULL,
	{LTID_BIGINT, 8}:    BIGINTNULL,
	{LTID_UTINYINT, 1}:  UTINYINTNULL,
	{LTID_USMALLINT, 2}: USMALLINTNULL,
	{LTID_UMEDINT, 4}:   UINTNULL,
	{LTID_UINT, 4}:      UINTNULL,
	{LTID_UBIGINT, 8}:   UBIGINTNULL,
	{LTID_FLOAT, 4}:     FLOATNULL,
	{LTID_DOUBLE, 8}:    DOUBLENULL,
	{LTID_DECIMAL, 1}:   TINYINTNULL,
	{LTID_DECIMAL, 2}:   SMALLINTNULL,
	{LTID_DECIMAL, 4}:   INTNULL,
	{LTID_DECIMAL, 8}:   BIGINTNULL,
	{LTID_UDECIMAL, 1}:  TINYINTNULL,
	{LTID_UDECIMAL, 2}:  SMALLINTNULL,
	{LTID_UDECIMAL, 4}:  INTNULL,
	{LTID_UDECIMAL, 8}:  BIGINTNULL,
	{LTID_CHAR, 1}:      CHAR1NULL,
	{LTID_CHAR, 2}:      CHAR2NULL,
	{LTID_CHAR, 4}:      CHAR4NULL,
	{LTID_CHAR, 8}:      CHAR8NULL,
	{LTID_VARCHAR, 1}:   CHAR1NULL,
	{LTID_VARCHAR, 2}:   CHAR2NULL,
	{LTID_VARCHAR, 4}:   CHAR4NULL,
	{LTID_VARCHAR, 8}:   CHAR8NULL,
	{LTID_DATE, 4}:      DATENULL,
	{LTID_DATETIME, 8}:  DATETIMENULL,
	{LTID_TIMESTAMP, 8}: TIMESTAMPNULL,
	{LTID_TIME, 8}:      TIMENULL,
}

// NullSentinel returns the bit pattern that marks NULL in a column of type
// lt. ok is false for wide decimals, use WideDecimalNull for those.
func NullSentinel(lt LType) (uint64, bool) {
	if lt.IsLongString() {
		return STRINGNULL, true
	}
	v, ok := nullSentinels[nullKey{lt.Id, lt.StorageWidth()}]
	return v, ok
}

func IsNullBits(lt LType, bits uint64) bool {
	s, ok := NullSentinel(lt)
	return ok && s == bits
}
