package rowgroup

import (
	"github.com/cockroachdb/errors"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
)

// ConvertField writes column srcCol of src into column dstCol of dst,
// widening to the destination type. The destination type is expected to
// come from common.NormalizeTypes.
func ConvertField(src *Row, srcCol int, dst *Row, dstCol int) error {
	st, dt := src.ColType(srcCol), dst.ColType(dstCol)
	if src.IsNull(srcCol) {
		dst.SetNull(dstCol)
		return nil
	}
	if st.Equal(dt) {
		src.CopyField(dst, dstCol, srcCol)
		return nil
	}
	switch {
	case dt.Id.IsSignedInt():
		if !st.Id.IsInteger() {
			break
		}
		if st.Id.IsUnsignedInt() {
			dst.SetIntField(dstCol, int64(src.GetUintField(srcCol)))
		} else {
			dst.SetIntField(dstCol, src.GetIntField(srcCol))
		}
		return nil
	case dt.Id.IsUnsignedInt():
		if !st.Id.IsUnsignedInt() {
			break
		}
		dst.SetUintField(dstCol, src.GetUintField(srcCol))
		return nil
	case dt.Id.IsDecimal():
		if !st.Id.IsInteger() && !st.Id.IsDecimal() {
			break
		}
		v := common.RescaleDecimal(src.GetInt128Field(srcCol), src.scaleOf(srcCol), dt.Scale)
		if !dt.IsWideDecimal() && !v.FitsInt64() {
			return errors.AssertionFailedf("decimal overflow converting %s to %s", st, dt)
		}
		dst.SetInt128Field(dstCol, v)
		return nil
	case dt.Id == common.LTID_FLOAT:
		if !st.Id.IsNumeric() {
			break
		}
		dst.SetFloatField(dstCol, float32(src.GetNumberAsDouble(srcCol)))
		return nil
	case dt.Id == common.LTID_DOUBLE:
		if !st.Id.IsNumeric() {
			break
		}
		dst.SetDoubleField(dstCol, src.GetNumberAsDouble(srcCol))
		return nil
	case dt.Id.IsString():
		if !st.Id.IsString() {
			break
		}
		dst.SetStringField(dstCol, src.GetStringField(srcCol))
		return nil
	case dt.Id == common.LTID_DATETIME || dt.Id == common.LTID_TIMESTAMP:
		if st.Id != common.LTID_DATE && st.Id != common.LTID_DATETIME && st.Id != common.LTID_TIMESTAMP {
			break
		}
		dst.SetUintField(dstCol, src.temporalAsDatetime(srcCol))
		return nil
	case dt.Id == st.Id:
		src.CopyField(dst, dstCol, srcCol)
		return nil
	}
	return errors.AssertionFailedf("unsupported conversion %s to %s", st, dt)
}
