package rowgroup

import (
	"github.com/cockroachdb/errors"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

const (
	rgDataMagic uint32 = 0x52474431

	// fixed rows followed by the string table
	modeStringTable uint8 = 1
	// long strings inline in every row
	modeInline uint8 = 2
)

// SerializeRGData writes data in the layout selected by rg.UseStringTable.
//
//	magic(4) status(2) mode(1) colCount(4) rowSize(4) rowCount(4) body
func SerializeRGData(rg *RowGroup, data *RGData, serial util.Serialize) error {
	util.AssertFunc(data._rowSize == rg._rowSize)
	mode := modeInline
	if rg._useStringTable || !rg.HasLongString() {
		mode = modeStringTable
	}
	if err := util.Write[uint32](rgDataMagic, serial); err != nil {
		return err
	}
	if err := util.Write[uint16](uint16(data._status), serial); err != nil {
		return err
	}
	if err := util.Write[uint8](mode, serial); err != nil {
		return err
	}
	if err := util.Write[uint32](uint32(rg.ColumnCount()), serial); err != nil {
		return err
	}
	if err := util.Write[uint32](uint32(rg._rowSize), serial); err != nil {
		return err
	}
	if err := util.Write[uint32](uint32(data._rowCount), serial); err != nil {
		return err
	}
	if mode == modeStringTable {
		return serializeStringTable(data, serial)
	}
	return serializeInline(rg, data, serial)
}

func serializeStringTable(data *RGData, serial util.Serialize) error {
	n := data._rowCount * data._rowSize
	if n > 0 {
		if err := serial.WriteData(data._rowData[:n], n); err != nil {
			return err
		}
	}
	cnt := 0
	if data._strings != nil {
		cnt = data._strings.Count()
	}
	if err := util.Write[uint32](uint32(cnt), serial); err != nil {
		return err
	}
	for i := 0; i < cnt; i++ {
		if err := util.WriteString(data._strings.Get(uint64(i)), serial); err != nil {
			return err
		}
	}
	return nil
}

func serializeInline(rg *RowGroup, data *RGData, serial util.Serialize) error {
	row := Row{_rg: rg, _data: data}
	for i := 0; i < data._rowCount; i++ {
		row._idx = i
		for col := 0; col < rg.ColumnCount(); col++ {
			if !rg.ColType(col).IsLongString() {
				f := row.field(col)
				if err := serial.WriteData(f, len(f)); err != nil {
					return err
				}
				continue
			}
			isNull := row.IsNull(col)
			if err := util.Write[bool](isNull, serial); err != nil {
				return err
			}
			if isNull {
				continue
			}
			if err := util.WriteString(row.GetStringField(col), serial); err != nil {
				return err
			}
		}
	}
	return nil
}

// DeserializeRGData reads one batch written by SerializeRGData for the
// same schema.
func DeserializeRGData(rg *RowGroup, deserial util.Deserialize) (*RGData, error) {
	var magic uint32
	var status uint16
	var mode uint8
	var colCount, rowSize, rowCount uint32
	if err := util.Read[uint32](&magic, deserial); err != nil {
		return nil, err
	}
	if magic != rgDataMagic {
		return nil, errors.AssertionFailedf("bad row batch magic %x", magic)
	}
	if err := util.Read[uint16](&status, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[uint8](&mode, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[uint32](&colCount, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[uint32](&rowSize, deserial); err != nil {
		return nil, err
	}
	if err := util.Read[uint32](&rowCount, deserial); err != nil {
		return nil, err
	}
	if int(colCount) != rg.ColumnCount() || int(rowSize) != rg._rowSize {
		return nil, errors.AssertionFailedf("row batch schema mismatch: %d cols %d bytes, want %d cols %d bytes",
			colCount, rowSize, rg.ColumnCount(), rg._rowSize)
	}
	data := NewRGData(rg, int(rowCount))
	data._status = common.ErrCode(status)
	data._rowCount = int(rowCount)
	var err error
	switch mode {
	case modeStringTable:
		err = deserializeStringTable(data, deserial)
	case modeInline:
		err = deserializeInline(rg, data, deserial)
	default:
		err = errors.AssertionFailedf("bad row batch mode %d", mode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "deserialize row batch")
	}
	return data, nil
}

func deserializeStringTable(data *RGData, deserial util.Deserialize) error {
	n := data._rowCount * data._rowSize
	if n > 0 {
		if err := deserial.ReadData(data._rowData[:n], n); err != nil {
			return err
		}
	}
	var cnt uint32
	if err := util.Read[uint32](&cnt, deserial); err != nil {
		return err
	}
	if cnt > 0 && data._strings == nil {
		return errors.AssertionFailedf("string table without long string columns")
	}
	for i := uint32(0); i < cnt; i++ {
		s, err := util.ReadString(deserial)
		if err != nil {
			return err
		}
		data._strings.Add(s)
	}
	return nil
}

func deserializeInline(rg *RowGroup, data *RGData, deserial util.Deserialize) error {
	row := Row{_rg: rg, _data: data}
	for i := 0; i < data._rowCount; i++ {
		row._idx = i
		for col := 0; col < rg.ColumnCount(); col++ {
			if !rg.ColType(col).IsLongString() {
				f := row.field(col)
				if err := deserial.ReadData(f, len(f)); err != nil {
					return err
				}
				continue
			}
			var isNull bool
			if err := util.Read[bool](&isNull, deserial); err != nil {
				return err
			}
			if isNull {
				row.SetNull(col)
				continue
			}
			s, err := util.ReadString(deserial)
			if err != nil {
				return err
			}
			row.SetStringField(col, s)
		}
	}
	return nil
}
