package joinpartition

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/golang/snappy"

	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/common"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/rowgroup"
	"github.com/mariadb-corporation/mariadb-columnstore-engine-sub001/pkg/util"
)

// A spill file is a sequence of frames:
//
//	len(4) checksum(8) flags(1) payload(len)
//
// payload is one serialized row batch, snappy compressed when flags has
// frameSnappy set.
const (
	frameSnappy uint8 = 1
	frameSeed         = 0x5eed
)

// encodeFrame returns the frame bytes of data.
func encodeFrame(rg *rowgroup.RowGroup, data *rowgroup.RGData, compress bool) ([]byte, error) {
	bs := util.NewByteStream()
	if err := rowgroup.SerializeRGData(rg, data, bs); err != nil {
		return nil, err
	}
	payload := bs.Bytes()
	var flags uint8
	if compress {
		payload = snappy.Encode(nil, payload)
		flags |= frameSnappy
	}
	frame := util.NewByteStream()
	if err := util.Write[uint32](uint32(len(payload)), frame); err != nil {
		return nil, err
	}
	if err := util.Write[uint64](util.HashBytes(payload, frameSeed), frame); err != nil {
		return nil, err
	}
	if err := util.Write[uint8](flags, frame); err != nil {
		return nil, err
	}
	if err := frame.WriteData(payload, len(payload)); err != nil {
		return nil, err
	}
	return frame.Bytes(), nil
}

// appendFrame writes frame at the end of the file at path.
func appendFrame(path string, frame []byte) error {
	serial, err := util.NewFileSerialize(path)
	if err != nil {
		return errors.Mark(errors.Wrapf(err, "open spill file %s", path), common.ErrDiskIO)
	}
	if err = serial.WriteData(frame, len(frame)); err != nil {
		_ = serial.Close()
		return errors.Mark(errors.Wrapf(err, "write spill file %s", path), common.ErrDiskIO)
	}
	if err = serial.Close(); err != nil {
		return errors.Mark(errors.Wrapf(err, "close spill file %s", path), common.ErrDiskIO)
	}
	return nil
}

// frameReader reads the batches of one spill file in write order.
type frameReader struct {
	_path   string
	_rg     *rowgroup.RowGroup
	_deser  *util.FileDeserialize
	_onRead func(n int64)
}

func openFrameReader(path string, rg *rowgroup.RowGroup, onRead func(n int64)) (*frameReader, error) {
	deser, err := util.NewFileDeserialize(path)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "open spill file %s", path), common.ErrDiskIO)
	}
	return &frameReader{_path: path, _rg: rg, _deser: deser, _onRead: onRead}, nil
}

// Next returns nil at the end of the file.
func (fr *frameReader) Next() (*rowgroup.RGData, error) {
	var size uint32
	var sum uint64
	var flags uint8
	err := util.Read[uint32](&size, fr._deser)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fr.ioError(err)
	}
	if err = util.Read[uint64](&sum, fr._deser); err != nil {
		return nil, fr.ioError(err)
	}
	if err = util.Read[uint8](&flags, fr._deser); err != nil {
		return nil, fr.ioError(err)
	}
	payload := make([]byte, size)
	if err = fr._deser.ReadData(payload, int(size)); err != nil {
		return nil, fr.ioError(err)
	}
	if util.HashBytes(payload, frameSeed) != sum {
		return nil, common.NewJobError(common.ERR_DISK_IO, "spill file %s: checksum mismatch", fr._path)
	}
	if fr._onRead != nil {
		fr._onRead(int64(13 + size))
	}
	if flags&frameSnappy != 0 {
		payload, err = snappy.Decode(nil, payload)
		if err != nil {
			return nil, fr.ioError(err)
		}
	}
	return rowgroup.DeserializeRGData(fr._rg, util.NewByteStreamFrom(payload))
}

func (fr *frameReader) ioError(err error) error {
	return errors.Mark(
		errors.Wrapf(err, "read spill file %s", fr._path),
		common.ErrDiskIO)
}

func (fr *frameReader) Close() error {
	return fr._deser.Close()
}
