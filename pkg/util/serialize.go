// Copyright 2023-2024 daviszhen
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
// http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package util

import (
	"bufio"
	"io"
	"os"
	"unsafe"
)

type Serialize interface {
	WriteData(buffer []byte, len int) error
	Close() error
}

type Deserialize interface {
	ReadData(buffer []byte, len int) error
	Close() error
}

// Fixed is the set of values Write and Read move as raw bytes.
type Fixed interface {
	~bool | ~int8 | ~uint8 | ~int16 | ~uint16 | ~int32 | ~uint32 |
		~int64 | ~uint64 | ~float32 | ~float64
}

func Write[T Fixed](value T, serial Serialize) error {
	cnt := int(unsafe.Sizeof(value))
	buf := unsafe.Slice((*byte)(unsafe.Pointer(&value)), cnt)
	return serial.WriteData(buf, cnt)
}

func Read[T Fixed](value *T, deserial Deserialize) error {
	cnt := int(unsafe.Sizeof(*value))
	buf := unsafe.Slice((*byte)(unsafe.Pointer(value)), cnt)
	return deserial.ReadData(buf, cnt)
}

func WriteBytes(data []byte, serial Serialize) error {
	err := Write[uint32](uint32(len(data)), serial)
	if err != nil {
		return err
	}
	if len(data) > 0 {
		return serial.WriteData(data, len(data))
	}
	return nil
}

func ReadBytes(deserial Deserialize) ([]byte, error) {
	var l uint32
	err := Read[uint32](&l, deserial)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, l)
	if l > 0 {
		err = deserial.ReadData(buf, int(l))
		if err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func WriteString(s string, serial Serialize) error {
	return WriteBytes([]byte(s), serial)
}

func ReadString(deserial Deserialize) (string, error) {
	buf, err := ReadBytes(deserial)
	if err != nil {
		return "", err
	}
	return string(buf), nil
}

var _ Serialize = new(FileSerialize)

type FileSerialize struct {
	file *os.File
	w    *bufio.Writer
}

func NewFileSerialize(name string) (*FileSerialize, error) {
	var err error
	ret := &FileSerialize{}
	ret.file, err = os.OpenFile(name, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0644)
	if err != nil {
		return nil, err
	}
	ret.w = bufio.NewWriter(ret.file)
	return ret, nil
}

func (serial *FileSerialize) WriteData(buffer []byte, len int) error {
	_, err := serial.w.Write(buffer[:len])
	return err
}

func (serial *FileSerialize) Flush() error {
	return serial.w.Flush()
}

func (serial *FileSerialize) Close() error {
	err := serial.w.Flush()
	cerr := serial.file.Close()
	if err != nil {
		return err
	}
	return cerr
}

var _ Deserialize = new(FileDeserialize)

type FileDeserialize struct {
	file *os.File
	r    *bufio.Reader
}

func NewFileDeserialize(name string) (*FileDeserialize, error) {
	var err error
	ret := &FileDeserialize{}
	ret.file, err = os.Open(name)
	if err != nil {
		return nil, err
	}
	ret.r = bufio.NewReader(ret.file)
	return ret, nil
}

// ReadData returns io.EOF only when nothing was read.
func (deserial *FileDeserialize) ReadData(buffer []byte, len int) error {
	_, err := io.ReadFull(deserial.r, buffer[:len])
	return err
}

func (deserial *FileDeserialize) Close() error {
	return deserial.file.Close()
}

var _ Serialize = new(ByteStream)
var _ Deserialize = new(ByteStream)

// ByteStream is an in-memory, restartable stream.
type ByteStream struct {
	data []byte
	rpos int
}

func NewByteStream() *ByteStream {
	return &ByteStream{}
}

func NewByteStreamFrom(data []byte) *ByteStream {
	return &ByteStream{data: data}
}

// Restart drops both written and unread data.
func (bs *ByteStream) Restart() {
	bs.data = bs.data[:0]
	bs.rpos = 0
}

// Rewind keeps the data and restarts reading from the beginning.
func (bs *ByteStream) Rewind() {
	bs.rpos = 0
}

func (bs *ByteStream) Bytes() []byte {
	return bs.data[bs.rpos:]
}

func (bs *ByteStream) Len() int {
	return len(bs.data) - bs.rpos
}

func (bs *ByteStream) WriteData(buffer []byte, len int) error {
	bs.data = append(bs.data, buffer[:len]...)
	return nil
}

func (bs *ByteStream) ReadData(buffer []byte, len int) error {
	if bs.Len() == 0 && len > 0 {
		return io.EOF
	}
	if bs.Len() < len {
		return io.ErrUnexpectedEOF
	}
	copy(buffer[:len], bs.data[bs.rpos:bs.rpos+len])
	bs.rpos += len
	return nil
}

func (bs *ByteStream) Close() error {
	return nil
}
