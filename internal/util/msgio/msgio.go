// Package msgio 提供 uvarint 长度前缀的消息读写
//
// 帧格式：[uvarint 长度][消息体]，用于 identify、autonat、relay 与 gossipsub RPC。
package msgio

import (
	"bufio"
	"errors"
	"fmt"
	"io"

	"github.com/multiformats/go-varint"
)

// ErrMsgTooLarge 消息超出长度上限
var ErrMsgTooLarge = errors.New("msgio: message too large")

// WriteMsg 写入一条带长度前缀的消息
func WriteMsg(w io.Writer, msg []byte) error {
	buf := make([]byte, 0, varint.UvarintSize(uint64(len(msg)))+len(msg))
	buf = append(buf, varint.ToUvarint(uint64(len(msg)))...)
	buf = append(buf, msg...)
	_, err := w.Write(buf)
	return err
}

// Reader 带缓冲的消息读取器，同一流上应复用同一个 Reader
type Reader struct {
	br  *bufio.Reader
	max int
}

// NewReader 创建读取器，max 为单条消息长度上限
func NewReader(r io.Reader, max int) *Reader {
	return &Reader{br: bufio.NewReader(r), max: max}
}

// ReadMsg 读取一条消息
func (r *Reader) ReadMsg() ([]byte, error) {
	n, err := varint.ReadUvarint(r.br)
	if err != nil {
		return nil, err
	}
	if n > uint64(r.max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMsgTooLarge, n, r.max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r.br, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadMsg 从 r 读取单条消息，适合一问一答的短流
func ReadMsg(r io.Reader, max int) ([]byte, error) {
	return NewReader(r, max).ReadMsg()
}

// ReadMsgExact 读取单条消息且不预读
//
// 消息之后的字节仍留在 r 中，用于报文交换后转为原始字节流的场景（中继电路）。
func ReadMsgExact(r io.Reader, max int) ([]byte, error) {
	n, err := varint.ReadUvarint(byteReader{r})
	if err != nil {
		return nil, err
	}
	if n > uint64(max) {
		return nil, fmt.Errorf("%w: %d > %d", ErrMsgTooLarge, n, max)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return nil, err
	}
	return buf, nil
}

type byteReader struct {
	r io.Reader
}

func (b byteReader) ReadByte() (byte, error) {
	var one [1]byte
	if _, err := io.ReadFull(b.r, one[:]); err != nil {
		return 0, err
	}
	return one[0], nil
}
