package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	m "github.com/Meander-Cloud/go-pairsync/message"
)

// Frame header, seven bytes:
// 0 - pre-designated bit pattern indicating valid message
// 1 - protocol version
// 2 - sender id
// 3,4,5,6 - payload length of type uint32, little endian byte order
// followed by the msgpack encoded Message.

// invoked on arbiter goroutine
func writeWireData(
	logPrefix string,
	txid byte,
	connState *ConnState,
	messageStruct *m.Message,
) error {
	descriptor := connState.Data.Load().Descriptor

	buffer := bytes.NewBuffer(make([]byte, 0, typicalBufferLen))
	buffer.WriteByte(protocolPattern)
	buffer.WriteByte(protocolVersion)
	buffer.WriteByte(txid)

	// placeholder for payload length
	buffer.Write([]byte{0x00, 0x00, 0x00, 0x00})

	err := msgpack.NewEncoder(buffer).Encode(messageStruct)
	if err != nil {
		log.Printf("%s: %s: msgpack failed to encode messageStruct=%+v, err=%s", logPrefix, descriptor, messageStruct, err.Error())
		return err
	}

	buf := buffer.Bytes()
	// do not access buffer beyond this point

	bufLen := len(buf)
	payloadLen := uint32(bufLen - headerLen)
	if payloadLen > maxPayloadLen {
		err = fmt.Errorf("%s: %s: payloadLen=%d is too large", logPrefix, descriptor, payloadLen)
		log.Printf("%s", err.Error())
		return err
	}
	binary.LittleEndian.PutUint32(buf[3:headerLen], payloadLen)

	connState.Conn.SetWriteDeadline(time.Now().UTC().Add(tcpWriteDeadline))
	n, err := connState.Conn.Write(buf)
	if err != nil {
		log.Printf("%s: %s: failed to write %d bytes, err=%s", logPrefix, descriptor, bufLen, err.Error())
		return err
	}
	log.Printf("%s: %s: wrote %d bytes, header %X, kind=%s", logPrefix, descriptor, n, buf[0:headerLen], messageStruct.Kind())

	return nil
}

// invoked on ReadLoop goroutine
func readWireData(
	logPrefix string,
	descriptor string,
	reader io.Reader,
	rxidMap map[byte]struct{},
	logDebug bool,
) (*m.Message, error) {
	header := make([]byte, headerLen)
	_, err := io.ReadFull(reader, header)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: failed to read header bytes, err=%w", logPrefix, descriptor, err)
	}

	// protocol specific sanity check
	if header[0] != protocolPattern {
		return nil, fmt.Errorf("%s: %s: invalid protocol pattern in header bytes %X", logPrefix, descriptor, header)
	}
	if header[1] != protocolVersion {
		return nil, fmt.Errorf("%s: %s: unsupported protocol version in header bytes %X", logPrefix, descriptor, header)
	}
	_, found := rxidMap[header[2]]
	if !found {
		return nil, fmt.Errorf("%s: %s: unrecognized sender id in header bytes %X", logPrefix, descriptor, header)
	}

	payloadLen := binary.LittleEndian.Uint32(header[3:headerLen])
	if payloadLen > maxPayloadLen {
		return nil, fmt.Errorf("%s: %s: payloadLen=%d in header bytes %X is too large", logPrefix, descriptor, payloadLen, header)
	}

	payload := make([]byte, payloadLen)
	_, err = io.ReadFull(reader, payload)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: failed to read %d payload bytes, err=%w", logPrefix, descriptor, payloadLen, err)
	}

	messageStruct := new(m.Message)
	err = msgpack.Unmarshal(payload, messageStruct)
	if err != nil {
		return nil, fmt.Errorf("%s: %s: failed to unmarshal payload bytes %X, err=%w", logPrefix, descriptor, payload, err)
	}

	err = messageStruct.Validate()
	if err != nil {
		return nil, fmt.Errorf("%s: %s: %w", logPrefix, descriptor, err)
	}

	if logDebug {
		log.Printf("%s: %s: received messageStruct=%+v", logPrefix, descriptor, messageStruct)
	}

	return messageStruct, nil
}
