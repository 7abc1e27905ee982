package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/things-go/modbus-sim/internal/protocol"
	"github.com/things-go/modbus-sim/internal/register"
)

// ServerSession tcp server session
type ServerSession struct {
	conn         net.Conn
	readTimeout  time.Duration
	writeTimeout time.Duration
	*serverCommon
	*protocol.Clogs
}

// handler net conn
func (sf *ServerSession) running(ctx context.Context) {
	var err error

	sf.Debugf("client(%v) -> server(%v) connected", sf.conn.RemoteAddr(), sf.conn.LocalAddr())
	defer func() {
		sf.conn.Close()
		sf.Debugf("client(%v) -> server(%v) disconnected,cause by %v", sf.conn.RemoteAddr(), sf.conn.LocalAddr(), err)
	}()

	raw := make([]byte, protocol.TCPAduMaxSize)
	for {
		select {
		case <-ctx.Done():
			err = errors.New("server active close")
			return
		default:
		}

		if err = sf.conn.SetReadDeadline(time.Now().Add(sf.readTimeout)); err != nil {
			return
		}
		if _, err = io.ReadFull(sf.conn, raw[:protocol.TCPHeaderMbapSize]); err != nil {
			if err == io.EOF {
				err = fmt.Errorf("remote client closed, %v", err)
			}
			return
		}
		head := protocol.DecodeHeader(raw)
		// length counts the unit id plus the pdu
		if head.ProtocolID != protocol.TCPProtocolIdentifier ||
			head.Length < protocol.PDUMinSize+1 || head.Length > protocol.PDUMaxSize+1 {
			err = fmt.Errorf("modbus: bad mbap header protocol id '%v' length '%v'", head.ProtocolID, head.Length)
			return
		}
		length := int(head.Length) + protocol.TCPHeaderMbapSize - 1
		if _, err = io.ReadFull(sf.conn, raw[protocol.TCPHeaderMbapSize:length]); err != nil {
			return
		}
		if err = sf.frameHandler(raw[:length]); err != nil {
			return
		}
	}
}

// frameHandler handle one request adu and write the response.
func (sf *ServerSession) frameHandler(requestAdu []byte) error {
	sf.Debugf("RX Raw[% x]", requestAdu)

	head, pdu, err := protocol.DecodeTCPFrame(requestAdu)
	if err != nil {
		return err
	}
	node, err := sf.GetNode(head.SlaveID)
	if err != nil { // slave id not exist, ignore it
		sf.Debugf("unit id '%v' not served, request dropped", head.SlaveID)
		return nil
	}

	funcCode := pdu.FuncCode
	rspPduData, err := sf.dispatch(node, pdu)
	if err != nil {
		var exception *protocol.ExceptionError
		if !errors.As(err, &exception) {
			sf.Errorf("function code '%v' failed, %v", funcCode, err)
			exception = &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeServerDeviceFailure}
		}
		funcCode |= 0x80
		rspPduData = []byte{exception.ExceptionCode}
	}

	_, responseAdu, err := protocol.EncodeTCPFrame(head.TransactionID, head.SlaveID,
		protocol.ProtocolDataUnit{FuncCode: funcCode, Data: rspPduData})
	if err != nil {
		return err
	}
	sf.Debugf("TX Raw[% x]", responseAdu)

	if err = sf.conn.SetWriteDeadline(time.Now().Add(sf.writeTimeout)); err != nil {
		return fmt.Errorf("set write deadline %v", err)
	}
	_, err = sf.conn.Write(responseAdu)
	return err
}

// dispatch run the function handler, a panic turns into a server device failure.
func (sf *ServerSession) dispatch(node *register.Store, pdu protocol.ProtocolDataUnit) (rsp []byte, err error) {
	handle, ok := sf.handler(pdu.FuncCode)
	if !ok {
		return nil, &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalFunction}
	}
	defer func() {
		if r := recover(); r != nil {
			sf.Errorf("panic happen,%v", r)
			rsp, err = nil, &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeServerDeviceFailure}
		}
	}()
	return handle(node, pdu.Data)
}
