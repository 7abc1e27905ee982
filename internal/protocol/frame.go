package protocol

import (
	"encoding/binary"
	"fmt"
)

// Header is the modbus application protocol header.
type Header struct {
	TransactionID uint16
	ProtocolID    uint16
	Length        uint16 // unit id + pdu
	SlaveID       uint8
}

// EncodeTCPFrame encode modbus application protocol header & pdu to TCP frame,return adu
//
//	---- MBAP header ----
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
//	---- data Unit ----
//	Function code: 1 byte
//	Data: n bytes
func EncodeTCPFrame(tid uint16, slaveID byte, pdu ProtocolDataUnit) (Header, []byte, error) {
	if pduLength := 1 + len(pdu.Data); pduLength > PDUMaxSize {
		return Header{}, nil, fmt.Errorf("modbus: length of pdu '%v' must not be bigger than '%v'", pduLength, PDUMaxSize)
	}
	length := TCPHeaderMbapSize + 1 + len(pdu.Data)
	head := Header{
		TransactionID: tid,
		ProtocolID:    TCPProtocolIdentifier,
		Length:        uint16(2 + len(pdu.Data)), // sizeof(SlaveId) + sizeof(FuncCode) + Data
		SlaveID:       slaveID,
	}

	adu := make([]byte, length)
	head.put(adu)
	adu[TCPHeaderMbapSize] = pdu.FuncCode
	copy(adu[TCPHeaderMbapSize+1:], pdu.Data)
	return head, adu, nil
}

// DecodeHeader reads the MBAP header, it does not check the protocol identifier.
func DecodeHeader(b []byte) Header {
	return Header{
		TransactionID: binary.BigEndian.Uint16(b),
		ProtocolID:    binary.BigEndian.Uint16(b[2:]),
		Length:        binary.BigEndian.Uint16(b[4:]),
		SlaveID:       b[6],
	}
}

func (h Header) put(b []byte) {
	binary.BigEndian.PutUint16(b, h.TransactionID)
	binary.BigEndian.PutUint16(b[2:], h.ProtocolID)
	binary.BigEndian.PutUint16(b[4:], h.Length)
	b[6] = h.SlaveID
}

// DecodeTCPFrame extracts tcpHeader & PDU from TCP frame:
//
//	---- MBAP header ----
//	Transaction identifier: 2 bytes
//	Protocol identifier: 2 bytes
//	Length: 2 bytes
//	Unit identifier: 1 byte
//	---- data Unit ----
//	Function        : 1 byte
//	Data            : 0 up to 252 bytes
func DecodeTCPFrame(adu []byte) (Header, ProtocolDataUnit, error) {
	if len(adu) < TCPAduMinSize {
		return Header{}, ProtocolDataUnit{}, fmt.Errorf("modbus: frame length '%v' does not meet minimum '%v'", len(adu), TCPAduMinSize)
	}
	head := DecodeHeader(adu)
	pduLength := len(adu) - TCPHeaderMbapSize
	if pduLength != int(head.Length)-1 {
		return Header{}, ProtocolDataUnit{}, fmt.Errorf("modbus: length in header '%v' does not match pdu data length '%v'",
			int(head.Length)-1, pduLength)
	}
	return head, ProtocolDataUnit{adu[TCPHeaderMbapSize], adu[TCPHeaderMbapSize+1:]}, nil
}

// VerifyTCPFrame confirms the response matches the request.
func VerifyTCPFrame(reqHead, rspHead Header, reqPDU, rspPDU ProtocolDataUnit) error {
	switch {
	case rspHead.TransactionID != reqHead.TransactionID:
		return fmt.Errorf("modbus: response transaction id '%v' does not match request '%v'",
			rspHead.TransactionID, reqHead.TransactionID)
	case rspHead.ProtocolID != reqHead.ProtocolID:
		return fmt.Errorf("modbus: response protocol id '%v' does not match request '%v'",
			rspHead.ProtocolID, reqHead.ProtocolID)
	case rspHead.SlaveID != reqHead.SlaveID:
		return fmt.Errorf("modbus: response unit id '%v' does not match request '%v'",
			rspHead.SlaveID, reqHead.SlaveID)
	case rspPDU.FuncCode != reqPDU.FuncCode:
		return ResponseError(rspPDU)
	case len(rspPDU.Data) == 0:
		return fmt.Errorf("modbus: response data is empty")
	}
	return nil
}

// ResponseError turns an exception response into an error.
func ResponseError(response ProtocolDataUnit) error {
	if len(response.Data) > 0 && response.FuncCode&0x80 != 0 {
		return &ExceptionError{response.Data[0]}
	}
	return fmt.Errorf("modbus: response function code '%v' is unexpected", response.FuncCode)
}
