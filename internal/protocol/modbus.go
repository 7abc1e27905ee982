/*!
 * <------------------------ MODBUS TCP/IP ADU(1) ------------------------->
 *                              <----------- MODBUS PDU (1') -------------->
 *  +-----------+---------------+------------------------------------------+
 *  | TID | PID | Length | UID  | Function Code  | Data                    |
 *  +-----------+---------------+------------------------------------------+
 *  |     |     |        |      |
 * (2)   (3)   (4)      (5)    (6)
 *
 * (2)  ... TCPTidOffset    = 0 (Transaction Identifier - 2 Byte)
 * (3)  ... TCPPidOffset    = 2 (Protocol Identifier - 2 Byte)
 * (4)  ... TCPLengthOffset = 4 (Number of bytes - 2 Byte)( UID + PDU length )
 * (5)  ... TCPUidOffset    = 6 (Unit Identifier - 1 Byte)
 * (6)  ... TCPPDUOffset    = 7 (Modbus PDU )
 *
 * (1)  ... TCPADUMaxSize   = 260 Modbus TCP/IP Application Data Unit
 * (1') ... PDUMaxSize      = 253 Modbus Protocol Data Unit
 */

// Package protocol holds the Modbus TCP vocabulary shared by the simulator's
// server and client: function codes, exception codes, quantity limits and
// the MBAP frame codec.
package protocol

import (
	"errors"
	"fmt"
)

// proto address limit.
const (
	AddressMin = 1
	AddressMax = 247
)

const (
	PDUMinSize = 1   // funcCode(1)
	PDUMaxSize = 253 // funcCode(1) + data(252)

	TCPProtocolIdentifier = 0x0000
	// Modbus Application Protocol
	TCPHeaderMbapSize = 7 // MBAP header
	TCPAduMinSize     = 8 // MBAP + funcCode
	TCPAduMaxSize     = 260
)

// proto register limit
const (
	ReadRegQuantityMin             = 1   // 1
	ReadRegQuantityMax             = 125 // 0x007d
	WriteRegQuantityMin            = 1   // 1
	WriteRegQuantityMax            = 123 // 0x007b
	ReadWriteOnReadRegQuantityMin  = 1   // 1
	ReadWriteOnReadRegQuantityMax  = 125 // 0x007d
	ReadWriteOnWriteRegQuantityMin = 1   // 1
	ReadWriteOnWriteRegQuantityMax = 121 // 0x0079
)

// Function Code, 16-bit access only.
const (
	FuncCodeReadHoldingRegisters       = 3
	FuncCodeWriteSingleRegister        = 6
	FuncCodeWriteMultipleRegisters     = 16
	FuncCodeMaskWriteRegister          = 22
	FuncCodeReadWriteMultipleRegisters = 23
)

// Exception Code
const (
	ExceptionCodeIllegalFunction                    = 1
	ExceptionCodeIllegalDataAddress                 = 2
	ExceptionCodeIllegalDataValue                   = 3
	ExceptionCodeServerDeviceFailure                = 4
	ExceptionCodeAcknowledge                        = 5
	ExceptionCodeServerDeviceBusy                   = 6
	ExceptionCodeNegativeAcknowledge                = 7
	ExceptionCodeMemoryParityError                  = 8
	ExceptionCodeGatewayPathUnavailable             = 10
	ExceptionCodeGatewayTargetDeviceFailedToRespond = 11
)

// ErrClosedConnection use of closed connection
var ErrClosedConnection = errors.New("use of closed connection")

// ExceptionError implements error interface.
type ExceptionError struct {
	ExceptionCode byte
}

// Error converts known modbus exception code to error message.
func (e *ExceptionError) Error() string {
	var name string
	switch e.ExceptionCode {
	case ExceptionCodeIllegalFunction:
		name = "illegal function"
	case ExceptionCodeIllegalDataAddress:
		name = "illegal data address"
	case ExceptionCodeIllegalDataValue:
		name = "illegal data value"
	case ExceptionCodeServerDeviceFailure:
		name = "server device failure"
	case ExceptionCodeAcknowledge:
		name = "acknowledge"
	case ExceptionCodeServerDeviceBusy:
		name = "server device busy"
	case ExceptionCodeNegativeAcknowledge:
		name = "negative acknowledge"
	case ExceptionCodeMemoryParityError:
		name = "memory parity error"
	case ExceptionCodeGatewayPathUnavailable:
		name = "gateway path unavailable"
	case ExceptionCodeGatewayTargetDeviceFailedToRespond:
		name = "gateway target device failed to respond"
	default:
		name = "unknown"
	}
	return fmt.Sprintf("modbus: exception '%v' (%s)", e.ExceptionCode, name)
}

// IsException reports whether err is a modbus exception with the given code.
func IsException(err error, code byte) bool {
	var e *ExceptionError
	return errors.As(err, &e) && e.ExceptionCode == code
}

// ProtocolDataUnit (PDU) is independent of underlying communication layers.
type ProtocolDataUnit struct {
	FuncCode byte
	Data     []byte
}
