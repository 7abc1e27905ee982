package server

import (
	"encoding/binary"

	"github.com/things-go/modbus-sim/internal/protocol"
	"github.com/things-go/modbus-sim/internal/register"
)

const (
	funcReadMinSize       = 4 // read request data field size
	funcWriteMinSize      = 4 // write single data field size
	funcWriteMultiMinSize = 5 // write multiple minimum data field size
	funcReadWriteMinSize  = 9 // read/write multiple minimum data field size
	funcMaskWriteMinSize  = 6 // mask write data field size
)

// FunctionHandler serves one function code, data and result are pdu data fields only.
type FunctionHandler func(reg *register.Store, data []byte) ([]byte, error)

func illegalDataValue() error {
	return &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataValue}
}

// Request:
//
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func funcReadHoldingRegisters(reg *register.Store, data []byte) ([]byte, error) {
	if len(data) != funcReadMinSize {
		return nil, illegalDataValue()
	}

	address := binary.BigEndian.Uint16(data)
	quantity := binary.BigEndian.Uint16(data[2:])
	if quantity > protocol.ReadRegQuantityMax || quantity < protocol.ReadRegQuantityMin {
		return nil, illegalDataValue()
	}
	value, err := reg.ReadBytes(address, quantity)
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, len(value)+1)
	result = append(result, byte(quantity*2))
	return append(result, value...), nil
}

// Request & Response:
//
//	Register address      : 2 bytes
//	Register value        : 2 bytes
func funcWriteSingleRegister(reg *register.Store, data []byte) ([]byte, error) {
	if len(data) != funcWriteMinSize {
		return nil, illegalDataValue()
	}

	address := binary.BigEndian.Uint16(data)
	if err := reg.WriteBytes(address, 1, data[2:]); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// Request:
//
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
//
// Response:
//
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func funcWriteMultiHoldingRegisters(reg *register.Store, data []byte) ([]byte, error) {
	if len(data) < funcWriteMultiMinSize {
		return nil, illegalDataValue()
	}

	address := binary.BigEndian.Uint16(data)
	count := binary.BigEndian.Uint16(data[2:])
	byteCnt := data[4]
	if count < protocol.WriteRegQuantityMin || count > protocol.WriteRegQuantityMax ||
		int(byteCnt) != int(count)*2 || len(data)-funcWriteMultiMinSize != int(byteCnt) {
		return nil, illegalDataValue()
	}

	if err := reg.WriteBytes(address, count, data[5:]); err != nil {
		return nil, err
	}
	return append([]byte(nil), data[:4]...), nil
}

// Request & Response:
//
//	Reference address     : 2 bytes
//	AND mask              : 2 bytes
//	OR mask               : 2 bytes
func funcMaskWriteRegisters(reg *register.Store, data []byte) ([]byte, error) {
	if len(data) != funcMaskWriteMinSize {
		return nil, illegalDataValue()
	}

	referAddress := binary.BigEndian.Uint16(data)
	andMask := binary.BigEndian.Uint16(data[2:])
	orMask := binary.BigEndian.Uint16(data[4:])
	if err := reg.MaskWrite(referAddress, andMask, orMask); err != nil {
		return nil, err
	}
	return append([]byte(nil), data...), nil
}

// Request:
//
//	Read starting address  : 2 bytes
//	Quantity to read       : 2 bytes
//	Write starting address : 2 bytes
//	Quantity to write      : 2 bytes
//	Write byte count       : 1 byte
//	Write registers value  : N* bytes
//
// Response:
//
//	Byte count             : 1 byte
//	Read registers value   : Nx2 bytes
//
// The write is applied before the read.
func funcReadWriteMultiHoldingRegisters(reg *register.Store, data []byte) ([]byte, error) {
	if len(data) < funcReadWriteMinSize {
		return nil, illegalDataValue()
	}

	readAddress := binary.BigEndian.Uint16(data)
	readCount := binary.BigEndian.Uint16(data[2:])
	writeAddress := binary.BigEndian.Uint16(data[4:])
	writeCount := binary.BigEndian.Uint16(data[6:])
	writeByteCnt := data[8]
	if readCount < protocol.ReadWriteOnReadRegQuantityMin || readCount > protocol.ReadWriteOnReadRegQuantityMax ||
		writeCount < protocol.ReadWriteOnWriteRegQuantityMin || writeCount > protocol.ReadWriteOnWriteRegQuantityMax ||
		int(writeByteCnt) != int(writeCount)*2 || len(data)-funcReadWriteMinSize != int(writeByteCnt) {
		return nil, illegalDataValue()
	}

	if err := reg.WriteBytes(writeAddress, writeCount, data[9:]); err != nil {
		return nil, err
	}
	value, err := reg.ReadBytes(readAddress, readCount)
	if err != nil {
		return nil, err
	}
	result := make([]byte, 0, len(value)+1)
	result = append(result, byte(readCount*2))
	return append(result, value...), nil
}
