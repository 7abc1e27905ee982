package client

import (
	"encoding/binary"
	"fmt"

	"github.com/things-go/modbus-sim/internal/protocol"
)

// Request:
//
//	Slave Id              : 1 byte
//	Function code         : 1 byte (0x03)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x03)
//	Byte count            : 1 byte
//	Register value        : Nx2 bytes
func (sf *TCPClient) ReadHoldingRegistersBytes(slaveID byte, address, quantity uint16) ([]byte, error) {
	if err := checkSlaveID(slaveID); err != nil {
		return nil, err
	}
	if quantity < protocol.ReadRegQuantityMin || quantity > protocol.ReadRegQuantityMax {
		return nil, fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'",
			quantity, protocol.ReadRegQuantityMin, protocol.ReadRegQuantityMax)
	}
	response, err := sf.Send(slaveID, protocol.ProtocolDataUnit{
		FuncCode: protocol.FuncCodeReadHoldingRegisters,
		Data:     uint162Bytes(address, quantity),
	})
	switch {
	case err != nil:
		return nil, err
	case len(response.Data)-1 != int(response.Data[0]):
		return nil, fmt.Errorf("modbus: response data size '%v' does not match count '%v'",
			len(response.Data)-1, response.Data[0])
	case int(response.Data[0]) != int(quantity)*2:
		return nil, fmt.Errorf("modbus: response data size '%v' does not match quantity '%v'",
			response.Data[0], quantity)
	}
	return response.Data[1:], nil
}

// ReadHoldingRegisters reads the contents of a contiguous block of
// holding registers in a remote device and returns register value.
func (sf *TCPClient) ReadHoldingRegisters(slaveID byte, address, quantity uint16) ([]uint16, error) {
	b, err := sf.ReadHoldingRegistersBytes(slaveID, address, quantity)
	if err != nil {
		return nil, err
	}
	return bytes2Uint16(b), nil
}

// Request:
//
//	Slave Id              : 1 byte
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
//
// Response:
//
//	Function code         : 1 byte (0x06)
//	Register address      : 2 bytes
//	Register value        : 2 bytes
func (sf *TCPClient) WriteSingleRegister(slaveID byte, address, value uint16) error {
	if err := checkSlaveID(slaveID); err != nil {
		return err
	}
	response, err := sf.Send(slaveID, protocol.ProtocolDataUnit{
		FuncCode: protocol.FuncCodeWriteSingleRegister,
		Data:     uint162Bytes(address, value),
	})
	switch {
	case err != nil:
		return err
	case len(response.Data) != 4:
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'",
			len(response.Data), 4)
	case binary.BigEndian.Uint16(response.Data) != address:
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'",
			binary.BigEndian.Uint16(response.Data), address)
	case binary.BigEndian.Uint16(response.Data[2:]) != value:
		return fmt.Errorf("modbus: response value '%v' does not match request '%v'",
			binary.BigEndian.Uint16(response.Data[2:]), value)
	}
	return nil
}

// Request:
//
//	Slave Id              : 1 byte
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of outputs   : 2 bytes
//	Byte count            : 1 byte
//	Registers value       : N* bytes
//
// Response:
//
//	Function code         : 1 byte (0x10)
//	Starting address      : 2 bytes
//	Quantity of registers : 2 bytes
func (sf *TCPClient) WriteMultipleRegisters(slaveID byte, address uint16, values []uint16) error {
	if err := checkSlaveID(slaveID); err != nil {
		return err
	}
	quantity := len(values)
	if quantity < protocol.WriteRegQuantityMin || quantity > protocol.WriteRegQuantityMax {
		return fmt.Errorf("modbus: quantity '%v' must be between '%v' and '%v'",
			quantity, protocol.WriteRegQuantityMin, protocol.WriteRegQuantityMax)
	}
	data := make([]byte, 5, 5+quantity*2)
	binary.BigEndian.PutUint16(data, address)
	binary.BigEndian.PutUint16(data[2:], uint16(quantity))
	data[4] = byte(quantity * 2)
	for _, v := range values {
		data = binary.BigEndian.AppendUint16(data, v)
	}

	response, err := sf.Send(slaveID, protocol.ProtocolDataUnit{
		FuncCode: protocol.FuncCodeWriteMultipleRegisters,
		Data:     data,
	})
	switch {
	case err != nil:
		return err
	case len(response.Data) != 4:
		return fmt.Errorf("modbus: response data size '%v' does not match expected '%v'",
			len(response.Data), 4)
	case binary.BigEndian.Uint16(response.Data) != address:
		return fmt.Errorf("modbus: response address '%v' does not match request '%v'",
			binary.BigEndian.Uint16(response.Data), address)
	case int(binary.BigEndian.Uint16(response.Data[2:])) != quantity:
		return fmt.Errorf("modbus: response quantity '%v' does not match request '%v'",
			binary.BigEndian.Uint16(response.Data[2:]), quantity)
	}
	return nil
}

func checkSlaveID(slaveID byte) error {
	if slaveID < protocol.AddressMin || slaveID > protocol.AddressMax {
		return fmt.Errorf("modbus: slaveID '%v' must be between '%v' and '%v'",
			slaveID, protocol.AddressMin, protocol.AddressMax)
	}
	return nil
}

// uint162Bytes creates a sequence of uint16 data.
func uint162Bytes(value ...uint16) []byte {
	data := make([]byte, 2*len(value))
	for i, v := range value {
		binary.BigEndian.PutUint16(data[i*2:], v)
	}
	return data
}

// bytes2Uint16 bytes convert to uint16 for register.
func bytes2Uint16(buf []byte) []uint16 {
	data := make([]uint16, 0, len(buf)/2)
	for i := 0; i+1 < len(buf); i += 2 {
		data = append(data, binary.BigEndian.Uint16(buf[i:]))
	}
	return data
}
