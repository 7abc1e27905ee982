// Package register provides the simulator's holding register table.
// All access is serialized by a read/write lock.
package register

import (
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/things-go/modbus-sim/internal/protocol"
)

// Store a fixed size bank of holding registers starting at address 0.
type Store struct {
	rw      sync.RWMutex
	holding []uint16
}

// New allocates a zeroed store of quantity registers.
func New(quantity uint16) *Store {
	return &Store{holding: make([]uint16, quantity)}
}

// Quantity number of registers held.
func (sf *Store) Quantity() uint16 {
	return uint16(len(sf.holding))
}

// inRange reports whether [address, address+quantity) lies inside the table.
// int arithmetic so address+quantity never wraps.
func (sf *Store) inRange(address uint16, quantity int) bool {
	return int(address)+quantity <= len(sf.holding)
}

// Initialize sets the whole table, values must cover every register.
func (sf *Store) Initialize(values []uint16) error {
	if len(values) != len(sf.holding) {
		return fmt.Errorf("register: initialize with '%v' values, table holds '%v'", len(values), len(sf.holding))
	}
	sf.rw.Lock()
	copy(sf.holding, values)
	sf.rw.Unlock()
	return nil
}

// Write overwrites a contiguous run starting at address.
func (sf *Store) Write(address uint16, values []uint16) error {
	sf.rw.Lock()
	defer sf.rw.Unlock()
	if !sf.inRange(address, len(values)) {
		return &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataAddress}
	}
	copy(sf.holding[address:], values)
	return nil
}

// Read returns a copy of quantity registers starting at address.
func (sf *Store) Read(address, quantity uint16) ([]uint16, error) {
	sf.rw.RLock()
	defer sf.rw.RUnlock()
	if !sf.inRange(address, int(quantity)) {
		return nil, &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataAddress}
	}
	result := make([]uint16, quantity)
	copy(result, sf.holding[address:])
	return result, nil
}

// WriteBytes writes quantity registers from their big-endian wire encoding.
func (sf *Store) WriteBytes(address, quantity uint16, valBuf []byte) error {
	if len(valBuf) != int(quantity)*2 {
		return &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataValue}
	}
	values := make([]uint16, quantity)
	for i := range values {
		values[i] = binary.BigEndian.Uint16(valBuf[i*2:])
	}
	return sf.Write(address, values)
}

// ReadBytes reads quantity registers in their big-endian wire encoding.
func (sf *Store) ReadBytes(address, quantity uint16) ([]byte, error) {
	values, err := sf.Read(address, quantity)
	if err != nil {
		return nil, err
	}
	result := make([]byte, len(values)*2)
	for i, v := range values {
		binary.BigEndian.PutUint16(result[i*2:], v)
	}
	return result, nil
}

// MaskWrite (val & andMask) | (orMask & ^andMask)
func (sf *Store) MaskWrite(address, andMask, orMask uint16) error {
	sf.rw.Lock()
	defer sf.rw.Unlock()
	if !sf.inRange(address, 1) {
		return &protocol.ExceptionError{ExceptionCode: protocol.ExceptionCodeIllegalDataAddress}
	}
	sf.holding[address] = (sf.holding[address] & andMask) | (orMask & ^andMask)
	return nil
}
