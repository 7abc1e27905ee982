// Package client is a Modbus TCP master for holding registers,
// used to poll and drive the simulator.
package client

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/things-go/modbus-sim/internal/protocol"
)

// TCPDefaultTimeout TCP Default timeout
const TCPDefaultTimeout = 1 * time.Second

// Option custom option
type Option func(*TCPClient)

// WithTimeout set tcp connect & read timeout
func WithTimeout(t time.Duration) Option {
	return func(c *TCPClient) {
		c.timeout = t
	}
}

// WithLogProvider set logger provider and enable log output.
func WithLogProvider(p protocol.LogProvider) Option {
	return func(c *TCPClient) {
		c.SetLogProvider(p)
		c.LogMode(true)
	}
}

// TCPClient modbus tcp client
type TCPClient struct {
	protocol.Clogs
	address string
	mu      sync.Mutex
	conn    net.Conn
	// Connect & Read timeout
	timeout time.Duration
	// For synchronization between messages of server & client
	transactionID uint32
}

// NewTCPClient allocates a new TCPClient, call Connect before use.
func NewTCPClient(address string, opts ...Option) *TCPClient {
	c := &TCPClient{
		Clogs:   protocol.NewClogs("modbusTCPClient"),
		address: address,
		timeout: TCPDefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Connect establishes a new connection to the address.
func (sf *TCPClient) Connect() error {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.conn != nil {
		return nil
	}
	dialer := &net.Dialer{Timeout: sf.timeout}
	conn, err := dialer.Dial("tcp", sf.address)
	if err != nil {
		return err
	}
	sf.conn = conn
	return nil
}

// IsConnected returns a bool signifying whether the client is connected or not.
func (sf *TCPClient) IsConnected() bool {
	sf.mu.Lock()
	b := sf.conn != nil
	sf.mu.Unlock()
	return b
}

// Close closes current connection.
func (sf *TCPClient) Close() error {
	var err error
	sf.mu.Lock()
	if sf.conn != nil {
		err = sf.conn.Close()
		sf.conn = nil
	}
	sf.mu.Unlock()
	return err
}

// Send the request to tcp and get the response
func (sf *TCPClient) Send(slaveID byte, request protocol.ProtocolDataUnit) (protocol.ProtocolDataUnit, error) {
	tid := uint16(atomic.AddUint32(&sf.transactionID, 1))
	reqHead, aduRequest, err := protocol.EncodeTCPFrame(tid, slaveID, request)
	if err != nil {
		return protocol.ProtocolDataUnit{}, err
	}
	aduResponse, err := sf.SendRawFrame(aduRequest)
	if err != nil {
		return protocol.ProtocolDataUnit{}, err
	}
	rspHead, response, err := protocol.DecodeTCPFrame(aduResponse)
	if err != nil {
		return protocol.ProtocolDataUnit{}, err
	}
	if err = protocol.VerifyTCPFrame(reqHead, rspHead, request, response); err != nil {
		return protocol.ProtocolDataUnit{}, err
	}
	return response, nil
}

// SendRawFrame send raw adu request frame, returns the raw response adu.
func (sf *TCPClient) SendRawFrame(aduRequest []byte) (aduResponse []byte, err error) {
	sf.mu.Lock()
	defer sf.mu.Unlock()

	if sf.conn == nil {
		return nil, protocol.ErrClosedConnection
	}
	// a broken session is dropped, the caller reconnects
	defer func() {
		if err != nil {
			sf.conn.Close()
			sf.conn = nil
		}
	}()

	sf.Debugf("sending [% x]", aduRequest)
	var timeout time.Time
	if sf.timeout > 0 {
		timeout = time.Now().Add(sf.timeout)
	}
	if err = sf.conn.SetDeadline(timeout); err != nil {
		return nil, err
	}
	if _, err = sf.conn.Write(aduRequest); err != nil {
		return nil, err
	}

	// Read header first
	var data [protocol.TCPAduMaxSize]byte
	if _, err = io.ReadFull(sf.conn, data[:protocol.TCPHeaderMbapSize]); err != nil {
		return nil, err
	}
	// Read length, ignore transaction & protocol id (4 bytes)
	length := int(binary.BigEndian.Uint16(data[4:]))
	switch {
	case length <= 0:
		return nil, fmt.Errorf("modbus: length in response header '%v' must not be zero", length)
	case length > (protocol.TCPAduMaxSize - (protocol.TCPHeaderMbapSize - 1)):
		return nil, fmt.Errorf("modbus: length in response header '%v' must not greater than '%v'",
			length, protocol.TCPAduMaxSize-protocol.TCPHeaderMbapSize+1)
	}
	// Skip unit id
	length += protocol.TCPHeaderMbapSize - 1
	if _, err = io.ReadFull(sf.conn, data[protocol.TCPHeaderMbapSize:length]); err != nil {
		return nil, err
	}
	aduResponse = append([]byte(nil), data[:length]...)
	sf.Debugf("received [% x]", aduResponse)
	return aduResponse, nil
}
