// Package server implements a Modbus TCP slave serving holding registers
// out of register.Store nodes keyed by unit id.
package server

import (
	"context"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/things-go/modbus-sim/internal/protocol"
	"github.com/things-go/modbus-sim/internal/register"
)

// TCP Default read & write timeout
const (
	TCPDefaultReadTimeout  = 60 * time.Second
	TCPDefaultWriteTimeout = 1 * time.Second
)

// ErrServerClosed is returned by Serve after Close.
var ErrServerClosed = errors.New("modbus: server closed")

// Option custom option
type Option func(*TCPServer)

// WithReadTimeout set read timeout, a session idle longer than this is dropped.
func WithReadTimeout(t time.Duration) Option {
	return func(sf *TCPServer) {
		sf.readTimeout = t
	}
}

// WithWriteTimeout set write timeout
func WithWriteTimeout(t time.Duration) Option {
	return func(sf *TCPServer) {
		sf.writeTimeout = t
	}
}

// WithLogProvider set logger provider and enable log output.
func WithLogProvider(p protocol.LogProvider) Option {
	return func(sf *TCPServer) {
		sf.SetLogProvider(p)
		sf.LogMode(true)
	}
}

// TCPServer modbus tcp server
type TCPServer struct {
	mu           sync.Mutex
	listen       net.Listener
	conns        map[net.Conn]struct{}
	closed       bool
	wg           sync.WaitGroup
	ctx          context.Context
	cancel       context.CancelFunc
	readTimeout  time.Duration
	writeTimeout time.Duration
	*serverCommon
	protocol.Clogs
}

// NewTCPServer new modbus tcp server.
func NewTCPServer(opts ...Option) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	sf := &TCPServer{
		conns:        make(map[net.Conn]struct{}),
		ctx:          ctx,
		cancel:       cancel,
		readTimeout:  TCPDefaultReadTimeout,
		writeTimeout: TCPDefaultWriteTimeout,
		serverCommon: newServerCommon(),
		Clogs:        protocol.NewClogs("modbusTCPServer"),
	}
	for _, opt := range opts {
		opt(sf)
	}
	return sf
}

// Listen binds addr, it fails fast when the port is unavailable.
func (sf *TCPServer) Listen(addr string) error {
	listen, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		listen.Close()
		return ErrServerClosed
	}
	if sf.listen != nil {
		listen.Close()
		return errors.New("modbus: server already listening")
	}
	sf.listen = listen
	return nil
}

// Addr returns the bound address, nil before Listen.
func (sf *TCPServer) Addr() net.Addr {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.listen == nil {
		return nil
	}
	return sf.listen.Addr()
}

// Serve accept connections on the bound listener until Close.
func (sf *TCPServer) Serve() error {
	sf.mu.Lock()
	listen := sf.listen
	sf.mu.Unlock()
	if listen == nil {
		return errors.New("modbus: server not listening")
	}

	sf.Debugf("server running on %v", listen.Addr())
	for {
		conn, err := listen.Accept()
		if err != nil {
			if sf.ctx.Err() != nil {
				return ErrServerClosed
			}
			sf.Errorf("accept failed, %v", err)
			return err
		}
		if !sf.track(conn) {
			conn.Close()
			return ErrServerClosed
		}
		sf.wg.Add(1)
		go func() {
			defer sf.wg.Done()
			defer sf.untrack(conn)
			sess := &ServerSession{
				conn,
				sf.readTimeout,
				sf.writeTimeout,
				sf.serverCommon,
				&sf.Clogs,
			}
			sess.running(sf.ctx)
		}()
	}
}

// ListenAndServe listen on "address:port" and serve.
func (sf *TCPServer) ListenAndServe(addr string) error {
	if err := sf.Listen(addr); err != nil {
		return err
	}
	return sf.Serve()
}

// Close close the listener and every open session, then wait for them.
func (sf *TCPServer) Close() error {
	var err error

	sf.mu.Lock()
	if !sf.closed {
		sf.closed = true
		sf.cancel()
		if sf.listen != nil {
			err = sf.listen.Close()
		}
		for conn := range sf.conns {
			conn.Close()
		}
	}
	sf.mu.Unlock()
	sf.wg.Wait()
	return err
}

func (sf *TCPServer) track(conn net.Conn) bool {
	sf.mu.Lock()
	defer sf.mu.Unlock()
	if sf.closed {
		return false
	}
	sf.conns[conn] = struct{}{}
	return true
}

func (sf *TCPServer) untrack(conn net.Conn) {
	sf.mu.Lock()
	delete(sf.conns, conn)
	sf.mu.Unlock()
}

// serverCommon node table and function dispatch shared by sessions.
type serverCommon struct {
	node     sync.Map
	mu       sync.RWMutex
	function map[uint8]FunctionHandler
}

func newServerCommon() *serverCommon {
	return &serverCommon{
		function: map[uint8]FunctionHandler{
			protocol.FuncCodeReadHoldingRegisters:       funcReadHoldingRegisters,
			protocol.FuncCodeWriteSingleRegister:        funcWriteSingleRegister,
			protocol.FuncCodeWriteMultipleRegisters:     funcWriteMultiHoldingRegisters,
			protocol.FuncCodeMaskWriteRegister:          funcMaskWriteRegisters,
			protocol.FuncCodeReadWriteMultipleRegisters: funcReadWriteMultiHoldingRegisters,
		},
	}
}

// RegisterFunctionHandler override the default behavior for a given function code,
// a nil handler removes it so the code answers illegal function.
func (sf *serverCommon) RegisterFunctionHandler(funcCode uint8, function FunctionHandler) {
	sf.mu.Lock()
	if function == nil {
		delete(sf.function, funcCode)
	} else {
		sf.function[funcCode] = function
	}
	sf.mu.Unlock()
}

func (sf *serverCommon) handler(funcCode uint8) (FunctionHandler, bool) {
	sf.mu.RLock()
	h, ok := sf.function[funcCode]
	sf.mu.RUnlock()
	return h, ok
}

// AddNode add a unit served from store, replaces an existing one.
func (sf *serverCommon) AddNode(slaveID byte, store *register.Store) {
	sf.node.Store(slaveID, store)
}

// DeleteNode remove a unit.
func (sf *serverCommon) DeleteNode(slaveID byte) {
	sf.node.Delete(slaveID)
}

// GetNode get the store of a unit.
func (sf *serverCommon) GetNode(slaveID byte) (*register.Store, error) {
	v, ok := sf.node.Load(slaveID)
	if !ok {
		return nil, errors.New("slaveID not exist")
	}
	return v.(*register.Store), nil
}

// GetNodeList unit ids being served.
func (sf *serverCommon) GetNodeList() []byte {
	list := make([]byte, 0)
	sf.node.Range(func(k, _ interface{}) bool {
		list = append(list, k.(byte))
		return true
	})
	return list
}
