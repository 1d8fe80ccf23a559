package rpc

import (
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"

	"github.com/stepscope/stepscope/service"
	"github.com/stepscope/stepscope/service/api"
)

// RPCClient is a RPC service.Client.
type RPCClient struct {
	client *rpc.Client
}

// Ensure the implementation satisfies the interface.
var _ service.Client = &RPCClient{}

// NewClient connects to an engine server listening at addr.
func NewClient(addr string) (*RPCClient, error) {
	client, err := jsonrpc.Dial("tcp", addr)
	if err != nil {
		return nil, err
	}
	return &RPCClient{client: client}, nil
}

// NewClientFromConn creates a new RPCClient from the given connection.
func NewClientFromConn(conn net.Conn) *RPCClient {
	return &RPCClient{client: jsonrpc.NewClient(conn)}
}

func (c *RPCClient) call(method string, args, reply interface{}) error {
	return api.ConvertClientError(c.client.Call("RPCServer."+method, args, reply))
}

func (c *RPCClient) Handshake(token int) (int, error) {
	out := new(api.HandshakeOut)
	err := c.call("Handshake", api.HandshakeIn{Token: token}, out)
	return out.Ack, err
}

func (c *RPCClient) GetVersion() (*api.GetVersionOut, error) {
	out := new(api.GetVersionOut)
	err := c.call("GetVersion", api.GetVersionIn{}, out)
	return out, err
}

func (c *RPCClient) Observe(in *api.ObserveIn) (*api.ObservationResult, error) {
	out := new(api.ObserveOut)
	if err := c.call("Observe", *in, out); err != nil {
		return nil, err
	}
	return &out.Result, nil
}

func (c *RPCClient) Launch(path string, args []string, dir string) (int, error) {
	out := new(api.LaunchOut)
	err := c.call("Launch", api.LaunchIn{Path: path, Args: args, Dir: dir}, out)
	return out.Pid, err
}

func (c *RPCClient) Attach(pid int) error {
	return c.call("Attach", api.AttachIn{Pid: pid}, new(api.AttachOut))
}

func (c *RPCClient) Detach(pid int, kill bool) error {
	return c.call("Detach", api.DetachIn{Pid: pid, Kill: kill}, new(api.DetachOut))
}

func (c *RPCClient) ReadRegisters(pid int) ([]byte, error) {
	out := new(api.ReadRegistersOut)
	if err := c.call("ReadRegisters", api.ReadRegistersIn{Pid: pid}, out); err != nil {
		return nil, err
	}
	return out.Regs, nil
}

// Close closes the connection to the server.
func (c *RPCClient) Close() error {
	return c.client.Close()
}
