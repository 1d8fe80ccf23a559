package rpc

import (
	"context"

	"github.com/sirupsen/logrus"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/pkg/version"
	"github.com/stepscope/stepscope/service"
	"github.com/stepscope/stepscope/service/api"
	"github.com/stepscope/stepscope/service/engine"
)

// RPCServer implements the RPC methods of one client connection: every
// connection gets its own RPCServer bound to its own session.
type RPCServer struct {
	config  *service.Config
	engine  *engine.Engine
	session *engine.Session
	log     *logrus.Entry
}

// NewServer creates a new RPCServer.
func NewServer(config *service.Config, eng *engine.Engine, session *engine.Session) *RPCServer {
	return &RPCServer{
		config:  config,
		engine:  eng,
		session: session,
		log:     logflags.RPCLogger(),
	}
}

// GetVersion returns the engine build version and the API version being
// served. It does not require a negotiated session.
func (s *RPCServer) GetVersion(arg api.GetVersionIn, out *api.GetVersionOut) error {
	out.Version = version.StepscopeVersion.String()
	out.APIVersion = api.APIVersion
	return nil
}

// Handshake negotiates this connection's session.
func (s *RPCServer) Handshake(arg api.HandshakeIn, out *api.HandshakeOut) error {
	ack, err := s.engine.Handshake(s.session, arg.Token)
	if err != nil {
		s.log.Debugf("handshake rejected: token %d", arg.Token)
		return err
	}
	out.Ack = ack
	return nil
}

// Observe services one observation request.
func (s *RPCServer) Observe(arg api.ObserveIn, out *api.ObserveOut) error {
	req, err := api.ConvertRequest(&arg)
	if err != nil {
		return err
	}
	res, err := s.engine.Observe(context.Background(), s.session, req)
	if err != nil {
		return err
	}
	out.Result = api.ConvertResult(res)
	return nil
}

// Launch spawns a scratch target.
func (s *RPCServer) Launch(arg api.LaunchIn, out *api.LaunchOut) error {
	cmd := append([]string{arg.Path}, arg.Args...)
	pid, err := s.engine.Launch(s.session, cmd, arg.Dir)
	if err != nil {
		return err
	}
	out.Pid = pid
	return nil
}

// Attach attaches an existing process.
func (s *RPCServer) Attach(arg api.AttachIn, out *api.AttachOut) error {
	return s.engine.Attach(s.session, arg.Pid)
}

// Detach releases a target.
func (s *RPCServer) Detach(arg api.DetachIn, out *api.DetachOut) error {
	return s.engine.Detach(s.session, arg.Pid, arg.Kill)
}

// ReadRegisters returns a target's current registers.
func (s *RPCServer) ReadRegisters(arg api.ReadRegistersIn, out *api.ReadRegistersOut) error {
	regs, err := s.engine.ReadRegisters(s.session, arg.Pid)
	if err != nil {
		return err
	}
	out.Regs = regs
	return nil
}
