package rpccommon

import (
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/sirupsen/logrus"

	"github.com/stepscope/stepscope/pkg/logflags"
	"github.com/stepscope/stepscope/service"
	"github.com/stepscope/stepscope/service/api"
	"github.com/stepscope/stepscope/service/engine"
	srvrpc "github.com/stepscope/stepscope/service/rpc"
)

// ServerImpl implements a JSON-RPC server exposing the observation
// engine. Every accepted connection negotiates its own session.
type ServerImpl struct {
	// config is all the information necessary to start the engine and
	// server.
	config *service.Config
	// listener is used to serve requests.
	listener net.Listener
	// stopChan is used to stop the listener goroutine.
	stopChan chan struct{}
	// engine is the observation engine shared by all connections.
	engine *engine.Engine

	log *logrus.Entry
}

type methodType struct {
	method    reflect.Method
	Rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// NewServer creates a new RPC server.
func NewServer(config *service.Config) (*ServerImpl, error) {
	if config.APIVersion == 0 {
		config.APIVersion = api.APIVersion
	}
	if config.APIVersion != api.APIVersion {
		return nil, fmt.Errorf("unknown API version %d", config.APIVersion)
	}
	eng, err := engine.New(&engine.Config{
		StepTimeout: config.StepTimeout,
		MaxTargets:  config.MaxTargets,
		Backend:     config.Backend,
	})
	if err != nil {
		return nil, err
	}
	return &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		engine:   eng,
		log:      logflags.RPCLogger(),
	}, nil
}

// Stop stops the JSON-RPC server and detaches every tracked target.
func (s *ServerImpl) Stop() error {
	close(s.stopChan)
	err := s.listener.Close()
	s.engine.Stop()
	return err
}

// Run accepts connections and serves them until Stop is called. Run
// itself does not block.
func (s *ServerImpl) Run() error {
	go func() {
		defer s.listener.Close()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return
				default:
					panic(err)
				}
			}
			go s.serveConnection(c)
			if !s.config.AcceptMulti {
				break
			}
		}
	}()
	return nil
}

// Precompute the reflect type for error. Can't use error directly
// because Typeof takes an empty interface value. This is annoying.
var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// Is this an exported - upper case - name?
func isExported(name string) bool {
	r, _ := utf8.DecodeRuneInString(name)
	return unicode.IsUpper(r)
}

// Is this type exported or a builtin?
func isExportedOrBuiltinType(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	// PkgPath will be non-empty even for an exported type,
	// so we need to check the type name as well.
	return isExported(t.Name()) || t.PkgPath() == ""
}

// Fills methods map with the methods of receiver that should be made
// available through the RPC interface. These are all the public methods
// of rcvr with the signature:
//
//	func (rcvr ReceiverType) Method(in InputType, out *ReplyType) error
func suitableMethods(rcvr interface{}, methods map[string]*methodType, log *logrus.Entry) {
	typ := reflect.TypeOf(rcvr)
	rcvrv := reflect.ValueOf(rcvr)
	sname := reflect.Indirect(rcvrv).Type().Name()
	if sname == "" {
		log.Debugf("rpc.Register: no service name for type %s", typ)
		return
	}
	for m := 0; m < typ.NumMethod(); m++ {
		method := typ.Method(m)
		mname := method.Name
		mtype := method.Type
		// method must be exported
		if method.PkgPath != "" {
			continue
		}
		// Method needs three ins: (receiver, *args, *reply)
		if mtype.NumIn() != 3 {
			log.Debugf("method %s has wrong number of ins: %d", mname, mtype.NumIn())
			continue
		}
		// First arg need not be a pointer.
		argType := mtype.In(1)
		if !isExportedOrBuiltinType(argType) {
			log.Debugf("method %s argument type not exported: %v", mname, argType)
			continue
		}
		// Second arg must be a pointer.
		replyType := mtype.In(2)
		if replyType.Kind() != reflect.Ptr {
			log.Debugf("method %s reply type not a pointer: %v", mname, replyType)
			continue
		}
		if !isExportedOrBuiltinType(replyType) {
			log.Debugf("method %s reply type not exported: %v", mname, replyType)
			continue
		}
		// Method needs one out.
		if mtype.NumOut() != 1 {
			log.Debugf("method %s has wrong number of outs: %d", mname, mtype.NumOut())
			continue
		}
		// The return type of the method must be error.
		if returnType := mtype.Out(0); returnType != typeOfError {
			log.Debugf("method %s returns %s not error", mname, returnType.String())
			continue
		}
		methods[sname+"."+mname] = &methodType{method: method, ArgType: argType, ReplyType: replyType, Rcvr: rcvrv}
	}
}

func (s *ServerImpl) serveConnection(conn io.ReadWriteCloser) {
	session := engine.NewSession()
	defer session.Invalidate()

	rpcServer := srvrpc.NewServer(s.config, s.engine, session)
	methods := map[string]*methodType{}
	suitableMethods(rpcServer, methods, s.log)

	sending := new(sync.Mutex)
	codec := jsonrpc.NewServerCodec(conn)
	var req rpc.Request
	var resp rpc.Response
	for {
		req = rpc.Request{}
		err := codec.ReadRequestHeader(&req)
		if err != nil {
			if err != io.EOF {
				s.log.Errorf("rpc: %v", err)
			}
			break
		}

		mtype, ok := methods[req.ServiceMethod]
		if !ok {
			s.log.Errorf("rpc: can't find method %s", req.ServiceMethod)
			codec.ReadRequestBody(nil)
			resp = rpc.Response{}
			s.sendResponse(sending, &req, &resp, nil, codec, fmt.Sprintf("unknown method: %s", req.ServiceMethod))
			continue
		}

		var argv, replyv reflect.Value

		// Decode the argument value.
		argIsValue := false // if true, need to indirect before calling.
		if mtype.ArgType.Kind() == reflect.Ptr {
			argv = reflect.New(mtype.ArgType.Elem())
		} else {
			argv = reflect.New(mtype.ArgType)
			argIsValue = true
		}
		// argv guaranteed to be a pointer now.
		if err = codec.ReadRequestBody(argv.Interface()); err != nil {
			return
		}
		if argIsValue {
			argv = argv.Elem()
		}

		replyv = reflect.New(mtype.ReplyType.Elem())
		function := mtype.method.Func
		returnValues := function.Call([]reflect.Value{mtype.Rcvr, argv, replyv})
		errInter := returnValues[0].Interface()
		errmsg := ""
		if errInter != nil {
			errmsg = errInter.(error).Error()
		}
		resp = rpc.Response{}
		s.sendResponse(sending, &req, &resp, replyv.Interface(), codec, errmsg)
	}
	codec.Close()
}

// A value sent as a placeholder for the server's response value when the
// server receives an invalid request. It is never decoded by the client
// since the Response contains an error when it is used.
var invalidRequest = struct{}{}

func (s *ServerImpl) sendResponse(sending *sync.Mutex, req *rpc.Request, resp *rpc.Response, reply interface{}, codec rpc.ServerCodec, errmsg string) {
	resp.ServiceMethod = req.ServiceMethod
	if errmsg != "" {
		resp.Error = errmsg
		reply = invalidRequest
	}
	resp.Seq = req.Seq
	sending.Lock()
	defer sending.Unlock()
	if err := codec.WriteResponse(resp, reply); err != nil {
		s.log.Errorf("rpc: writing response: %v", err)
	}
}
