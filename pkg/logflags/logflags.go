package logflags

import (
	"errors"
	"io"
	"log"
	"strings"

	"github.com/sirupsen/logrus"
)

var engine = false
var rpc = false
var ptrace = false

func makeLogger(flag bool, fields logrus.Fields) *logrus.Entry {
	logger := logrus.New().WithFields(fields)
	logger.Logger.Level = logrus.DebugLevel
	if !flag {
		logger.Logger.Level = logrus.PanicLevel
	}
	return logger
}

// Engine returns true if the engine package should log.
func Engine() bool {
	return engine
}

// EngineLogger returns a logger for the observation engine.
func EngineLogger() *logrus.Entry {
	return makeLogger(engine, logrus.Fields{"layer": "engine"})
}

// RPC returns true if RPC messages should be logged.
func RPC() bool {
	return rpc
}

// RPCLogger returns a logger for RPC messages.
func RPCLogger() *logrus.Entry {
	return makeLogger(rpc, logrus.Fields{"layer": "rpc"})
}

// Ptrace returns true if the native backend should log every process
// control operation.
func Ptrace() bool {
	return ptrace
}

// PtraceLogger returns a logger for the native process control backend.
func PtraceLogger() *logrus.Entry {
	return makeLogger(ptrace, logrus.Fields{"layer": "ptrace"})
}

var errLogstrWithoutLog = errors.New("--log-output specified without --log")

// Setup sets logging flags based on the contents of logstr.
func Setup(logFlag bool, logstr string) error {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if !logFlag {
		log.SetOutput(io.Discard)
		if logstr != "" {
			return errLogstrWithoutLog
		}
		return nil
	}
	if logstr == "" {
		logstr = "engine"
	}
	for _, logcmd := range strings.Split(logstr, ",") {
		switch logcmd {
		case "engine":
			engine = true
		case "rpc":
			rpc = true
		case "ptrace":
			ptrace = true
		}
	}
	return nil
}
