package fix

import (
	"fmt"
	"os"

	"github.com/quickfixgo/quickfix"
	"go.uber.org/zap"
)

// LoadSettings reads a quickfix settings file ([DEFAULT] and [SESSION]
// sections).
func LoadSettings(path string) (*quickfix.Settings, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open fix settings: %w", err)
	}
	defer f.Close()

	settings, err := quickfix.ParseSettings(f)
	if err != nil {
		return nil, fmt.Errorf("parse fix settings %s: %w", path, err)
	}
	if len(settings.SessionSettings()) == 0 {
		return nil, fmt.Errorf("fix settings %s: no [SESSION] defined", path)
	}
	return settings, nil
}

// NewInitiator wires app to a socket initiator with an in-memory message
// store and session logs routed to log.
func NewInitiator(app quickfix.Application, settings *quickfix.Settings, log *zap.SugaredLogger) (*quickfix.Initiator, error) {
	initiator, err := quickfix.NewInitiator(app, quickfix.NewMemoryStoreFactory(), settings, NewLogFactory(log))
	if err != nil {
		return nil, fmt.Errorf("create initiator: %w", err)
	}
	return initiator, nil
}

type logFactory struct {
	log *zap.SugaredLogger
}

// NewLogFactory routes engine and per-session logs to a zap logger.
// Raw traffic goes out at debug level with "|" separators.
func NewLogFactory(log *zap.SugaredLogger) quickfix.LogFactory {
	return logFactory{log: log}
}

func (f logFactory) Create() (quickfix.Log, error) {
	return zapLog{log: f.log.With("session", "global")}, nil
}

func (f logFactory) CreateSessionLog(id quickfix.SessionID) (quickfix.Log, error) {
	return zapLog{log: f.log.With("session", id.String())}, nil
}

type zapLog struct {
	log *zap.SugaredLogger
}

func (l zapLog) OnIncoming(raw []byte) {
	l.log.Debugw("fix_incoming", "msg", Normalize(string(raw)))
}

func (l zapLog) OnOutgoing(raw []byte) {
	l.log.Debugw("fix_outgoing", "msg", Normalize(string(raw)))
}

func (l zapLog) OnEvent(text string) {
	l.log.Infow("fix_event", "event", text)
}

func (l zapLog) OnEventf(format string, args ...interface{}) {
	l.OnEvent(fmt.Sprintf(format, args...))
}
