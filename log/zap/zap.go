// Package zap adapts a zap logger to viewcache.Logger.
package zap

import (
	"github.com/unkn0wn-root/viewcache"
	"go.uber.org/zap"
)

var _ viewcache.Logger = ZapLogger{}

type ZapLogger struct{ L *zap.Logger }

// New wraps l under the "viewcache" logger name.
func New(l *zap.Logger) ZapLogger { return ZapLogger{L: l.Named("viewcache")} }

func (z ZapLogger) Debug(msg string, f viewcache.Fields) { z.L.Debug(msg, zf(f)...) }
func (z ZapLogger) Info(msg string, f viewcache.Fields)  { z.L.Info(msg, zf(f)...) }
func (z ZapLogger) Warn(msg string, f viewcache.Fields)  { z.L.Warn(msg, zf(f)...) }
func (z ZapLogger) Error(msg string, f viewcache.Fields) { z.L.Error(msg, zf(f)...) }

func zf(f viewcache.Fields) []zap.Field {
	if len(f) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(f))
	for k, v := range f {
		if err, ok := v.(error); ok {
			out = append(out, zap.NamedError(k, err))
			continue
		}
		out = append(out, zap.Any(k, v))
	}
	return out
}
