package logger

import (
	"bytes"

	"github.com/nulzo/uniapi/internal/cli"
	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

var bufferPool = buffer.NewPool()

// highlightEncoder colors the JSON field object that zap's console encoder
// appends after the message, separated by a tab.
type highlightEncoder struct {
	zapcore.Encoder
}

func newHighlightEncoder(cfg zapcore.EncoderConfig) zapcore.Encoder {
	return highlightEncoder{Encoder: zapcore.NewConsoleEncoder(cfg)}
}

func (e highlightEncoder) Clone() zapcore.Encoder {
	return highlightEncoder{Encoder: e.Encoder.Clone()}
}

func (e highlightEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	buf, err := e.Encoder.EncodeEntry(ent, fields)
	if err != nil {
		return nil, err
	}

	line := buf.Bytes()
	i := bytes.LastIndex(line, []byte("\t{"))
	if i < 0 {
		return buf, nil
	}

	out := bufferPool.Get()
	_, _ = out.Write(line[:i+1])
	out.AppendString(cli.HighlightJSON(string(line[i+1:])))
	buf.Free()
	return out, nil
}
