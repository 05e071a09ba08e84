package log

import (
	"time"

	"go.uber.org/zap"
)

// Field is a single key/value pair of structured context.
type Field struct {
	Key   string
	Value interface{}
}

func Str(key, val string) Field               { return Field{Key: key, Value: val} }
func Int(key string, val int) Field           { return Field{Key: key, Value: val} }
func Int64(key string, val int64) Field       { return Field{Key: key, Value: val} }
func Bool(key string, val bool) Field         { return Field{Key: key, Value: val} }
func Dur(key string, val time.Duration) Field { return Field{Key: key, Value: val} }
func Time(key string, val time.Time) Field    { return Field{Key: key, Value: val} }
func Any(key string, val interface{}) Field   { return Field{Key: key, Value: val} }
func Component(name string) Field             { return Field{Key: ComponentKey, Value: name} }
func Strs(key string, vals []string) Field    { return Field{Key: key, Value: vals} }

// Err attaches an error under the "error" key. A nil error yields an empty field.
func Err(err error) Field { return Field{Key: "error", Value: err} }

func toZap(fields []Field) []zap.Field {
	if len(fields) == 0 {
		return nil
	}
	out := make([]zap.Field, 0, len(fields))
	for _, f := range fields {
		switch v := f.Value.(type) {
		case error:
			out = append(out, zap.NamedError(f.Key, v))
		case nil:
			if f.Key == "error" {
				continue
			}
			out = append(out, zap.Any(f.Key, nil))
		default:
			out = append(out, zap.Any(f.Key, v))
		}
	}
	return out
}
