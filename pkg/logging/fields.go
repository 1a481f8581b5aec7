// Copyright (c) 2022 The rcproxy Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package logging

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"
)

// Fields attaches structured RPC context to a log line instead of
// baking it into the format string: which service/method a call or
// dispatch belongs to, which remote endpoint it talks to, and (for
// server-side dispatch) the wire request id. textFormatter renders
// them as trailing key=value pairs, so an aggregator parsing the file
// can filter on them without a format-string regex.
type Fields logrus.Fields

// Call builds Fields for one RPC call or dispatch with only service and
// method set. endpoint and request id are added separately through
// WithEndpoint/WithRequestID, since not every call site has both (a
// client knows the endpoint before it has a request id; a server
// dispatch has the id but not always a peer endpoint worth repeating).
func Call(service, method string) Fields {
	return Fields{"service": service, "method": method}
}

// WithEndpoint returns a copy of f with an endpoint field set, for
// chaining onto Call(...).
func (f Fields) WithEndpoint(endpoint string) Fields {
	return f.with("endpoint", endpoint)
}

// WithRequestID returns a copy of f with a request_id field set.
func (f Fields) WithRequestID(id uint64) Fields {
	return f.with("request_id", id)
}

func (f Fields) with(key string, v interface{}) Fields {
	out := make(Fields, len(f)+1)
	for k, existing := range f {
		out[k] = existing
	}
	out[key] = v
	return out
}

// Entry is a logger bound to a fixed set of Fields; obtained via
// WithFields and reused across the lifetime of a call or connection.
type Entry struct {
	fields logrus.Fields
}

// WithFields binds f to the package's rotating sinks (or stderr
// before InitializeLogger runs), mirroring the package-level
// Debugf/Infof/Warnf/Errorf functions but carrying structured context
// alongside the message.
func WithFields(f Fields) *Entry {
	return &Entry{fields: logrus.Fields(f)}
}

func (e *Entry) Debugf(format string, v ...interface{}) { e.log(logrus.DebugLevel, format, v...) }
func (e *Entry) Infof(format string, v ...interface{})  { e.log(logrus.InfoLevel, format, v...) }
func (e *Entry) Warnf(format string, v ...interface{})  { e.log(logrus.WarnLevel, format, v...) }
func (e *Entry) Errorf(format string, v ...interface{}) { e.log(logrus.ErrorLevel, format, v...) }

func (e *Entry) log(level logrus.Level, format string, v ...interface{}) {
	if logObj == nil {
		fmt.Printf("[%s] "+format+" %v\n", append(append([]interface{}{strings.ToUpper(level.String())}, v...), e.fields)...)
		return
	}
	w := logObj.iWriter
	if level == logrus.WarnLevel || level == logrus.ErrorLevel {
		w = logObj.fWriter
	}
	if !w.IsLevelEnabled(level) {
		return
	}
	entry := w.WithFields(e.fields)
	switch level {
	case logrus.DebugLevel:
		entry.Debugf(format, v...)
	case logrus.InfoLevel:
		entry.Infof(format, v...)
	case logrus.WarnLevel:
		entry.Warnf(format, v...)
	case logrus.ErrorLevel:
		entry.Errorf(format, v...)
	}
}
