package badgerstore

import (
	"fmt"
	"strings"

	"github.com/go-logr/logr"
)

// logger routes badger's printf style logging into logr.
type logger struct {
	l logr.Logger
}

func (b *logger) Errorf(format string, args ...interface{}) {
	b.l.Error(nil, trim(format, args))
}

func (b *logger) Warningf(format string, args ...interface{}) {
	b.l.Info(trim(format, args))
}

func (b *logger) Infof(format string, args ...interface{}) {
	b.l.V(1).Info(trim(format, args))
}

func (b *logger) Debugf(format string, args ...interface{}) {
	b.l.V(2).Info(trim(format, args))
}

func trim(format string, args []interface{}) string {
	return strings.TrimSpace(fmt.Sprintf(format, args...))
}
