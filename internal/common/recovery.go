package common

import (
	"fmt"
	"runtime/debug"

	log "github.com/sirupsen/logrus"
)

// RecoverFromPanic перехватывает панику в фоновой горутине и пишет её в лог.
// Вызывать через defer в начале горутины.
func RecoverFromPanic(component string) {
	if r := recover(); r != nil {
		log.WithFields(log.Fields{
			"component": component,
			"panic":     fmt.Sprintf("%v", r),
			"stack":     string(debug.Stack()),
		}).Error("ПАНИКА в фоновой задаче — восстановлено")
	}
}
