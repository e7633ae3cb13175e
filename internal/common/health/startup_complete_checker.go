package health

import (
	"errors"
	"sync/atomic"
)

type StartupCompleteChecker struct {
	complete int32
}

func NewStartupCompleteChecker() *StartupCompleteChecker {
	return &StartupCompleteChecker{}
}

func (checker *StartupCompleteChecker) Check() error {
	if atomic.LoadInt32(&checker.complete) == 1 {
		return nil
	}
	return errors.New("startup is not complete")
}

func (checker *StartupCompleteChecker) MarkComplete() {
	atomic.StoreInt32(&checker.complete, 1)
}
