package main

import (
	"context"
	"errors"

	bberrors "github.com/odvcencio/blockbench/pkg/errors"
)

const (
	exitRunFailed   = 1
	exitConfig      = 2
	exitInterrupted = 130
)

type exitCoder interface {
	ExitCode() int
}

type exitError struct {
	code int
	err  error
}

func (e exitError) Error() string {
	if e.err == nil {
		return ""
	}
	return e.err.Error()
}

func (e exitError) Unwrap() error {
	return e.err
}

func (e exitError) ExitCode() int {
	if e.code == 0 {
		return 1
	}
	return e.code
}

func withExitCode(err error, code int) error {
	if err == nil {
		return nil
	}
	return exitError{code: code, err: err}
}

func exitCodeForError(err error) int {
	if err == nil {
		return 0
	}
	var coded exitCoder
	if errors.As(err, &coded) {
		return coded.ExitCode()
	}
	if errors.Is(err, context.Canceled) {
		return exitInterrupted
	}
	switch bberrors.GetCode(err) {
	case bberrors.ErrCodeConfigLoad, bberrors.ErrCodeConfigParse, bberrors.ErrCodeConfigInvalid:
		return exitConfig
	}
	return exitRunFailed
}
