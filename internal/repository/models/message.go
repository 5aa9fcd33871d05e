package models

import "github.com/cutekitek/fixture-runner/pkg/protocol"

// UnitMessage is sent by a running test unit to the executor over the
// completion channel. Implementations: StartedExecution, Done.
type UnitMessage interface {
	TestName() string
	isUnitMessage()
}

type StartedExecution struct {
	Name string
}

type Done struct {
	Result protocol.TestResult
}

func (m StartedExecution) TestName() string { return m.Name }
func (m Done) TestName() string             { return m.Result.Name }

func (StartedExecution) isUnitMessage() {}
func (Done) isUnitMessage()             {}
