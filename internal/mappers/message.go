package mappers

import (
	"fmt"

	"github.com/cutekitek/fixture-runner/internal/repository/models"
	"github.com/cutekitek/fixture-runner/pkg/protocol"
)

func UnitMessageToBackendMessage(msg models.UnitMessage) protocol.Message {
	switch msg := msg.(type) {
	case models.StartedExecution:
		return protocol.ExecutionStarted{TestName: msg.Name}
	case models.Done:
		return protocol.TestCompleted{Result: msg.Result}
	default:
		panic(fmt.Sprintf("mappers: unknown unit message %T", msg))
	}
}
