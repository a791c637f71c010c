package strategy

import (
	"fmt"

	"github.com/JohnBaeGH/Upbit/internal/model"
)

// PositionState 持仓状态机的两个状态
type PositionState string

const (
	StateFlat PositionState = "FLAT" // 空仓
	StateOpen PositionState = "OPEN" // 持有一个仓位
)

func (s PositionState) String() string {
	return string(s)
}

// Decision 决策结果：操作及其文字原因
type Decision struct {
	Action model.Action
	Reason string
}

func (d Decision) String() string {
	return fmt.Sprintf("%s (%s)", d.Action, d.Reason)
}

func hold(format string, args ...any) Decision {
	return Decision{Action: model.ActionHold, Reason: fmt.Sprintf(format, args...)}
}
